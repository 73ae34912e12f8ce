package service

import (
	"context"
	"time"

	"github.com/lyzr/refinery/cmd/refiner/repository"
	"github.com/lyzr/refinery/common/logger"
)

// HookLedgerService tracks which hooks an owner used recently. It is
// advisory: store failures are logged and never fail a refinement.
type HookLedgerService struct {
	store  repository.HookStore
	retain int
	log    *logger.Logger
	now    func() time.Time
}

// NewHookLedgerService creates a new hook ledger service
func NewHookLedgerService(store repository.HookStore, retain int, log *logger.Logger) *HookLedgerService {
	return &HookLedgerService{
		store:  store,
		retain: retain,
		log:    log,
		now:    time.Now,
	}
}

// Record appends a usage
func (s *HookLedgerService) Record(ctx context.Context, ownerID, hookID string) {
	if hookID == "" {
		return
	}
	if err := s.store.Record(ctx, ownerID, hookID, s.now().UTC(), s.retain); err != nil {
		s.log.Warn("failed to record hook usage",
			"owner_id", ownerID,
			"hook_id", hookID,
			"error", err,
		)
	}
}

// Recent returns up to n recently used hook ids; empty on any error
func (s *HookLedgerService) Recent(ctx context.Context, ownerID string, n int) []string {
	ids, err := s.store.Recent(ctx, ownerID, n)
	if err != nil {
		s.log.Warn("hook ledger unavailable, selecting without exclusions",
			"owner_id", ownerID,
			"error", err,
		)
		return nil
	}
	return ids
}
