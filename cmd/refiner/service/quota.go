package service

import (
	"context"
	"encoding/json"

	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/ratelimit"
)

var meteredKinds = []string{
	string(ratelimit.KindGeneration),
	string(ratelimit.KindImprovement),
}

func quotaKey(ownerID string) string {
	return "quota:" + ownerID
}

// Quota reports remaining limiter quota per kind and today's usage. Reports
// are cached briefly; a limiter error leaves that kind out.
func (s *RefinementService) Quota(ctx context.Context, ownerID string) (*models.QuotaReport, error) {
	if s.cacheCfg.Enabled {
		if raw, ok, err := s.cache.Get(ctx, quotaKey(ownerID)); err == nil && ok {
			var report models.QuotaReport
			if err := json.Unmarshal(raw, &report); err == nil {
				return &report, nil
			}
		}
	}

	report := &models.QuotaReport{
		OwnerID: ownerID,
		Limits:  make(map[string]models.QuotaLimit),
		Usage:   s.usage.Today(ctx, ownerID, meteredKinds),
	}

	if s.limiter != nil {
		for _, kind := range ratelimit.AllKinds() {
			res, err := s.limiter.Peek(ctx, ownerID, kind)
			if err != nil {
				s.log.Warn("quota peek failed", "kind", kind, "error", err)
				continue
			}
			policy, _ := s.limiter.Policy(kind)
			report.Limits[string(kind)] = models.QuotaLimit{
				Limit:         res.Limit,
				Remaining:     res.Remaining,
				WindowSeconds: int64(policy.Window.Seconds()),
				ResetAt:       res.ResetAt.Unix(),
			}
		}
	}

	if s.cacheCfg.Enabled {
		if raw, err := json.Marshal(report); err == nil {
			if err := s.cache.Set(ctx, quotaKey(ownerID), raw, s.cacheCfg.QuotaTTL); err != nil {
				s.log.Debug("quota cache write failed", "error", err)
			}
		}
	}
	return report, nil
}
