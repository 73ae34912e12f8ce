package service

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/lyzr/refinery/cmd/refiner/models"
)

// historyState is the part of a post a history patch describes
type historyState struct {
	Content          string            `json:"content"`
	Score            float64           `json:"score"`
	PreviousScore    *float64          `json:"previous_score"`
	Suggestions      []string          `json:"suggestions"`
	HookID           string            `json:"hook_id"`
	ImprovementCount int               `json:"improvement_count"`
	Version          int64             `json:"version"`
	Status           models.PostStatus `json:"status"`
}

func stateOfPost(p *models.Post) historyState {
	return historyState{
		Content:          p.Content,
		Score:            p.Score,
		PreviousScore:    p.PreviousScore,
		Suggestions:      p.Suggestions,
		HookID:           p.HookID,
		ImprovementCount: p.ImprovementCount,
		Version:          p.Version,
		Status:           p.Status,
	}
}

func stateOfSnapshot(s *models.PostSnapshot) historyState {
	return historyState{
		Content:          s.Content,
		Score:            s.Score,
		PreviousScore:    s.PreviousScore,
		Suggestions:      s.Suggestions,
		HookID:           s.HookID,
		ImprovementCount: s.ImprovementCount,
		Version:          s.Version,
		Status:           s.Status,
	}
}

// History returns snapshots most recent first. Each entry carries the JSON
// merge patch that turns the snapshot into the state that replaced it.
func (s *RefinementService) History(ctx context.Context, ownerID string, id uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	switch {
	case limit <= 0:
		limit = s.refine.HistoryPageSize
	case limit > s.refine.HistoryMaxPage:
		limit = s.refine.HistoryMaxPage
	}

	current, err := s.posts.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	snapshots, err := s.posts.History(ctx, id, ownerID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, 0, len(snapshots))
	next := stateOfPost(current)
	for _, snap := range snapshots {
		state := stateOfSnapshot(snap)
		patch, err := mergePatch(state, next)
		if err != nil {
			return nil, fmt.Errorf("history patch for version %d: %w", snap.Version, err)
		}
		entries = append(entries, models.HistoryEntry{PostSnapshot: snap, Patch: patch})
		next = state
	}
	return entries, nil
}

func mergePatch(from, to historyState) (json.RawMessage, error) {
	a, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(to)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.CreateMergePatch(a, b)
	if err != nil {
		return nil, err
	}
	return patch, nil
}
