package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/refinery/cmd/refiner/adapters"
	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/queue"
)

// memStore is an in-memory PostStore and HookStore
type memStore struct {
	mu       sync.Mutex
	posts    map[uuid.UUID]models.Post
	history  map[uuid.UUID][]models.PostSnapshot
	hooks    map[string][]string
	gets     int
	hookErr  error
	applyErr error
}

func newMemStore() *memStore {
	return &memStore{
		posts:   make(map[uuid.UUID]models.Post),
		history: make(map[uuid.UUID][]models.PostSnapshot),
		hooks:   make(map[string][]string),
	}
}

func (m *memStore) Create(_ context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[post.ID] = clonePost(*post)
	return nil
}

func clonePost(p models.Post) models.Post {
	p.Suggestions = append([]string(nil), p.Suggestions...)
	return p
}

func (m *memStore) owned(id uuid.UUID, owner string) (models.Post, bool) {
	p, ok := m.posts[id]
	if !ok || p.OwnerID != owner {
		return models.Post{}, false
	}
	return p, true
}

func (m *memStore) Get(_ context.Context, id uuid.UUID, owner string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p, ok := m.owned(id, owner)
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := clonePost(p)
	return &c, nil
}

func (m *memStore) RecordScore(_ context.Context, id uuid.UUID, owner string, score float64, suggestions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.owned(id, owner)
	if !ok {
		return errs.ErrNotFound
	}
	p.Score = score
	p.Suggestions = suggestions
	m.posts[id] = p
	return nil
}

func (m *memStore) SetStatus(_ context.Context, id uuid.UUID, owner string, status models.PostStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.owned(id, owner)
	if !ok {
		return errs.ErrNotFound
	}
	p.Status = status
	m.posts[id] = p
	return nil
}

func (m *memStore) ApplyImprovement(_ context.Context, imp models.Improvement) (*models.ImprovementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	p, ok := m.owned(imp.PostID, imp.OwnerID)
	if !ok {
		return nil, errs.ErrNotFound
	}
	if imp.ExpectedVersion != nil && *imp.ExpectedVersion != p.Version {
		return nil, &errs.VersionMismatchError{
			PostID:          imp.PostID.String(),
			ExpectedVersion: *imp.ExpectedVersion,
			CurrentVersion:  p.Version,
		}
	}

	m.history[p.ID] = append(m.history[p.ID], models.PostSnapshot{
		ID:               int64(len(m.history[p.ID]) + 1),
		PostID:           p.ID,
		OwnerID:          p.OwnerID,
		Version:          p.Version,
		Content:          p.Content,
		Score:            p.Score,
		PreviousScore:    p.PreviousScore,
		Suggestions:      p.Suggestions,
		HookID:           p.HookID,
		ImprovementCount: p.ImprovementCount,
		Status:           p.Status,
		SnapshotAt:       time.Now(),
	})

	prev := p.Score
	p.PreviousScore = &prev
	p.Content = imp.Content
	p.Score = imp.Score
	p.Suggestions = imp.Suggestions
	p.Version++
	p.ImprovementCount++
	m.posts[p.ID] = p
	return &models.ImprovementResult{NewVersion: p.Version, ImprovementCount: p.ImprovementCount}, nil
}

func (m *memStore) History(_ context.Context, id uuid.UUID, owner string, limit int) ([]*models.PostSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PostSnapshot
	for i := range m.history[id] {
		s := m.history[id][i]
		if s.OwnerID == owner {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Record(_ context.Context, owner, hookID string, _ time.Time, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hookErr != nil {
		return m.hookErr
	}
	m.hooks[owner] = append([]string{hookID}, m.hooks[owner]...)
	return nil
}

func (m *memStore) Recent(_ context.Context, owner string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hookErr != nil {
		return nil, m.hookErr
	}
	ids := m.hooks[owner]
	if len(ids) > n {
		ids = ids[:n]
	}
	return append([]string(nil), ids...), nil
}

func (m *memStore) post(id uuid.UUID) models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts[id]
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

// fakeGenerator records calls and numbers its rewrites
type fakeGenerator struct {
	mu          sync.Mutex
	generates   int
	excluded    [][]string
	tiers       []models.Tier
	feedback    []string
	genErr      error
	rewriteErr  error
	rewriteGate chan struct{}
}

func (g *fakeGenerator) Generate(_ context.Context, req adapters.GenerateRequest) (*adapters.Draft, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generates++
	g.excluded = append(g.excluded, req.ExcludedHooks)
	if g.genErr != nil {
		return nil, g.genErr
	}
	return &adapters.Draft{Content: "draft about " + req.Topic, HookID: "story"}, nil
}

func (g *fakeGenerator) Rewrite(_ context.Context, req adapters.RewriteRequest) (string, error) {
	if g.rewriteGate != nil {
		<-g.rewriteGate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rewriteErr != nil {
		return "", g.rewriteErr
	}
	g.tiers = append(g.tiers, req.Tier)
	g.feedback = append(g.feedback, req.Feedback)
	return req.Content + " +rev", nil
}

func (g *fakeGenerator) rewrites() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tiers)
}

// seqScorer returns scores in order, repeating the last one
type seqScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
	failAt int // 1-based call number from which every call fails, 0 never
}

var errScorerDown = errors.New("scorer down")

func (s *seqScorer) Score(context.Context, string) (*adapters.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt > 0 && s.calls >= s.failAt {
		return nil, errScorerDown
	}
	i := s.calls - 1
	if i >= len(s.scores) {
		i = len(s.scores) - 1
	}
	return &adapters.Evaluation{Score: s.scores[i], Suggestions: []string{"tighten the hook"}}, nil
}

// recordingQueue captures published messages
type recordingQueue struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func (q *recordingQueue) Publish(_ context.Context, topic, _ string, msg []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.messages == nil {
		q.messages = make(map[string][][]byte)
	}
	q.messages[topic] = append(q.messages[topic], msg)
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, queue.MessageHandler) error {
	return nil
}

func (q *recordingQueue) Close() error { return nil }
