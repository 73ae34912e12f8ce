package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/refinery/cmd/refiner/adapters"
	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/cmd/refiner/policy"
	"github.com/lyzr/refinery/cmd/refiner/repository"
	"github.com/lyzr/refinery/common/cache"
	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/logger"
	"github.com/lyzr/refinery/common/queue"
	"github.com/lyzr/refinery/common/ratelimit"
	"github.com/lyzr/refinery/common/retry"
	"github.com/lyzr/refinery/common/telemetry"
)

// EventPostFinalized is published when a post reaches final
const EventPostFinalized = "post.finalized"

// RefinementDeps wires a RefinementService
type RefinementDeps struct {
	Posts     repository.PostStore
	Ledger    *HookLedgerService
	Generator adapters.TextGenerator
	Scorer    adapters.TextScorer
	Policy    *policy.Policy
	Cache     cache.Cache
	Usage     *UsageMeter
	Limiter   *ratelimit.Limiter   // optional, quota reports only
	Queue     queue.Queue          // optional, finalized handoff
	Telemetry *telemetry.Telemetry // optional
	Config    *config.Config
	Logger    *logger.Logger
}

// RefinementService runs the generate, score, rewrite loop
type RefinementService struct {
	posts     repository.PostStore
	ledger    *HookLedgerService
	generator adapters.TextGenerator
	scorer    adapters.TextScorer
	policy    *policy.Policy
	cache     cache.Cache
	usage     *UsageMeter
	limiter   *ratelimit.Limiter
	queue     queue.Queue
	telemetry *telemetry.Telemetry

	refine     config.RefinementConfig
	cacheCfg   config.CacheConfig
	stream     string
	genRetry   retry.Policy
	scoreRetry retry.Policy
	log        *logger.Logger
	now        func() time.Time
}

// NewRefinementService creates a new refinement service
func NewRefinementService(d RefinementDeps) *RefinementService {
	rc := d.Config.Refinement
	return &RefinementService{
		posts:     d.Posts,
		ledger:    d.Ledger,
		generator: d.Generator,
		scorer:    d.Scorer,
		policy:    d.Policy,
		cache:     d.Cache,
		usage:     d.Usage,
		limiter:   d.Limiter,
		queue:     d.Queue,
		telemetry: d.Telemetry,
		refine:    rc,
		cacheCfg:  d.Config.Cache,
		stream:    d.Config.Queue.Stream,
		genRetry: retry.Policy{
			Attempts:  rc.RetryAttempts,
			BaseDelay: rc.RetryBaseDelay,
			Timeout:   rc.GenerationTimeout,
		},
		scoreRetry: retry.Policy{
			Attempts:  rc.RetryAttempts,
			BaseDelay: rc.RetryBaseDelay,
			Timeout:   rc.ScoringTimeout,
		},
		log: d.Logger,
		now: time.Now,
	}
}

func (s *RefinementService) event(name string, attrs map[string]any) {
	if s.telemetry != nil {
		s.telemetry.RecordEvent(name, attrs)
	}
}

func (s *RefinementService) generate(ctx context.Context, req adapters.GenerateRequest) (*adapters.Draft, error) {
	return retry.Value(ctx, s.genRetry, errs.BackendGenerator, s.log, func(ctx context.Context) (*adapters.Draft, error) {
		return s.generator.Generate(ctx, req)
	})
}

func (s *RefinementService) rewrite(ctx context.Context, req adapters.RewriteRequest) (string, error) {
	return retry.Value(ctx, s.genRetry, errs.BackendGenerator, s.log, func(ctx context.Context) (string, error) {
		return s.generator.Rewrite(ctx, req)
	})
}

func (s *RefinementService) score(ctx context.Context, content string) (*adapters.Evaluation, error) {
	return retry.Value(ctx, s.scoreRetry, errs.BackendScorer, s.log, func(ctx context.Context) (*adapters.Evaluation, error) {
		return s.scorer.Score(ctx, content)
	})
}

// Refine generates a post and improves it until the policy accepts it.
// On a backend failure the post keeps its last committed state and the error
// matches errs.ErrGenerationUnavailable or errs.ErrScoringUnavailable.
func (s *RefinementService) Refine(ctx context.Context, ownerID string, req models.RefineRequest) (*models.Post, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errs.Validationf("owner is required")
	}
	if strings.TrimSpace(req.Topic) == "" {
		return nil, errs.Validationf("topic is required")
	}

	start := s.now()
	log := s.log.WithOwnerID(ownerID)

	// DRAFTED
	excluded := s.ledger.Recent(ctx, ownerID, s.refine.RecentHookWindow)
	draft, err := s.generate(ctx, adapters.GenerateRequest{
		Topic:         req.Topic,
		Style:         req.Style,
		VoiceProfile:  req.VoiceProfile,
		ExcludedHooks: excluded,
	})
	if err != nil {
		log.Warn("generation unavailable", "error", err)
		return nil, err
	}

	now := s.now().UTC()
	post := &models.Post{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Topic:        req.Topic,
		Style:        req.Style,
		VoiceProfile: req.VoiceProfile,
		Content:      draft.Content,
		Suggestions:  []string{},
		HookID:       draft.HookID,
		Status:       models.StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to persist draft: %w", err)
	}
	s.ledger.Record(ctx, ownerID, draft.HookID)

	log = log.WithPostID(post.ID.String())
	log.Info("post drafted", "hook_id", draft.HookID, "excluded_hooks", len(excluded))

	// SCORED
	eval, err := s.score(ctx, post.Content)
	if err != nil {
		log.Warn("scoring unavailable", "error", err)
		return nil, err
	}
	if err := s.posts.RecordScore(ctx, post.ID, ownerID, eval.Score, eval.Suggestions); err != nil {
		return nil, fmt.Errorf("failed to record score: %w", err)
	}
	post.Score = eval.Score
	post.Suggestions = eval.Suggestions

	for {
		state := policy.State{Score: post.Score, ImprovementCount: post.ImprovementCount}
		accepted, err := s.policy.Accept(state)
		if err != nil {
			return nil, err
		}
		if accepted || post.ImprovementCount >= s.refine.MaxIterations {
			break
		}

		// IMPROVING
		tier, err := s.policy.Tier(state)
		if err != nil {
			return nil, err
		}
		if tier == models.TierEscalated {
			s.event("tier_escalated", map[string]any{
				"post_id":           post.ID.String(),
				"improvement_count": post.ImprovementCount,
				"score":             post.Score,
			})
		}

		if err := s.improveOnce(ctx, post, tier, ""); err != nil {
			log.Warn("refinement stopped", "improvement_count", post.ImprovementCount, "error", err)
			return nil, err
		}
		log.Info("post improved",
			"version", post.Version,
			"improvement_count", post.ImprovementCount,
			"score", post.Score,
			"tier", tier,
		)
	}

	// FINAL
	if err := s.posts.SetStatus(ctx, post.ID, ownerID, models.StatusFinal); err != nil {
		return nil, fmt.Errorf("failed to finalize post: %w", err)
	}
	post.Status = models.StatusFinal
	post.UpdatedAt = s.now().UTC()

	s.cachePost(ctx, post)
	s.usage.Track(ctx, ownerID, string(ratelimit.KindGeneration))
	s.publishFinalized(ctx, post)

	if s.telemetry != nil {
		s.telemetry.RecordDuration("refine", start)
	}
	s.event("post_finalized", map[string]any{
		"post_id":           post.ID.String(),
		"score":             post.Score,
		"improvement_count": post.ImprovementCount,
	})
	log.Info("post finalized",
		"score", post.Score,
		"improvement_count", post.ImprovementCount,
		"version", post.Version,
	)

	return post, nil
}

// improveOnce rewrites, scores and applies one improvement to post in place.
// Nothing is written unless both backend calls succeed.
func (s *RefinementService) improveOnce(ctx context.Context, post *models.Post, tier models.Tier, feedback string) error {
	content, err := s.rewrite(ctx, adapters.RewriteRequest{
		Topic:        post.Topic,
		Style:        post.Style,
		VoiceProfile: post.VoiceProfile,
		HookID:       post.HookID,
		Content:      post.Content,
		Suggestions:  post.Suggestions,
		Feedback:     feedback,
		Tier:         tier,
	})
	if err != nil {
		return err
	}

	eval, err := s.score(ctx, content)
	if err != nil {
		return err
	}

	expected := post.Version
	res, err := s.posts.ApplyImprovement(ctx, models.Improvement{
		PostID:          post.ID,
		OwnerID:         post.OwnerID,
		ExpectedVersion: &expected,
		Content:         content,
		Score:           eval.Score,
		Suggestions:     eval.Suggestions,
	})
	if err != nil {
		return err
	}

	prev := post.Score
	post.PreviousScore = &prev
	post.Content = content
	post.Score = eval.Score
	post.Suggestions = eval.Suggestions
	post.Version = res.NewVersion
	post.ImprovementCount = res.ImprovementCount
	post.UpdatedAt = s.now().UTC()
	return nil
}

// Improve runs one caller-triggered improvement. The post keeps its status;
// a stale ExpectedVersion fails with *errs.VersionMismatchError.
func (s *RefinementService) Improve(ctx context.Context, ownerID string, id uuid.UUID, req models.ImproveRequest) (*models.ImproveResult, error) {
	post, err := s.posts.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	// fail before spending backend calls
	if req.ExpectedVersion != nil && *req.ExpectedVersion != post.Version {
		return nil, &errs.VersionMismatchError{
			PostID:          id.String(),
			ExpectedVersion: *req.ExpectedVersion,
			CurrentVersion:  post.Version,
		}
	}

	tier, err := s.policy.Tier(policy.State{Score: post.Score, ImprovementCount: post.ImprovementCount})
	if err != nil {
		return nil, err
	}

	previous := post.Score
	if err := s.improveOnce(ctx, post, tier, strings.TrimSpace(req.Feedback)); err != nil {
		return nil, err
	}

	s.invalidatePost(ctx, ownerID, id)
	s.usage.Track(ctx, ownerID, string(ratelimit.KindImprovement))
	s.event("post_improved", map[string]any{
		"post_id": id.String(),
		"tier":    string(tier),
		"delta":   post.Score - previous,
	})
	s.log.WithOwnerID(ownerID).WithPostID(id.String()).Info("manual improvement applied",
		"version", post.Version,
		"score", post.Score,
		"previous_score", previous,
	)

	return &models.ImproveResult{
		PostID:           id,
		NewVersion:       post.Version,
		NewScore:         post.Score,
		PreviousScore:    previous,
		ImprovementCount: post.ImprovementCount,
		Suggestions:      post.Suggestions,
		Escalated:        tier == models.TierEscalated,
	}, nil
}

func postKey(ownerID string, id uuid.UUID) string {
	return fmt.Sprintf("post:%s:%s", ownerID, id)
}

func (s *RefinementService) cachePost(ctx context.Context, post *models.Post) {
	if !s.cacheCfg.Enabled {
		return
	}
	raw, err := json.Marshal(post)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, postKey(post.OwnerID, post.ID), raw, s.cacheCfg.PostTTL); err != nil {
		s.log.Debug("post cache write failed", "error", err)
	}
}

func (s *RefinementService) invalidatePost(ctx context.Context, ownerID string, id uuid.UUID) {
	if err := s.cache.Delete(ctx, postKey(ownerID, id)); err != nil {
		s.log.Debug("post cache delete failed", "error", err)
	}
}

// GetPost returns a post, read through the cache
func (s *RefinementService) GetPost(ctx context.Context, ownerID string, id uuid.UUID) (*models.Post, error) {
	if s.cacheCfg.Enabled {
		if raw, ok, err := s.cache.Get(ctx, postKey(ownerID, id)); err == nil && ok {
			var post models.Post
			if err := json.Unmarshal(raw, &post); err == nil {
				return &post, nil
			}
		}
	}

	post, err := s.posts.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	s.cachePost(ctx, post)
	return post, nil
}

type finalizedEvent struct {
	Event            string    `json:"event"`
	PostID           uuid.UUID `json:"post_id"`
	OwnerID          string    `json:"owner_id"`
	Version          int64     `json:"version"`
	Score            float64   `json:"score"`
	ImprovementCount int       `json:"improvement_count"`
	FinalizedAt      time.Time `json:"finalized_at"`
}

// publishFinalized hands the post to the external publisher. Failures are
// logged only; the post is already final.
func (s *RefinementService) publishFinalized(ctx context.Context, post *models.Post) {
	if s.queue == nil || s.stream == "" {
		return
	}

	msg, err := json.Marshal(finalizedEvent{
		Event:            EventPostFinalized,
		PostID:           post.ID,
		OwnerID:          post.OwnerID,
		Version:          post.Version,
		Score:            post.Score,
		ImprovementCount: post.ImprovementCount,
		FinalizedAt:      post.UpdatedAt,
	})
	if err != nil {
		return
	}

	if err := s.queue.Publish(ctx, s.stream, post.ID.String(), msg); err != nil {
		s.log.Warn("failed to publish finalized post",
			"post_id", post.ID,
			"stream", s.stream,
			"error", err,
		)
	}
}
