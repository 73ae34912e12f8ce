package ratelimit

import (
	"fmt"
	"time"

	"github.com/lyzr/refinery/common/config"
)

// Kind is an independently limited resource
type Kind string

const (
	KindGeneration  Kind = "generation"  // new posts
	KindImprovement Kind = "improvement" // rewrite iterations
	KindAPI         Kind = "api"         // every API call
)

// Policy is a sliding-window limit for one kind
type Policy struct {
	Limit  int64
	Window time.Duration
}

// Default policies
var DefaultPolicies = map[Kind]Policy{
	KindGeneration:  {Limit: 10, Window: 60 * time.Second},
	KindImprovement: {Limit: 20, Window: time.Hour},
	KindAPI:         {Limit: 100, Window: time.Hour},
}

// AllKinds returns every kind in reporting order
func AllKinds() []Kind {
	return []Kind{KindGeneration, KindImprovement, KindAPI}
}

// PoliciesFromConfig builds the policy table from configuration
func PoliciesFromConfig(cfg config.RateLimitConfig) map[Kind]Policy {
	return map[Kind]Policy{
		KindGeneration:  {Limit: cfg.Generation.Limit, Window: cfg.Generation.Window},
		KindImprovement: {Limit: cfg.Improvement.Limit, Window: cfg.Improvement.Window},
		KindAPI:         {Limit: cfg.API.Limit, Window: cfg.API.Window},
	}
}

func windowKey(kind Kind, ownerID string) string {
	return fmt.Sprintf("rate_limit:%s:%s", kind, ownerID)
}
