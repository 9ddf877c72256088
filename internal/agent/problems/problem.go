// Package problems keeps the agent problems raised by subagents. Problems
// live in the local database and feed the agent's health report.
package problems

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

// ErrEmptyKey is returned when a problem has no key.
var ErrEmptyKey = errors.New("problems: empty problem key")

// Problem is a registered agent problem.
type Problem struct {
	Key       string       `json:"key"`
	Severity  sdk.Severity `json:"severity"`
	Message   string       `json:"message"`
	FirstSeen time.Time    `json:"first_seen"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Repository persists problems.
type Repository interface {
	// Upsert stores p. An existing problem under the same key keeps its
	// FirstSeen time.
	Upsert(ctx context.Context, p Problem) error
	// Delete removes the problem under key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns every problem, most severe first, then by key.
	List(ctx context.Context) ([]Problem, error)
}
