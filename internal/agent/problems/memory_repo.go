package problems

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryRepository keeps problems in memory.
type MemoryRepository struct {
	mu       sync.Mutex
	problems map[string]Problem
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{problems: make(map[string]Problem)}
}

func (r *MemoryRepository) Upsert(_ context.Context, p Problem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.problems[p.Key]; ok {
		p.FirstSeen = existing.FirstSeen
	}
	r.problems[p.Key] = p
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.problems[key]
	delete(r.problems, key)
	return ok, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Problem, error) {
	r.mu.Lock()
	out := make([]Problem, 0, len(r.problems))
	for _, p := range r.problems {
		out = append(out, p)
	}
	r.mu.Unlock()

	slices.SortFunc(out, compareProblems)
	return out, nil
}

func compareProblems(a, b Problem) int {
	if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}
