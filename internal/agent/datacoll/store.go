package datacoll

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

// ErrValueNotFound is returned when no value was pushed under a name.
var ErrValueNotFound = errors.New("datacoll: value not found")

// Value is the latest value pushed for a parameter.
type Value struct {
	Name      string       `json:"name"`
	Value     string       `json:"value"`
	DataType  sdk.DataType `json:"data_type"`
	Timestamp time.Time    `json:"timestamp"`
}

// ValueStore keeps the latest value per parameter name.
type ValueStore interface {
	Put(ctx context.Context, v Value) error
	Get(ctx context.Context, name string) (Value, error)
	List(ctx context.Context) ([]Value, error)
}

// MemoryStore is an in-process ValueStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]Value
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]Value)}
}

// Put implements ValueStore.
func (s *MemoryStore) Put(_ context.Context, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[v.Name] = v
	return nil
}

// Get implements ValueStore.
func (s *MemoryStore) Get(_ context.Context, name string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok {
		return Value{}, ErrValueNotFound
	}
	return v, nil
}

// List implements ValueStore. Values are ordered by name.
func (s *MemoryStore) List(_ context.Context) ([]Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Value, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	sortByName(out)
	return out, nil
}

func sortByName(values []Value) {
	slices.SortFunc(values, func(a, b Value) int { return strings.Compare(a.Name, b.Name) })
}
