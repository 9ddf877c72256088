package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// ErrNoHandler is returned by Dispatch when no handler matches a routing key.
var ErrNoHandler = errors.New("no handler for routing key")

// HandlerRegistry manages handlers and dispatches deliveries to them.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry(logger *slog.Logger) *HandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandlerRegistry{logger: logger}
}

// Register adds a handler for its declared patterns.
func (r *HandlerRegistry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, h)
	r.logger.Debug("registered handler", "patterns", h.Patterns())
}

// Matching returns the handlers with at least one pattern matching routingKey.
func (r *HandlerRegistry) Matching(routingKey string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Handler
	for _, h := range r.handlers {
		for _, p := range h.Patterns() {
			if MatchTopic(p, routingKey) {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// Patterns returns the union of all registered patterns.
func (r *HandlerRegistry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, h := range r.handlers {
		for _, p := range h.Patterns() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Dispatch hands d to every matching handler. All handlers run even when one
// fails; the errors are joined.
func (r *HandlerRegistry) Dispatch(ctx context.Context, d Delivery) error {
	handlers := r.Matching(d.RoutingKey)
	if len(handlers) == 0 {
		return ErrNoHandler
	}

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, d); err != nil {
			r.logger.Warn("handler failed",
				"routing_key", d.RoutingKey,
				"message_id", d.MessageID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of registered handlers.
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// MatchTopic reports whether key matches an AMQP topic pattern.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
