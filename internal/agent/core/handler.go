package core

import (
	"encoding/json"
	"net/http"

	"github.com/felixgeelhaar/beacon/internal/agent/datacoll"
	"github.com/felixgeelhaar/beacon/internal/agent/problems"
	"github.com/felixgeelhaar/beacon/internal/agent/session"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/workerpool"
	"github.com/felixgeelhaar/beacon/internal/subagent/registry"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// Status is the agent summary served at /v1/status.
type Status struct {
	Pool          workerpool.Stats `json:"pool"`
	Outbox        outbox.Stats     `json:"outbox"`
	EventsPosted  uint64           `json:"events_posted"`
	Queued        uint64           `json:"notifications_queued"`
	Dropped       uint64           `json:"notifications_dropped"`
	Sessions      int              `json:"sessions"`
	DebugLevel    int              `json:"debug_level"`
	Capabilities  []string         `json:"capabilities"`
	SubagentCount int              `json:"subagents"`
}

// SubagentInfo is one entry of /v1/subagents.
type SubagentInfo struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Status  registry.Status `json:"status"`
	Error   string          `json:"error,omitempty"`
	Missing []string        `json:"missing_capabilities,omitempty"`
}

// Handler serves health, metrics and read-only agent state.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", observability.LivenessHandler())
	mux.Handle("GET /readyz", a.Health.ReadinessHandler())
	mux.Handle("GET /metrics", a.Metrics.Handler())

	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.Status())
	})
	mux.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, _ *http.Request) {
		list := a.Sessions.List()
		if list == nil {
			list = []session.Info{}
		}
		writeJSON(w, list)
	})
	mux.HandleFunc("GET /v1/problems", func(w http.ResponseWriter, r *http.Request) {
		list, err := a.Problems.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []problems.Problem{}
		}
		writeJSON(w, list)
	})
	mux.HandleFunc("GET /v1/parameters", func(w http.ResponseWriter, r *http.Request) {
		list, err := a.Data.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []datacoll.Value{}
		}
		writeJSON(w, list)
	})
	mux.HandleFunc("GET /v1/subagents", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.SubagentInfo())
	})
	return mux
}

// Status summarizes the running agent.
func (a *Agent) Status() Status {
	queued, dropped := a.Notifications.Stats()
	caps := a.bridge.Configured().ToSlice()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return Status{
		Pool:          a.Pool.Stats(),
		Outbox:        a.Outbox.GetStats(),
		EventsPosted:  a.Events.GeneratedCount(),
		Queued:        queued,
		Dropped:       dropped,
		Sessions:      a.Sessions.Count(),
		DebugLevel:    a.LogWriter.DebugLevel(),
		Capabilities:  names,
		SubagentCount: len(a.Subagents.List()),
	}
}

// SubagentInfo lists the registered subagents.
func (a *Agent) SubagentInfo() []SubagentInfo {
	entries := a.Subagents.List()
	out := make([]SubagentInfo, len(entries))
	for i, e := range entries {
		info := SubagentInfo{ID: e.Metadata.ID, Version: e.Metadata.Version, Status: e.Status}
		if e.Error != nil {
			info.Error = e.Error.Error()
		}
		for _, c := range e.Missing {
			info.Missing = append(info.Missing, c.String())
		}
		out[i] = info
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
