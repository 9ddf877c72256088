package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/beacon/internal/agent/notify"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// fakeAgent serves canned JSON for the read-only API.
func fakeAgent(t *testing.T, routes map[string]any, status int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range routes {
		mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.Header.Get("X-Correlation-ID"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	problemsFromDB = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewAPIClient_AddsScheme(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8091", newAPIClient("127.0.0.1:8091", "").base)
	assert.Equal(t, "https://agent.local", newAPIClient("https://agent.local/", "").base)
}

func TestAPIClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var v any
	code, err := newAPIClient(srv.URL, "").getJSON(context.Background(), "/v1/missing", &v)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProblemsList(t *testing.T) {
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := fakeAgent(t, map[string]any{
		"/v1/problems": []map[string]any{
			{"key": "disk.full", "severity": int(sdk.SeverityCritical), "message": "disk / is full", "first_seen": since, "updated_at": since},
		},
	}, http.StatusOK)

	out, err := runCLI(t, "--addr", srv.URL, "problems", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "critical")
	assert.Contains(t, out, "disk.full")
	assert.Contains(t, out, "disk / is full")
}

func TestProblemsList_Empty(t *testing.T) {
	srv := fakeAgent(t, map[string]any{"/v1/problems": []any{}}, http.StatusOK)

	out, err := runCLI(t, "--addr", srv.URL, "problems", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "No active problems.")
}

func TestSessionsList(t *testing.T) {
	srv := fakeAgent(t, map[string]any{
		"/v1/sessions": []map[string]any{
			{"id": 1, "server_id": 0, "address": "local", "can_accept_traps": true, "sent": 4, "dropped": 0, "connected_at": time.Now()},
		},
	}, http.StatusOK)

	out, err := runCLI(t, "--addr", srv.URL, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ADDRESS")
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "true")
}

func TestParametersList(t *testing.T) {
	srv := fakeAgent(t, map[string]any{
		"/v1/parameters": []map[string]any{
			{"name": "Process.Goroutines", "value": "12", "data_type": 0, "timestamp": time.Now()},
		},
	}, http.StatusOK)

	out, err := runCLI(t, "--addr", srv.URL, "parameters", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Process.Goroutines")
	assert.Contains(t, out, "12")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  observability.HealthStatus
		code    int
		wantErr error
	}{
		{name: "healthy", status: observability.HealthStatusHealthy, code: http.StatusOK},
		{name: "degraded", status: observability.HealthStatusDegraded, code: http.StatusOK},
		{name: "unhealthy", status: observability.HealthStatusUnhealthy, code: http.StatusServiceUnavailable, wantErr: ErrUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeAgent(t, map[string]any{
				"/readyz": observability.OverallHealth{
					Status: tt.status,
					Checks: map[string]observability.HealthCheckResult{
						"problems": {Status: tt.status, Message: "checked"},
					},
				},
			}, tt.code)

			out, err := runCLI(t, "--addr", srv.URL, "health")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out, "status: "+string(tt.status))
			assert.Contains(t, out, "problems")
		})
	}
}

func TestHealth_AgentDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := runCLI(t, "--addr", addr, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent not reachable")
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "beacon-agent "+Version)
}

func TestNotificationPrinter(t *testing.T) {
	msg := sdk.NewNotificationMessage(sdk.CmdTrap, 7)
	defer msg.Dispose()
	msg.SetUint32(sdk.FieldEventCode, 1001)
	msg.SetString(sdk.FieldEventName, "SYS_EVT")

	env, err := notify.NewEnvelope(msg)
	require.NoError(t, err)
	payload, err := env.Encode()
	require.NoError(t, err)

	var out bytes.Buffer
	h := notificationPrinter(&out)
	assert.Equal(t, []string{notify.RoutingPattern}, h.Patterns())

	err = h.Handle(context.Background(), eventbus.Delivery{RoutingKey: notify.RoutingKey(sdk.CmdTrap), Payload: payload})
	require.NoError(t, err)
	assert.Contains(t, out.String(), notify.RoutingKey(sdk.CmdTrap))
	assert.Contains(t, out.String(), "id=7")
	assert.Contains(t, out.String(), "SYS_EVT")
}

func TestNotificationPrinter_BadPayload(t *testing.T) {
	h := notificationPrinter(io.Discard)
	err := h.Handle(context.Background(), eventbus.Delivery{Payload: []byte("not json")})
	assert.Error(t, err)
}
