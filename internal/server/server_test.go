package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/xec/internal/config"
	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/inventory"
	"github.com/danmuck/xec/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

// cannedAdapter returns a fixed exit code and stdout for every call.
type cannedAdapter struct {
	exitCode int
	stdout   string
}

func (a cannedAdapter) IsAvailable(ctx context.Context) bool { return true }

func (a cannedAdapter) Execute(ctx context.Context, cmd engine.Command) (*engine.ExecutionResult, error) {
	return engine.NewResult(cmd, cmd.Target.Type(), time.Now(), a.stdout, "", a.exitCode, ""), nil
}

func (a cannedAdapter) Dispose(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, ad engine.Adapter, hosts string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.New()
	eng.RegisterAdapter(engine.TypeLocal, ad)
	eng.RegisterAdapter(engine.TypeSSH, ad)

	var inv *inventory.Inventory
	if hosts != "" {
		parsed, err := inventory.Parse([]byte(hosts))
		if err != nil {
			t.Fatalf("parse inventory: %v", err)
		}
		inv = parsed
	}
	return New(config.DaemonConfig{Addr: ":0"}, eng, inv)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{}, "")
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" || body["service"] != "xecd" {
		t.Fatalf("body=%v", body)
	}
}

func TestExecuteSuccess(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{stdout: "hi\n"}, "")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command": "echo",
		"args":    []string{"hi"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("body=%v", body)
	}
	if result["stdout"] != "hi\n" || result["exit_code"] != float64(0) {
		t.Fatalf("result=%v", result)
	}
}

func TestExecuteNonZeroExitIs422(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{exitCode: 3}, "")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command": "false",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("body=%v", body)
	}
	if result["exit_code"] != float64(3) {
		t.Fatalf("result=%v", result)
	}
}

func TestExecuteRetryExhaustionReportsAttempts(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{exitCode: 1}, "")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command": "false",
		"retry": map[string]any{
			"max_retries":      2,
			"initial_delay_ms": 1,
		},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["attempts"] != float64(3) {
		t.Fatalf("attempts=%v body=%v", body["attempts"], body)
	}
	results, ok := body["results"].([]any)
	if !ok || len(results) != 3 {
		t.Fatalf("results=%v", body["results"])
	}
}

func TestExecuteNoThrowReturns200(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{exitCode: 3}, "")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command": "false",
		"nothrow": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestExecuteMissingCommandIs400(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{}, "")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"args": []string{"hi"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestExecuteNamedTarget(t *testing.T) {
	testlog.Start(t)
	hosts := `
targets:
  web-1:
    type: ssh
    ssh:
      host: web-1.internal
      username: deploy
      password: secret
`
	s := newTestServer(t, cannedAdapter{stdout: "remote\n"}, hosts)
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command": "hostname",
		"target":  "web-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestExecuteUnknownNamedTargetIs400(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{}, "targets: {}")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command": "hostname",
		"target":  "nope",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestExecuteTargetAndAdapterOptionsConflict(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{}, "targets: {}")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command":         "hostname",
		"target":          "web-1",
		"adapter_options": map[string]any{"type": "local"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestExecuteInlineAdapterOptions(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{stdout: "ok"}, "")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command": "hostname",
		"adapter_options": map[string]any{
			"type":     "ssh",
			"host":     "web-1.internal",
			"username": "deploy",
			"password": "secret",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestExecuteUnknownAdapterTypeIs400(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{}, "")
	w := doJSON(t, s, http.MethodPost, "/v1/execute", map[string]any{
		"command":         "hostname",
		"adapter_options": map[string]any{"type": "teleport"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestTargetsEndpoint(t *testing.T) {
	testlog.Start(t)
	hosts := `
targets:
  box:
    type: local
  web-1:
    type: ssh
    ssh:
      host: h
      username: u
      password: p
`
	s := newTestServer(t, cannedAdapter{}, hosts)
	w := doJSON(t, s, http.MethodGet, "/v1/targets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := decodeBody(t, w)
	targets, ok := body["targets"].([]any)
	if !ok || len(targets) != 2 {
		t.Fatalf("targets=%v", body["targets"])
	}
}

func TestTargetsEndpointWithoutInventory(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, cannedAdapter{}, "")
	w := doJSON(t, s, http.MethodGet, "/v1/targets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := decodeBody(t, w)
	targets, ok := body["targets"].([]any)
	if !ok || len(targets) != 0 {
		t.Fatalf("targets=%v", body["targets"])
	}
}
