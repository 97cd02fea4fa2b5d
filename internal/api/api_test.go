package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/process"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/registry"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/workerprobe"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeSupervisor records calls and returns canned results.
type fakeSupervisor struct {
	mu        sync.Mutex
	started   []string
	creds     []process.Credentials
	stopped   []string
	outcome   supervisor.Outcome
	startErr  error
	stopRes   supervisor.StopResult
	stopErr   error
	entries   []registry.Entry
	panicOnGo bool
}

func (f *fakeSupervisor) Start(_ context.Context, id string, creds process.Credentials) (supervisor.Outcome, error) {
	if f.panicOnGo {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	f.creds = append(f.creds, creds)
	if f.startErr != nil {
		return supervisor.Outcome{}, f.startErr
	}
	out := f.outcome
	out.SessionID = id
	return out, nil
}

func (f *fakeSupervisor) Stop(_ context.Context, id string) (supervisor.StopResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	res := f.stopRes
	res.SessionID = id
	return res, f.stopErr
}

func (f *fakeSupervisor) List() []registry.Entry {
	return f.entries
}

func (f *fakeSupervisor) Status(id string) (registry.Entry, bool) {
	for _, e := range f.entries {
		if e.SessionID == id {
			return e, true
		}
	}
	return registry.Entry{}, false
}

type fakeProber struct {
	enabled bool
	calls   int
}

func (p *fakeProber) Enabled() bool { return p.enabled }

func (p *fakeProber) Probe(context.Context) workerprobe.Result {
	p.calls++
	return workerprobe.Result{Healthy: true, HealthStatus: http.StatusOK}
}

func newTestServer(t *testing.T, sup Supervisor, prober Prober) *httptest.Server {
	t.Helper()
	s := NewServer(Config{
		Addr:       "127.0.0.1:0",
		Supervisor: sup,
		Prober:     prober,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func get(t *testing.T, ts *httptest.Server, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

const validBody = `{"roomUrl":"wss://lk.example","roomToken":"tok","roomName":"room-42"}`

// =============================================================================
// Tests: start-agent
// =============================================================================

func TestStartAgent_Success(t *testing.T) {
	sup := &fakeSupervisor{outcome: supervisor.Outcome{Message: supervisor.MessageReady, Ready: true, PID: 4242}}
	ts := newTestServer(t, sup, nil)

	code, body := post(t, ts, "/api/start-agent", validBody)

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"status", code, http.StatusOK},
		{"success", body["success"], true},
		{"message", body["message"], supervisor.MessageReady},
		{"ready", body["ready"], true},
		{"pid", body["pid"], 4242.0},
		{"session defaults to room", body["sessionId"], "room-42"},
		{"token forwarded", sup.creds[0].Token, "tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestStartAgent_ExplicitSession(t *testing.T) {
	sup := &fakeSupervisor{outcome: supervisor.Outcome{Message: supervisor.MessageStarting}}
	ts := newTestServer(t, sup, nil)

	code, body := post(t, ts, "/api/start-agent",
		`{"sessionId":"s-1","roomUrl":"wss://x","roomToken":"t","roomName":"r"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if sup.started[0] != "s-1" {
		t.Errorf("started session = %q, want s-1", sup.started[0])
	}
	if body["ready"] != false || body["message"] != supervisor.MessageStarting {
		t.Errorf("body = %v, want not-ready starting message", body)
	}
}

func TestStartAgent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
		wantKind interface{}
	}{
		{
			name:     "bad json",
			body:     `{"roomUrl":`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "Invalid JSON body",
			wantKind: "InvalidRequest",
		},
		{
			name:     "invalid request",
			body:     `{}`,
			err:      &supervisor.Error{Kind: supervisor.KindInvalidRequest, Message: "Missing required parameters: roomUrl"},
			wantCode: http.StatusBadRequest,
			wantMsg:  "Missing required parameters: roomUrl",
			wantKind: "InvalidRequest",
		},
		{
			name:     "environment not ready",
			body:     validBody,
			err:      &supervisor.Error{Kind: supervisor.KindEnvironmentNotReady, Message: "Python executable not found"},
			wantCode: http.StatusInternalServerError,
			wantMsg:  "Python executable not found",
			wantKind: "EnvironmentNotReady",
		},
		{
			name:     "process exited",
			body:     validBody,
			err:      &supervisor.Error{Kind: supervisor.KindProcessExited, Message: "Agent exited with code 1", ExitCode: 1},
			wantCode: http.StatusInternalServerError,
			wantMsg:  "Agent exited with code 1",
			wantKind: "ProcessExited",
		},
		{
			name:     "unclassified",
			body:     validBody,
			err:      errors.New("context canceled"),
			wantCode: http.StatusInternalServerError,
			wantMsg:  "Internal server error: context canceled",
			wantKind: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeSupervisor{startErr: tt.err}, nil)

			code, body := post(t, ts, "/api/start-agent", tt.body)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if msg, _ := body["error"].(string); !strings.HasPrefix(msg, tt.wantMsg) {
				t.Errorf("error = %q, want prefix %q", msg, tt.wantMsg)
			}
			if body["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %v", body["kind"], tt.wantKind)
			}
			if _, ok := body["success"]; ok {
				t.Error("error responses must not carry success")
			}
		})
	}
}

func TestStartAgent_BodyTooLarge(t *testing.T) {
	sup := &fakeSupervisor{}
	s := NewServer(Config{
		Supervisor:   sup,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxBodyBytes: 16,
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	code, _ := post(t, ts, "/api/start-agent", validBody)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if len(sup.started) != 0 {
		t.Error("oversized body must not reach the supervisor")
	}
}

// =============================================================================
// Tests: stop-agent
// =============================================================================

func TestStopAgent(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		res         supervisor.StopResult
		err         error
		wantCode    int
		wantSession string
	}{
		{"by session", `{"sessionId":"s-1"}`, supervisor.StopResult{Stopped: true, PID: 7}, nil, http.StatusOK, "s-1"},
		{"by room", `{"roomName":"room-42"}`, supervisor.StopResult{Message: supervisor.MessageNotFound}, nil, http.StatusOK, "room-42"},
		{"missing", `{}`, supervisor.StopResult{}, nil, http.StatusBadRequest, ""},
		{"failure", `{"sessionId":"s-1"}`, supervisor.StopResult{}, errors.New("kill: operation not permitted"), http.StatusInternalServerError, "s-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := &fakeSupervisor{stopRes: tt.res, stopErr: tt.err}
			ts := newTestServer(t, sup, nil)

			code, body := post(t, ts, "/api/stop-agent", tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %v)", code, tt.wantCode, body)
			}
			if tt.wantSession == "" {
				if len(sup.stopped) != 0 {
					t.Errorf("Stop called with %v", sup.stopped)
				}
				return
			}
			if sup.stopped[0] != tt.wantSession {
				t.Errorf("stopped = %q, want %q", sup.stopped[0], tt.wantSession)
			}
			if code == http.StatusOK && body["stopped"] != tt.res.Stopped {
				t.Errorf("stopped = %v, want %v", body["stopped"], tt.res.Stopped)
			}
		})
	}
}

// =============================================================================
// Tests: agents
// =============================================================================

func TestListAgents(t *testing.T) {
	sup := &fakeSupervisor{entries: []registry.Entry{
		{SessionID: "a", PID: 1, State: "ready"},
		{SessionID: "b", PID: 2, State: "starting"},
	}}
	ts := newTestServer(t, sup, nil)

	code, body := get(t, ts, "/api/agents")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["count"] != 2.0 {
		t.Errorf("count = %v, want 2", body["count"])
	}
	agents, _ := body["agents"].([]interface{})
	if len(agents) != 2 {
		t.Errorf("agents = %v", body["agents"])
	}
}

func TestGetAgent(t *testing.T) {
	sup := &fakeSupervisor{entries: []registry.Entry{{SessionID: "a", PID: 1, State: "ready"}}}

	t.Run("found with probe", func(t *testing.T) {
		prober := &fakeProber{enabled: true}
		ts := newTestServer(t, sup, prober)

		code, body := get(t, ts, "/api/agents/a")
		if code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		agent, _ := body["agent"].(map[string]interface{})
		if agent["pid"] != 1.0 {
			t.Errorf("agent = %v", body["agent"])
		}
		probe, _ := body["probe"].(map[string]interface{})
		if probe["healthy"] != true || prober.calls != 1 {
			t.Errorf("probe = %v, calls = %d", body["probe"], prober.calls)
		}
	})

	t.Run("probe disabled", func(t *testing.T) {
		ts := newTestServer(t, sup, &fakeProber{})
		_, body := get(t, ts, "/api/agents/a")
		if _, ok := body["probe"]; ok {
			t.Error("probe should be omitted when disabled")
		}
	})

	t.Run("not found", func(t *testing.T) {
		ts := newTestServer(t, sup, nil)
		code, body := get(t, ts, "/api/agents/zzz")
		if code != http.StatusNotFound || body["error"] != supervisor.MessageNotFound {
			t.Errorf("got %d %v, want 404 %q", code, body, supervisor.MessageNotFound)
		}
	})
}

// =============================================================================
// Tests: middleware
// =============================================================================

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, &fakeSupervisor{}, nil)

	tests := []struct {
		name string
		sent string
		want func(string) bool
	}{
		{"generated", "", func(id string) bool { return len(id) == 36 }},
		{"echoed", "abc-123", func(id string) bool { return id == "abc-123" }},
		{"sanitized", "abc<script>", func(id string) bool { return id == "abcscript" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/agents", nil)
			if tt.sent != "" {
				req.Header.Set(RequestIDHeader, tt.sent)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if got := resp.Header.Get(RequestIDHeader); !tt.want(got) {
				t.Errorf("%s = %q", RequestIDHeader, got)
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	ts := newTestServer(t, &fakeSupervisor{panicOnGo: true}, nil)

	code, body := post(t, ts, "/api/start-agent", validBody)
	if code != http.StatusInternalServerError || body["error"] != "Internal server error" {
		t.Errorf("got %d %v", code, body)
	}
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t, &fakeSupervisor{}, nil)

	if code, _ := get(t, ts, "/api/nope"); code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", code)
	}
	if code, _ := get(t, ts, "/api/start-agent"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET start-agent = %d, want 405", code)
	}
}

// =============================================================================
// Tests: end to end with a real supervisor
// =============================================================================

// scriptRunner runs a bash script as the worker.
type scriptRunner struct{ script string }

func (r scriptRunner) BuildCommand(_ string, creds process.Credentials) (*exec.Cmd, error) {
	cmd := exec.Command("bash", "-c", r.script)
	cmd.Env = process.Environ(os.Environ(), creds.Vars(nil))
	return cmd, nil
}

func (r scriptRunner) WorkerFiles() (string, string) { return "bash", "agent.py" }
func (r scriptRunner) Signature() string             { return "agent.py start" }
func (r scriptRunner) Name() string                  { return "script" }

func TestEndToEnd_StartListStop(t *testing.T) {
	sup := supervisor.New(supervisor.Config{
		Runner:       scriptRunner{script: `echo "registered worker"; sleep 30`},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		ReadyTimeout: 5 * time.Second,
		KillWait:     2 * time.Second,
		CheckFiles:   func(string, string) error { return nil },
	})
	t.Cleanup(func() {
		sup.StopAll(context.Background())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sup.Wait(ctx)
	})
	ts := newTestServer(t, sup, nil)

	code, body := post(t, ts, "/api/start-agent", validBody)
	if code != http.StatusOK || body["ready"] != true {
		t.Fatalf("start = %d %v", code, body)
	}

	code, body = get(t, ts, "/api/agents/room-42")
	if code != http.StatusOK {
		t.Fatalf("get agent = %d %v", code, body)
	}

	code, body = post(t, ts, "/api/stop-agent", `{"roomName":"room-42"}`)
	if code != http.StatusOK || body["stopped"] != true {
		t.Fatalf("stop = %d %v", code, body)
	}

	code, body = post(t, ts, "/api/stop-agent", `{"roomName":"room-42"}`)
	if code != http.StatusOK || body["stopped"] != false || body["message"] != supervisor.MessageNotFound {
		t.Errorf("second stop = %d %v", code, body)
	}
}
