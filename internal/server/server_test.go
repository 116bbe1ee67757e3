package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/webterm/internal/assistant"
	"github.com/GriffinCanCode/webterm/internal/auth"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/terminal"
)

const testSecret = "server-test-secret"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Terminal.WorkspaceRoot = filepath.Join(dir, "workspace")
	cfg.Store.DatabasePath = filepath.Join(dir, "webterm.db")
	cfg.Auth.Secret = testSecret
	cfg.Logging.Development = true
	cfg.Logging.Level = "error"
	cfg.Ops.GRPCHealthAddr = ""
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func bearer(t *testing.T, user string) string {
	t.Helper()
	jwt, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)
	token, err := jwt.CreateToken(auth.Principal{UserID: user})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	require.NoError(t, s.store.CreateSession(context.Background(), auth.SessionInfo{ID: "S1", Name: "dev", OwnerID: "alice"}))

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		want   int
	}{
		{"banner", http.MethodGet, "/", "", http.StatusOK},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"ws status", http.MethodGet, "/ws/status", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"terminal status needs a credential", http.MethodGet, "/terminals/S1", "", http.StatusUnauthorized},
		{"terminal status", http.MethodGet, "/terminals/S1", "alice", http.StatusOK},
		{"terminate", http.MethodDelete, "/terminals/S1?kind=all", "alice", http.StatusOK},
		{"no assistant yet", http.MethodGet, "/assistant/S1/messages", "alice", http.StatusNotFound},
		{"assistant status", http.MethodGet, "/assistant/S1/status", "alice", http.StatusOK},
		{"list sessions", http.MethodGet, "/sessions", "alice", http.StatusOK},
		{"create session", http.MethodPost, "/sessions", "alice", http.StatusCreated},
		{"websocket without credential", http.MethodGet, "/ws/S1", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.user != "" {
				req.Header.Set("Authorization", bearer(t, tt.user))
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
		})
	}
}

func TestServerBannerReportsVersion(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, "webterm", body["service"])
}

func TestServerMetricsCanBeDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ops.MetricsEnabled = false
	s := newTestServer(t, cfg)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerLaunch(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)
	layout := paths.New(cfg.Terminal.WorkspaceRoot)

	mgr, err := s.launch(terminal.Key{SessionID: "S1", Kind: terminal.KindBasic}, false)
	require.NoError(t, err)
	assert.IsType(t, &terminal.Plain{}, mgr)
	assert.Equal(t, layout.SessionDir("S1"), mgr.Info().WorkDir)

	_, err = s.launch(terminal.Key{SessionID: "S1", Kind: terminal.KindAssisted}, false)
	assert.ErrorIs(t, err, terminal.ErrNotEntitled)

	mgr, err = s.launch(terminal.Key{SessionID: "S1", Kind: terminal.KindAssisted}, true)
	require.NoError(t, err)
	sub, ok := mgr.Assistant().(*assistant.Session)
	require.True(t, ok)
	assert.Equal(t, layout.SessionDir("S1"), sub.WorkDir())
	assert.Equal(t, "echo", sub.Backend().Name())

	_, err = s.launch(terminal.Key{SessionID: "..", Kind: terminal.KindBasic}, false)
	assert.Error(t, err)
}

func TestNewServerRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		errMsg string
	}{
		{"unknown backend", func(cfg *config.Config) { cfg.Assistant.Backend = "oracle" }, "unknown assistant backend"},
		{"http backend without url", func(cfg *config.Config) { cfg.Assistant.Backend = "http" }, "assistant backend"},
		{"missing profile", func(cfg *config.Config) { cfg.Assistant.Profile = "missing.yaml" }, "assistant profile"},
		{"bad static key", func(cfg *config.Config) { cfg.Auth.StaticKeys = []string{"no-separator"} }, "static keys"},
		{"missing seed", func(cfg *config.Config) { cfg.Store.SeedPath = "/nonexistent/seed.yaml" }, "seed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := NewServer(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewServerAppliesSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.SeedPath = filepath.Join(t.TempDir(), "seed.yaml")
	seed := "sessions:\n  - id: demo\n    owner: alice\n    members:\n      bob: member\nsubscriptions:\n  - user: bob\n    plan: pro\n"
	require.NoError(t, os.WriteFile(cfg.Store.SeedPath, []byte(seed), 0o600))

	s := newTestServer(t, cfg)

	info, err := s.store.Session(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.OwnerID)

	entitled, err := s.store.AssistantEntitled(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, entitled)

	req := httptest.NewRequest(http.MethodGet, "/terminals/demo", nil)
	req.Header.Set("Authorization", bearer(t, "bob"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// recordingTransport keeps every text frame written to it
type recordingTransport struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (r *recordingTransport) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) SetWriteDeadline(time.Time) error { return nil }
func (r *recordingTransport) Close() error                     { return nil }

func (r *recordingTransport) outputs() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, f := range r.frames {
		if f["type"] == "terminal" {
			out = append(out, f["data"].(map[string]any))
		}
	}
	return out
}

func TestFanoutTagsProducingTerminal(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	tr := &recordingTransport{}
	s.conns.Connect(tr, "alice", "S1")

	s.fanout(terminal.Key{SessionID: "S1", Kind: terminal.KindBasic}, []byte("ls\r\n"))
	s.fanout(terminal.Key{SessionID: "S1", Kind: terminal.KindAssisted}, []byte("\xe3\x81"))
	s.fanout(terminal.Key{SessionID: "S2", Kind: terminal.KindBasic}, []byte("other session"))

	assert.Eventually(t, func() bool { return len(tr.outputs()) == 2 }, 2*time.Second, 5*time.Millisecond)
	outputs := tr.outputs()
	require.Len(t, outputs, 2)
	assert.Equal(t, "basic", outputs[0]["terminal"])
	assert.Equal(t, "ls\r\n", outputs[0]["command"])
	assert.Equal(t, "assisted", outputs[1]["terminal"])
	assert.Equal(t, "\uFFFD", outputs[1]["command"])
}

func TestNewBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{"", "echo"},
		{"echo", "echo"},
		{"CLI", "cli"},
	}

	for _, tt := range tests {
		b, err := newBackend(config.AssistantConfig{Backend: tt.backend, Binary: "claude"}, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, b.Name())
	}

	b, err := newBackend(config.AssistantConfig{Backend: "http", URL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http", b.Name())
}

func TestLoadProfileResolvesUnderWorkspace(t *testing.T) {
	layout := paths.New(t.TempDir())
	require.NoError(t, os.MkdirAll(layout.ProfilesDir(), 0o755))
	data := "system_prompt: Review only\npermission_mode: plan\nmax_turns: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(layout.ProfilesDir(), "review.yaml"), []byte(data), 0o644))

	profile, err := loadProfile("review.yaml", layout)
	require.NoError(t, err)
	assert.Equal(t, "plan", profile.PermissionMode)
	assert.Equal(t, 3, profile.MaxTurns)

	profile, err = loadProfile("", layout)
	require.NoError(t, err)
	assert.Equal(t, assistant.DefaultProfile(), profile)
}

func TestNewVerifier(t *testing.T) {
	chain, err := newVerifier(config.AuthConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, chain)
	_, err = chain.Verify(context.Background(), "anything")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	hash, err := auth.HashSecret("svc-key")
	require.NoError(t, err)
	chain, err = newVerifier(config.AuthConfig{
		Secret:     testSecret,
		TokenTTL:   time.Hour,
		StaticKeys: []string{"deployer:" + hash},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	p, err := chain.Verify(context.Background(), "deployer:svc-key")
	require.NoError(t, err)
	assert.Equal(t, "deployer", p.UserID)

	p, err = chain.Verify(context.Background(), strings.TrimPrefix(bearer(t, "alice"), "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
}

func TestHealthServer(t *testing.T) {
	tracer := tracing.New("test", nil)
	defer tracer.Close()

	hs := newHealthServer(tracer, monitoring.NewMetrics(nil), zap.NewNop())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go hs.serve(lis)
	defer hs.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := Check(ctx, lis.Addr().String(), tracer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	hs.setServing(true)
	st, err = Check(ctx, lis.Addr().String(), nil)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := NewServer(testConfig(t))
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
