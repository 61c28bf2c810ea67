package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divecli/internal/app"
	"divecli/internal/config"
	"divecli/internal/shared/testutil"
	"divecli/pkg/contracts/events"
)

func newApp(t *testing.T) (*app.Application, *testutil.FakeRemote, string) {
	t.Helper()
	remote := testutil.NewFakeRemote(t)
	logger, _ := testutil.NewTestLogger(t)

	cfg := config.Default()
	cfg.Remote.BaseURL = remote.URL()
	cfg.Remote.PollInterval = time.Millisecond
	cfg.Remote.ComposedInterval = time.Millisecond
	cfg.Security.RateLimit.Enabled = false
	require.NoError(t, cfg.Validate())
	// any free port
	cfg.Server.Port = 0

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "web"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web", "index.html"),
		[]byte(`<html><body>dive {{.Version}}</body></html>`), 0o644))

	a, err := app.New(cfg, config.ResolvePaths(dir, cfg.Paths), logger)
	require.NoError(t, err)
	return a, remote, dir
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewApplication(t *testing.T) {
	a, _, dir := newApp(t)

	t.Run("directories", func(t *testing.T) {
		for _, sub := range []string{"logs", "exports"} {
			info, err := os.Stat(filepath.Join(dir, sub))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		}
	})

	t.Run("wiring", func(t *testing.T) {
		assert.NotNil(t, a.Session)
		assert.NotNil(t, a.WebSocketHub)
		assert.Equal(t, "navigation_end", string(a.Requests.Trigger()))
		assert.Equal(t, ":0", a.Server.Addr)
	})
}

func TestRouter(t *testing.T) {
	a, remote, _ := newApp(t)
	remote.On("select_annotations", testutil.Okay("q1"))

	t.Run("health", func(t *testing.T) {
		w := request(t, a.Router, http.MethodGet, "/api/health", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})

	t.Run("version", func(t *testing.T) {
		w := request(t, a.Router, http.MethodGet, "/api/version", "")
		require.Equal(t, http.StatusOK, w.Code)
		var v map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
		assert.Equal(t, app.VERSION, v["version"])
	})

	t.Run("not found is a problem", func(t *testing.T) {
		w := request(t, a.Router, http.MethodGet, "/nowhere", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "/errors/not-found")
	})

	t.Run("main page", func(t *testing.T) {
		w := request(t, a.Router, http.MethodGet, "/", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "dive "+app.VERSION)
	})

	t.Run("session flow", func(t *testing.T) {
		w := request(t, a.Router, http.MethodPut, "/api/genome", `{"name":"hg19"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		w = request(t, a.Router, http.MethodPost, "/api/dive", `{"kind":"annotation","name":"CpG Islands"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = request(t, a.Router, http.MethodGet, "/api/stacks", "")
		require.Equal(t, http.StatusOK, w.Code)
		var stacks []events.StackView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stacks))
		require.Len(t, stacks, 1)
		assert.Equal(t, "CpG Islands", stacks[0].Name)
	})

	t.Run("intent without json content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/dive", strings.NewReader(`{"kind":"annotation","name":"x"}`))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()
		a.Router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("prometheus", func(t *testing.T) {
		w := request(t, a.Router, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "dive_http_requests")
	})
}

func TestStartStop(t *testing.T) {
	a, _, _ := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx, cancel))

	srv := httptest.NewServer(a.Router)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg events.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.MessageTypeConnect, msg.Type)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.MessageTypeStacks, msg.Type)

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 0, a.WebSocketHub.ClientCount())
}
