package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"divecli/internal/config"
	"divecli/internal/deepblue"
	"divecli/internal/dive"
	apierrors "divecli/internal/errors"
	"divecli/internal/exporter"
	"divecli/internal/middleware"
	"divecli/internal/polling"
	"divecli/internal/scheduler"
	"divecli/internal/selection"
	"divecli/internal/services"
	"divecli/internal/shared/testutil"
	transport "divecli/internal/transport/http"
	api "divecli/pkg/contracts/api/v1"
)

type fixture struct {
	router  chi.Router
	session *services.SessionService
	remote  *testutil.FakeRemote
	dir     string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	remote := testutil.NewFakeRemote(t)
	client, err := deepblue.NewClient(deepblue.Config{BaseURL: remote.URL(), Timeout: 5 * time.Second}, logger)
	require.NoError(t, err)
	poller := polling.NewPoller(client, scheduler.RealScheduler{}, polling.Config{
		Interval:         time.Millisecond,
		ComposedInterval: time.Millisecond,
	}, logger, nil)
	svc, err := dive.NewService(dive.Options{Remote: client, Poller: poller, Logger: logger})
	require.NoError(t, err)
	stacks := selection.NewCollection(selection.NewStackFactory(svc, logger), logger)
	t.Cleanup(stacks.Close)
	session := services.NewSessionService(svc, stacks, logger)
	t.Cleanup(session.Close)

	dir := t.TempDir()
	validator := middleware.NewValidator(logger)
	errorHandler := apierrors.NewErrorHandler(logger, false)
	writer := exporter.NewWriter(config.ResolvePaths(dir, config.PathsConfig{}), logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Mount("/", transport.NewSessionHandler(session, validator, errorHandler, logger).Routes())
		r.Mount("/export", transport.NewExportHandler(session, writer, validator, errorHandler, logger).Routes())
	})
	return fixture{router: r, session: session, remote: remote, dir: dir}
}

func (f fixture) withGenome(t *testing.T) {
	t.Helper()
	f.session.SetGenome(context.Background(), api.GenomeRequest{Name: "hg19"})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}
