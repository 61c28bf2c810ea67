package errors_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "divecli/internal/errors"
	"divecli/internal/shared/testutil"
)

func TestErrorMiddleware_Handler(t *testing.T) {
	newMiddleware := func(t *testing.T) (*apierrors.ErrorMiddleware, *testutil.BufferedSlogHandler) {
		logger, logs := testutil.NewTestLogger(t)
		return apierrors.NewErrorMiddleware(apierrors.NewErrorHandler(logger, false), logger), logs
	}

	t.Run("success logs at info", func(t *testing.T) {
		m, logs := newMiddleware(t)
		h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stacks?x=1", nil))

		records := logs.GetRecordsByLevel(slog.LevelInfo)
		require.Len(t, records, 1)
		assert.Equal(t, "x=1", records[0].Attrs["query"])
		assert.NotContains(t, records[0].Attrs, "request_body")
	})

	t.Run("failure logs redacted body", func(t *testing.T) {
		m, logs := newMiddleware(t)
		h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		body := `{"genome":"hg19","user_key":"secret"}`
		req := httptest.NewRequest(http.MethodPut, "/api/genome", strings.NewReader(body))
		h.ServeHTTP(httptest.NewRecorder(), req)

		records := logs.GetRecordsByLevel(slog.LevelWarn)
		require.Len(t, records, 1)
		logged, ok := records[0].Attrs["request_body"].(string)
		require.True(t, ok)
		assert.Contains(t, logged, "[REDACTED]")
		assert.NotContains(t, logged, "secret")
		assert.Contains(t, logged, "hg19")
	})

	t.Run("handler still reads body", func(t *testing.T) {
		m, _ := newMiddleware(t)
		var seen string
		h := m.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(r.Body)
			seen = buf.String()
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/dive", strings.NewReader(`{"q":1}`)))
		assert.Equal(t, `{"q":1}`, seen)
	})

	t.Run("panic recovered", func(t *testing.T) {
		m, logs := newMiddleware(t)
		h := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.True(t, logs.ContainsMessage("panic recovered"))
	})
}
