package deepblue_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divecli/internal/deepblue"
	"divecli/internal/shared/testutil"
)

type callRecorder struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (r *callRecorder) RecordRemoteCall(_ context.Context, endpoint, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string][]string)
	}
	r.outcomes[endpoint] = append(r.outcomes[endpoint], outcome)
}

func newClient(t *testing.T, remote *testutil.FakeRemote, opts ...deepblue.Option) *deepblue.Client {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	c, err := deepblue.NewClient(deepblue.Config{BaseURL: remote.URL(), Timeout: 5 * time.Second}, logger, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid", "http://localhost:8080/api", false},
		{"trailing slash", "http://localhost:8080/api/", false},
		{"missing scheme", "localhost/api", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := deepblue.NewClient(deepblue.Config{BaseURL: tt.baseURL}, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvelope(t *testing.T) {
	t.Run("decode", func(t *testing.T) {
		var env deepblue.Envelope
		require.NoError(t, json.Unmarshal([]byte(`["okay", "q42"]`), &env))
		assert.True(t, env.Okay())
		assert.JSONEq(t, `"q42"`, string(env.Payload))
	})

	t.Run("round trip", func(t *testing.T) {
		data, err := json.Marshal(deepblue.Envelope{Status: "error", Payload: json.RawMessage(`"bad"`)})
		require.NoError(t, err)
		assert.JSONEq(t, `["error","bad"]`, string(data))
	})

	t.Run("rejects malformed", func(t *testing.T) {
		var env deepblue.Envelope
		assert.Error(t, json.Unmarshal([]byte(`{"status":"okay"}`), &env))
		assert.Error(t, json.Unmarshal([]byte(`[]`), &env))
		assert.Error(t, json.Unmarshal([]byte(`[1, 2]`), &env))
	})
}

func TestSimpleCalls(t *testing.T) {
	ctx := context.Background()

	t.Run("select annotations sends parameters", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("select_annotations", testutil.Okay("q1"))
		rec := &callRecorder{}
		c := newClient(t, remote, deepblue.WithMetrics(rec))

		id, err := c.SelectAnnotations(ctx, "CpG Islands", "hg19")
		require.NoError(t, err)
		assert.Equal(t, "q1", id)

		calls := remote.Calls("select_annotations")
		require.Len(t, calls, 1)
		assert.Equal(t, "CpG Islands", calls[0].Query.Get("annotation_name"))
		assert.Equal(t, "hg19", calls[0].Query.Get("genome"))
		assert.Equal(t, []string{"okay"}, rec.outcomes["select_annotations"])
	})

	t.Run("merge uses repeated query_b_id", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("merge_queries", testutil.Okay("q9"))
		c := newClient(t, remote)

		_, err := c.MergeQueries(ctx, []string{"q1", "q2", "q3"})
		require.NoError(t, err)
		q := remote.Calls("merge_queries")[0].Query
		assert.Equal(t, "q1", q.Get("query_a_id"))
		assert.Equal(t, []string{"q2", "q3"}, q["query_b_id"])

		_, err = c.MergeQueries(ctx, []string{"q1"})
		assert.Error(t, err)
	})

	t.Run("overlap parameters", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("overlap", testutil.Okay("q5"))
		c := newClient(t, remote)

		_, err := c.Overlap(ctx, "q1", "q2", false, 10, "bp")
		require.NoError(t, err)
		q := remote.Calls("overlap")[0].Query
		assert.Equal(t, "false", q.Get("overlap"))
		assert.Equal(t, "10", q.Get("amount"))
		assert.Equal(t, "bp", q.Get("amount_type"))
	})

	t.Run("error envelope becomes remote error", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("select_experiments", testutil.NotReady("experiment not found"))
		c := newClient(t, remote)

		_, err := c.SelectExperiments(ctx, "nope", "hg19")
		var remoteErr *deepblue.RemoteError
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, "experiment not found", remoteErr.Message)
	})

	t.Run("http failure", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("count_regions", testutil.Failure(http.StatusInternalServerError))
		c := newClient(t, remote)

		_, err := c.CountRegions(ctx, "q1")
		var httpErr *deepblue.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	})

	t.Run("json post", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("composed_commands/enrich_regions_fast", testutil.Okay("r7"))
		c := newClient(t, remote)

		id, err := c.EnrichFast(ctx, "q1", "hg19")
		require.NoError(t, err)
		assert.Equal(t, "r7", id)

		call := remote.Calls("composed_commands/enrich_regions_fast")[0]
		assert.Equal(t, http.MethodPost, call.Method)
		assert.JSONEq(t, `{"query_id":"q1","genome":"hg19"}`, string(call.Body))
	})

	t.Run("cancelled context", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("info", testutil.Okay([]interface{}{map[string]string{"_id": "e1"}}))
		c := newClient(t, remote)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Info(cctx, "e1")
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 0, remote.CallCount("info"))
	})
}

func TestPollCalls(t *testing.T) {
	ctx := context.Background()

	t.Run("request data treats non-okay as running", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("get_request_data",
			testutil.NotReady("Request r1 was not finished"),
			testutil.Okay(map[string]int{"count": 42}),
		)
		c := newClient(t, remote)

		st, err := c.RequestData(ctx, "r1")
		require.NoError(t, err)
		assert.False(t, st.Done)
		assert.Nil(t, st.Progress)

		st, err = c.RequestData(ctx, "r1")
		require.NoError(t, err)
		assert.True(t, st.Done)
		assert.JSONEq(t, `{"count":42}`, string(st.Data))
	})

	t.Run("composed request parses progress", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("composed_commands/get_request",
			testutil.Progress("overlapping", 3, 10, []string{"a"}),
		)
		c := newClient(t, remote)

		st, err := c.ComposedRequest(ctx, "r2")
		require.NoError(t, err)
		assert.False(t, st.Done)
		require.NotNil(t, st.Progress)
		assert.Equal(t, "overlapping", st.Progress.Step)
		assert.Equal(t, 3, st.Progress.Processed)
		assert.Equal(t, 10, st.Progress.Total)
		assert.JSONEq(t, `["a"]`, string(st.Partial))
	})

	t.Run("cancel sends id", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("composed_commands/cancel", testutil.Okay("r2"))
		c := newClient(t, remote)

		require.NoError(t, c.ComposedCancel(ctx, "r2"))
		assert.Equal(t, "r2", remote.Calls("composed_commands/cancel")[0].Query.Get("id"))
	})
}
