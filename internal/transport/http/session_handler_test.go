package http_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divecli/internal/shared/testutil"
	"divecli/pkg/contracts/events"
)

func TestSessionHandlerGenome(t *testing.T) {
	f := newFixture(t)

	w := do(t, f.router, http.MethodGet, "/api/genome", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	t.Run("invalid name", func(t *testing.T) {
		w := do(t, f.router, http.MethodPut, "/api/genome", `{"name":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var problem map[string]interface{}
		decode(t, w, &problem)
		assert.Equal(t, "VALIDATION_FAILED", problem["error_code"])
	})

	t.Run("unknown field", func(t *testing.T) {
		w := do(t, f.router, http.MethodPut, "/api/genome", `{"name":"hg19","bogus":1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	w = do(t, f.router, http.MethodPut, "/api/genome", `{"name":"hg19"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, f.router, http.MethodGet, "/api/genome", "")
	require.Equal(t, http.StatusOK, w.Code)
	var genome map[string]interface{}
	decode(t, w, &genome)
	assert.Equal(t, "hg19", genome["name"])
}

func TestSessionHandlerDive(t *testing.T) {
	f := newFixture(t)

	t.Run("without genome", func(t *testing.T) {
		w := do(t, f.router, http.MethodPost, "/api/dive", `{"kind":"annotation","name":"CpG Islands"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	f.withGenome(t)
	f.remote.On("select_annotations", testutil.Okay("q1"))
	f.remote.On("select_experiments", testutil.Okay("e1"))

	t.Run("unknown kind", func(t *testing.T) {
		w := do(t, f.router, http.MethodPost, "/api/dive", `{"kind":"bogus","name":"x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	w := do(t, f.router, http.MethodPost, "/api/dive", `{"kind":"annotation","name":"CpG Islands"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Operation events.OperationView `json:"operation"`
		Stacks    []events.StackView   `json:"stacks"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "q1", resp.Operation.QueryID)
	require.Len(t, resp.Stacks, 1)
	assert.Equal(t, "CpG Islands", resp.Stacks[0].Name)

	w = do(t, f.router, http.MethodPost, "/api/compare", `{"kind":"experiment","name":"H3K4me3"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var stack events.StackView
	decode(t, w, &stack)
	assert.Equal(t, "H3K4me3", stack.Name)

	w = do(t, f.router, http.MethodGet, "/api/stacks", "")
	var stacks []events.StackView
	decode(t, w, &stacks)
	require.Len(t, stacks, 2)
	assert.True(t, stacks[0].Active)
	assert.Equal(t, stack.ID, stacks[1].ID)

	t.Run("activate", func(t *testing.T) {
		w := do(t, f.router, http.MethodPost, "/api/stacks/"+stack.ID+"/activate", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var stacks []events.StackView
		decode(t, w, &stacks)
		assert.Equal(t, stack.ID, stacks[0].ID)
	})

	t.Run("unknown stack", func(t *testing.T) {
		w := do(t, f.router, http.MethodDelete, "/api/stacks/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		var problem map[string]interface{}
		decode(t, w, &problem)
		assert.Equal(t, "STACK_NOT_FOUND", problem["error_code"])
	})
}

func TestSessionHandlerCounts(t *testing.T) {
	f := newFixture(t)
	f.withGenome(t)
	f.remote.On("select_annotations", testutil.Okay("q1"))
	f.remote.On("count_regions", testutil.Okay("r1"))
	f.remote.On("get_request_data", testutil.Okay(12))

	w := do(t, f.router, http.MethodGet, "/api/counts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, f.router, http.MethodPost, "/api/dive", `{"kind":"annotation","name":"CpG Islands"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, f.router, http.MethodPost, "/api/counts", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var counts []events.StackCount
	decode(t, w, &counts)
	assert.Equal(t, []events.StackCount{{Stack: 0, Name: "CpG Islands", QueryID: "q1", Count: 12}}, counts)

	w = do(t, f.router, http.MethodGet, "/api/counts", "")
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("overlaps require experiments", func(t *testing.T) {
		w := do(t, f.router, http.MethodPost, "/api/counts/overlaps", `{"experiments":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionHandlerNavigation(t *testing.T) {
	f := newFixture(t)

	w := do(t, f.router, http.MethodPost, "/api/navigation", `{"phase":"start"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]interface{}
	decode(t, w, &resp)
	assert.Equal(t, float64(0), resp["cancelled"])

	w = do(t, f.router, http.MethodPost, "/api/navigation", `{"phase":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerBioSources(t *testing.T) {
	f := newFixture(t)

	w := do(t, f.router, http.MethodPost, "/api/biosources", `{"name":"K562"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Changed    bool                     `json:"changed"`
		BioSources []map[string]interface{} `json:"biosources"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Changed)
	require.Len(t, resp.BioSources, 1)

	w = do(t, f.router, http.MethodPost, "/api/biosources", `{"name":"K562"}`)
	decode(t, w, &resp)
	assert.False(t, resp.Changed)

	w = do(t, f.router, http.MethodDelete, "/api/biosources", `{"name":"K562"}`)
	decode(t, w, &resp)
	assert.True(t, resp.Changed)
	assert.Empty(t, resp.BioSources)
}

func TestSessionHandlerRegions(t *testing.T) {
	f := newFixture(t)
	f.withGenome(t)

	w := do(t, f.router, http.MethodGet, "/api/stacks/active/regions", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.remote.On("select_annotations", testutil.Okay("q1"))
	f.remote.On("get_regions", testutil.Okay("r1"))
	f.remote.On("get_request_data", testutil.Okay("chr1\t1\t100\n"))
	w = do(t, f.router, http.MethodPost, "/api/dive", `{"kind":"annotation","name":"CpG Islands"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, f.router, http.MethodGet, "/api/stacks/active/regions", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "chr1\t1\t100\n", w.Body.String())
	calls := f.remote.Calls("get_regions")
	require.Len(t, calls, 1)
	assert.Equal(t, "CHROMOSOME,START,END", calls[0].Query.Get("output_format"))
}
