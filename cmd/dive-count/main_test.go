package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"divecli/internal/shared/testutil"
)

func TestParseFlags(t *testing.T) {
	_, err := parseFlags([]string{"-genome", "hg19"})
	assert.Error(t, err)

	opts, err := parseFlags([]string{"-name", "CpG Islands", "-experiments", "a,b"})
	require.NoError(t, err)
	assert.Equal(t, "hg19", opts.genome)
	assert.Equal(t, "annotation", opts.kind)
	assert.Equal(t, "a,b", opts.experiments)
}

func TestRun(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	t.Setenv("DIVE_REMOTE_POLL_INTERVAL", "1ms")
	t.Setenv("DIVE_REMOTE_COMPOSED_INTERVAL", "1ms")

	t.Run("version", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, run(context.Background(), []string{"-version"}, &out, logger))
		assert.Contains(t, out.String(), "Dive v")
	})

	t.Run("counts to stdout", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("select_annotations", testutil.Okay("q1"))
		remote.On("filter_regions", testutil.Okay("f1"))
		remote.On("count_regions", testutil.Okay("r1"))
		remote.On("get_request_data", testutil.Okay(5))

		var out bytes.Buffer
		err := run(context.Background(), []string{
			"-remote", remote.URL(),
			"-name", "CpG Islands",
			"-filter", "score,>,10,number",
		}, &out, logger)
		require.NoError(t, err)

		records, err := csv.NewReader(&out).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"stack", "name", "query_id", "count"},
			{"0", "CpG Islands", "f1", "5"},
		}, records)
		assert.Equal(t, 1, remote.CallCount("filter_regions"))
	})

	t.Run("bad filter", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("select_annotations", testutil.Okay("q1"))
		err := run(context.Background(), []string{
			"-remote", remote.URL(), "-name", "A", "-filter", "score",
		}, &bytes.Buffer{}, logger)
		assert.Error(t, err)
	})

	t.Run("overlaps to xlsx", func(t *testing.T) {
		remote := testutil.NewFakeRemote(t)
		remote.On("select_annotations", testutil.Okay("q1"))
		remote.On("select_experiments", testutil.Okay("e1"))
		remote.On("intersection", testutil.Okay("i1"))
		remote.On("count_regions", testutil.Okay("r1"))
		remote.On("get_request_data", testutil.Okay(3))

		path := filepath.Join(t.TempDir(), "overlaps.xlsx")
		err := run(context.Background(), []string{
			"-remote", remote.URL(), "-name", "A", "-experiments", "H3K27ac", "-out", path,
		}, &bytes.Buffer{}, logger)
		require.NoError(t, err)

		_, err = os.Stat(path)
		require.NoError(t, err)
		f, err := excelize.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("counts")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, []string{"experiment", "query_id", "A"}, rows[0])
		assert.Equal(t, []string{"H3K27ac", "e1", "3"}, rows[1])
	})
}
