package dive_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divecli/internal/deepblue"
	"divecli/internal/dive"
	"divecli/internal/lifecycle"
	"divecli/internal/operations"
	"divecli/internal/polling"
	"divecli/internal/scheduler"
	"divecli/internal/shared/testutil"
	"divecli/pkg/contracts/domain"
)

func newService(t *testing.T, configure ...func(*dive.Options)) (*dive.Service, *testutil.FakeRemote) {
	t.Helper()
	remote := testutil.NewFakeRemote(t)
	logger, _ := testutil.NewTestLogger(t)
	client, err := deepblue.NewClient(deepblue.Config{BaseURL: remote.URL(), Timeout: 5 * time.Second}, logger)
	require.NoError(t, err)

	poller := polling.NewPoller(client, scheduler.RealScheduler{}, polling.Config{
		Interval:         time.Millisecond,
		ComposedInterval: time.Millisecond,
	}, logger, nil)

	opts := dive.Options{Remote: client, Poller: poller, Logger: logger}
	for _, fn := range configure {
		fn(&opts)
	}
	svc, err := dive.NewService(opts)
	require.NoError(t, err)
	return svc, remote
}

func TestNewService(t *testing.T) {
	_, err := dive.NewService(dive.Options{})
	assert.Error(t, err)
}

func TestSelectAnnotationCaching(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"))

	first, err := svc.SelectAnnotation(ctx, "CpG Islands", "hg19", 1)
	require.NoError(t, err)
	assert.Equal(t, "q1", first.QueryID())
	assert.Equal(t, int64(1), first.Epoch())

	second, err := svc.SelectAnnotation(ctx, "CpG Islands", "hg19", 2)
	require.NoError(t, err)
	assert.Equal(t, "q1", second.QueryID())
	assert.Equal(t, int64(2), second.Epoch())
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())

	assert.Equal(t, 1, remote.CallCount("select_annotations"))
	calls := remote.Calls("select_annotations")
	assert.Equal(t, "CpG Islands", calls[0].Query.Get("annotation_name"))
	assert.Equal(t, "hg19", calls[0].Query.Get("genome"))

	t.Run("other genome misses", func(t *testing.T) {
		_, err := svc.SelectAnnotation(ctx, "CpG Islands", "hg38", 3)
		require.NoError(t, err)
		assert.Equal(t, 2, remote.CallCount("select_annotations"))
	})

	t.Run("no genome", func(t *testing.T) {
		_, err := svc.SelectAnnotation(ctx, "CpG Islands", "", 3)
		assert.ErrorIs(t, err, operations.ErrNoGenome)
	})
}

func TestSubmissionFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_experiments", testutil.NotReady("unknown experiment"), testutil.Okay("e1"))

	_, err := svc.SelectExperiment(ctx, "H3K4me3", "hg19", 1)
	require.Error(t, err)
	assert.True(t, operations.IsType(err, operations.ErrorTypeSubmission))

	n, err := svc.SelectExperiment(ctx, "H3K4me3", "hg19", 1)
	require.NoError(t, err)
	assert.Equal(t, "e1", n.QueryID())
	assert.Equal(t, 2, remote.CallCount("select_experiments"))
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"), testutil.Okay("q2"))
	remote.On("merge_queries", testutil.Okay("m1"))

	a, err := svc.SelectAnnotation(ctx, "A", "hg19", 1)
	require.NoError(t, err)
	b, err := svc.SelectAnnotation(ctx, "B", "hg19", 1)
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := svc.Merge(ctx, nil, 1)
		assert.ErrorIs(t, err, operations.ErrEmptyMerge)
	})

	t.Run("single input is returned unchanged", func(t *testing.T) {
		n, err := svc.Merge(ctx, []*operations.Node{a}, 1)
		require.NoError(t, err)
		assert.Same(t, a, n)
		assert.Equal(t, 0, remote.CallCount("merge_queries"))
	})

	t.Run("two inputs", func(t *testing.T) {
		n, err := svc.Merge(ctx, []*operations.Node{a, b}, 1)
		require.NoError(t, err)
		assert.Equal(t, "m1", n.QueryID())
		assert.Equal(t, operations.KindMerge, n.Kind())

		_, err = svc.Merge(ctx, []*operations.Node{a, b}, 2)
		require.NoError(t, err)
		require.Equal(t, 1, remote.CallCount("merge_queries"))

		call := remote.Calls("merge_queries")[0]
		assert.Equal(t, "q1", call.Query.Get("query_a_id"))
		assert.Equal(t, []string{"q2"}, call.Query["query_b_id"])
	})
}

func TestFilterAndOverlapCaching(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"), testutil.Okay("q2"))
	remote.On("filter_regions", testutil.Okay("f1"))
	remote.On("overlap", testutil.Okay("o1"))
	remote.On("intersection", testutil.Okay("i1"))

	a, err := svc.SelectAnnotation(ctx, "A", "hg19", 1)
	require.NoError(t, err)
	b, err := svc.SelectAnnotation(ctx, "B", "hg19", 1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		f, err := svc.Filter(ctx, a, "START", ">=", "100", "number", 1)
		require.NoError(t, err)
		assert.Equal(t, "f1", f.QueryID())

		o, err := svc.Overlap(ctx, a, b, true, 1, "bp", 1)
		require.NoError(t, err)
		assert.Equal(t, "o1", o.QueryID())

		in, err := svc.Intersection(ctx, a, b, 1)
		require.NoError(t, err)
		assert.Equal(t, "i1", in.QueryID())
	}
	assert.Equal(t, 1, remote.CallCount("filter_regions"))
	assert.Equal(t, 1, remote.CallCount("overlap"))
	assert.Equal(t, 1, remote.CallCount("intersection"))

	t.Run("missing field", func(t *testing.T) {
		_, err := svc.Filter(ctx, a, " ", ">=", "1", "number", 1)
		assert.True(t, operations.IsType(err, operations.ErrorTypeInvalidArgument))
	})

	t.Run("missing operand", func(t *testing.T) {
		_, err := svc.Overlap(ctx, a, nil, true, 1, "bp", 1)
		assert.True(t, operations.IsType(err, operations.ErrorTypeInvalidArgument))
	})
}

func TestCountRegionsEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"))
	remote.On("count_regions", testutil.Okay("r1"))
	remote.On("get_request_data",
		testutil.NotReady("request r1 is still running"),
		testutil.NotReady("request r1 is still running"),
		testutil.Okay(map[string]int{"count": 42}),
	)

	op, err := svc.SelectAnnotation(ctx, "CpG Islands", "hg19", 1)
	require.NoError(t, err)

	result, err := svc.CountRegions(ctx, op, 1)
	require.NoError(t, err)
	count, err := result.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.Equal(t, 3, remote.CallCount("get_request_data"))
	assert.Equal(t, "r1", result.Request.RequestID)

	again, err := svc.CountRegions(ctx, op.Clone(2), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Epoch)
	assert.JSONEq(t, `{"count":42}`, string(again.Data))
	assert.Equal(t, 1, remote.CallCount("count_regions"))
	assert.Equal(t, 3, remote.CallCount("get_request_data"))
}

func TestCountRegionsCancelled(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"))
	remote.On("count_regions", testutil.Okay("r1"), testutil.Okay("r2"))
	remote.On("get_request_data", testutil.NotReady("running"))
	remote.On("composed_commands/cancel", testutil.Okay("r1"))

	op, err := svc.SelectAnnotation(ctx, "A", "hg19", 1)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.CountRegions(ctx, op, 1)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return svc.Requests().Pending() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, svc.Requests().OnNavigation(ctx, lifecycle.NavigationEnd))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, operations.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("count did not stop after cancellation")
	}
	svc.Requests().Wait()
	assert.Equal(t, 1, remote.CallCount("composed_commands/cancel"))

	t.Run("cancelled request is resubmitted", func(t *testing.T) {
		remote.On("get_request_data", testutil.Okay(7))
		result, err := svc.CountRegions(ctx, op, 2)
		require.NoError(t, err)
		assert.Equal(t, "r2", result.Request.RequestID)
		assert.Equal(t, 2, remote.CallCount("count_regions"))
	})
}

func TestComposedResult(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"))
	remote.On("composed_commands/count_overlaps", testutil.Okay("c1"))
	remote.On("composed_commands/get_request",
		testutil.Progress("counting", 1, 2, nil),
		testutil.Okay([]int{3, 4}),
	)

	op, err := svc.SelectAnnotation(ctx, "A", "hg19", 1)
	require.NoError(t, err)

	epoch := svc.NewBatch(1)
	h, err := svc.CountOverlaps(ctx, []*operations.Node{op}, []string{"e1"}, nil, epoch)
	require.NoError(t, err)
	assert.Equal(t, operations.JobCountOverlaps, h.Kind)
	assert.Equal(t, 1, svc.Requests().Pending())

	var mu sync.Mutex
	var steps []string
	result, err := svc.ComposedResult(ctx, h, func(status operations.ProgressStatus, _ json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, status.Step)
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[3,4]`, string(result.Data))

	mu.Lock()
	assert.Equal(t, []string{"counting"}, steps)
	mu.Unlock()
	assert.True(t, svc.Progress().Snapshot().Finished)

	call := remote.Calls("composed_commands/count_overlaps")[0]
	assert.Equal(t, []string{"q1"}, call.Query["queries_id"])
	assert.Equal(t, []string{"e1"}, call.Query["experiments_id"])

	t.Run("requires experiments", func(t *testing.T) {
		_, err := svc.CountOverlaps(ctx, []*operations.Node{op}, nil, nil, epoch)
		assert.True(t, operations.IsType(err, operations.ErrorTypeInvalidArgument))
	})
}

func TestCompletedRequestsSurviveNavigation(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"))
	remote.On("count_regions", testutil.Okay("r1"), testutil.Okay("r2"))
	remote.On("get_request_data", testutil.Okay(5))
	remote.On("composed_commands/cancel", testutil.Okay("r1"))

	op, err := svc.SelectAnnotation(ctx, "A", "hg19", 1)
	require.NoError(t, err)

	first, err := svc.CountRegions(ctx, op, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.Requests().Pending(), "finished requests are no longer tracked")

	assert.Equal(t, 0, svc.Requests().CancelAll(ctx))
	svc.Requests().Wait()
	assert.False(t, first.Request.Cancelled())
	assert.Equal(t, 0, remote.CallCount("composed_commands/cancel"))

	again, err := svc.CountRegions(ctx, op.Clone(2), 2)
	require.NoError(t, err)
	assert.Equal(t, "r1", again.Request.RequestID)
	assert.Equal(t, 1, remote.CallCount("count_regions"))
	assert.Equal(t, 1, remote.CallCount("get_request_data"))

	t.Run("flagged handle with a stored result is reused", func(t *testing.T) {
		first.Request.Cancel()
		result, err := svc.CountRegions(ctx, op.Clone(3), 3)
		require.NoError(t, err)
		assert.Equal(t, "r1", result.Request.RequestID)
		assert.Equal(t, int64(3), result.Epoch)
		assert.Equal(t, 1, remote.CallCount("count_regions"))
		assert.Equal(t, 1, remote.CallCount("get_request_data"))
	})
}

func TestComposedCancelNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("select_annotations", testutil.Okay("q1"))
	remote.On("composed_commands/count_genes_overlaps", testutil.Okay("c1"), testutil.Okay("c2"))
	remote.On("composed_commands/get_request", testutil.Progress("counting", 0, 1, nil))
	remote.On("composed_commands/cancel", testutil.Okay("c1"))

	op, err := svc.SelectAnnotation(ctx, "A", "hg19", 1)
	require.NoError(t, err)

	t.Run("running job", func(t *testing.T) {
		h, err := svc.CountGenesOverlaps(ctx, []*operations.Node{op}, "gencode v23", 1)
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := svc.ComposedResult(ctx, h, nil)
			errCh <- err
		}()

		require.Eventually(t, func() bool { return remote.CallCount("composed_commands/get_request") > 0 }, 2*time.Second, time.Millisecond)
		assert.Equal(t, 1, svc.Requests().Pending(), "submit and poll share one entry")

		assert.Equal(t, 1, svc.Requests().CancelAll(ctx))
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, operations.ErrCancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("composed job did not stop after cancellation")
		}
		svc.Requests().Wait()
		assert.Equal(t, 1, remote.CallCount("composed_commands/cancel"))

		svc.ComposedCancel(ctx, h)
		assert.Equal(t, 1, remote.CallCount("composed_commands/cancel"), "an already cancelled job is not notified again")
	})

	t.Run("finished job", func(t *testing.T) {
		remote.On("composed_commands/get_request", testutil.Okay(map[string]int{"count": 2}))
		h, err := svc.CountGenesOverlaps(ctx, []*operations.Node{op}, "gencode v23", 2)
		require.NoError(t, err)

		_, err = svc.ComposedResult(ctx, h, nil)
		require.NoError(t, err)

		assert.Equal(t, 0, svc.Requests().CancelAll(ctx))
		svc.Requests().Wait()
		assert.False(t, h.Cancelled())
		assert.Equal(t, 1, remote.CallCount("composed_commands/cancel"))
	})
}

func TestBatches(t *testing.T) {
	ctx := context.Background()

	t.Run("count all stacks publishes", func(t *testing.T) {
		svc, remote := newService(t)
		remote.On("select_annotations", testutil.Okay("q1"), testutil.Okay("q2"))
		remote.On("count_regions", testutil.Okay("r1"), testutil.Okay("r2"))
		remote.On("get_request_data", testutil.Okay(5))

		a, err := svc.SelectAnnotation(ctx, "A", "hg19", 0)
		require.NoError(t, err)
		b, err := svc.SelectAnnotation(ctx, "B", "hg19", 0)
		require.NoError(t, err)

		values, err := svc.CountAllStacks(ctx, []*operations.Node{a, b})
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.Equal(t, 0, values[0].Stack)
		assert.Equal(t, 1, values[1].Stack)
		n, err := values[1].Count()
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		published := svc.Counts.Get()
		assert.Len(t, published, 2)
		assert.True(t, svc.Progress().Snapshot().Finished)
	})

	t.Run("result batch keeps handle order", func(t *testing.T) {
		svc, remote := newService(t)
		remote.On("get_request_data", testutil.Okay(map[string]int{"count": 9}))

		handles := []*operations.RequestHandle{
			operations.NewRequestHandle(nil, "r1", operations.JobCountRegions, 0),
			operations.NewRequestHandle(nil, "r2", operations.JobCountRegions, 0),
		}
		results, err := svc.GetResultBatch(ctx, handles, 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "r1", results[0].Request.RequestID)
		assert.Equal(t, "r2", results[1].Request.RequestID)
		assert.Equal(t, 2, remote.CallCount("get_request_data"))
	})

	t.Run("failure fails the whole batch", func(t *testing.T) {
		svc, remote := newService(t)
		remote.On("select_experiments", testutil.Okay("e1"), testutil.Failure(500))

		nodes, err := svc.SelectExperiments(ctx, []string{"H3K4me3", "H3K27ac"}, "hg19", 1)
		assert.Nil(t, nodes)
		require.Error(t, err)
		assert.True(t, operations.IsType(err, operations.ErrorTypeSubmission))
		var httpErr *deepblue.HTTPError
		assert.True(t, errors.As(err, &httpErr))
	})

	t.Run("stale batch is discarded", func(t *testing.T) {
		svc, _ := newService(t)
		stale := svc.NewBatch(1)
		current := svc.NewBatch(1)

		assert.False(t, svc.PublishCounts(ctx, stale, []dive.StackValue{{Stack: 0}}))
		assert.Empty(t, svc.Counts.Get())
		assert.True(t, svc.PublishCounts(ctx, current, []dive.StackValue{{Stack: 0}}))
		assert.Len(t, svc.Counts.Get(), 1)
	})

	t.Run("process overlaps", func(t *testing.T) {
		svc, remote := newService(t)
		remote.On("select_annotations", testutil.Okay("q1"))
		remote.On("select_experiments", testutil.Okay("e1"))
		remote.On("intersection", testutil.Okay("i1"))
		remote.On("count_regions", testutil.Okay("r1"))
		remote.On("get_request_data", testutil.Okay(map[string]int{"count": 9}))

		a, err := svc.SelectAnnotation(ctx, "A", "hg19", 0)
		require.NoError(t, err)

		out, err := svc.ProcessOverlaps(ctx, []*operations.Node{a}, []string{"H3K4me3"}, "hg19")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "e1", out[0].Experiment.QueryID())
		require.Len(t, out[0].Values, 1)
		n, err := out[0].Values[0].Count()
		require.NoError(t, err)
		assert.Equal(t, int64(9), n)

		snap := svc.Progress().Snapshot()
		assert.Equal(t, 3, snap.Total)
		assert.Equal(t, 3, snap.Current)
	})
}

func TestInputRegions(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("composed_commands/input_regions", testutil.Okay("u1"))

	_, err := svc.InputRegions(ctx, "hg19", "  ", 1)
	assert.True(t, operations.IsType(err, operations.ErrorTypeInvalidArgument))

	for i := 0; i < 2; i++ {
		n, err := svc.InputRegions(ctx, "hg19", "chr1\t1\t100", 1)
		require.NoError(t, err)
		assert.Equal(t, operations.UnboundEpoch, n.Epoch())
	}
	assert.Equal(t, 2, remote.CallCount("composed_commands/input_regions"))
}

func TestInfo(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t)
	remote.On("info", testutil.Okay([]map[string]string{{"_id": "a12", "name": "CpG Islands"}}))

	md, err := svc.Info(ctx, "a12")
	require.NoError(t, err)
	assert.Equal(t, domain.MetadataAnnotation, md.Kind)
	assert.Contains(t, string(md.Record), "CpG Islands")

	t.Run("empty list", func(t *testing.T) {
		remote.On("info", testutil.Okay([]interface{}{}))
		_, err := svc.Info(ctx, "e1")
		assert.True(t, operations.IsType(err, operations.ErrorTypeNotFound))
	})
}

func TestSessionSubjects(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.CurrentGenome()
	assert.ErrorIs(t, err, operations.ErrNoGenome)
	svc.SetGenome(domain.Genome{IdName: domain.IdName{ID: "g1", Name: "hg19"}})
	g, err := svc.CurrentGenome()
	require.NoError(t, err)
	assert.Equal(t, "hg19", g)

	bs := domain.BioSource{IdName: domain.IdName{ID: "bs1", Name: "K562"}}
	assert.True(t, svc.AddSelectedBioSource(bs))
	assert.False(t, svc.AddSelectedBioSource(bs))
	assert.Len(t, svc.SelectedBioSources.Get(), 1)
	assert.True(t, svc.RemoveSelectedBioSource(bs))
	assert.False(t, svc.RemoveSelectedBioSource(bs))
	assert.Empty(t, svc.SelectedBioSources.Get())

	t.Run("set biosources copies", func(t *testing.T) {
		in := []domain.BioSource{
			{IdName: domain.IdName{ID: "bs1", Name: "K562"}},
			{IdName: domain.IdName{ID: "bs2", Name: "HepG2"}},
		}
		svc.SetSelectedBioSources(in)
		in[0].Name = "changed"
		assert.Equal(t, "K562", svc.SelectedBioSources.Get()[0].Name)
	})

	t.Run("epigenetic mark", func(t *testing.T) {
		var seen []string
		sub := svc.EpigeneticMark.Subscribe(func(m domain.EpigeneticMark) { seen = append(seen, m.Name) })
		defer sub.Unsubscribe()
		svc.SetEpigeneticMark(domain.EpigeneticMark{IdName: domain.IdName{ID: "m1", Name: "H3K4me3"}})
		assert.Equal(t, []string{"H3K4me3"}, seen)
	})
}

func TestDedupe(t *testing.T) {
	ctx := context.Background()
	svc, remote := newService(t, func(o *dive.Options) { o.Dedupe = true })
	release := make(chan struct{})
	remote.On("select_annotations", testutil.Okay("q1"))
	remote.OnCall("select_annotations", func(testutil.Call) { <-release })

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := svc.SelectAnnotation(ctx, "A", "hg19", 1)
			assert.NoError(t, err)
			assert.Equal(t, "q1", n.QueryID())
		}()
	}
	require.Eventually(t, func() bool { return remote.CallCount("select_annotations") == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, 1, remote.CallCount("select_annotations"))
}
