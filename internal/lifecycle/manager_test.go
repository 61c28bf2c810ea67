package lifecycle_test

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divecli/internal/lifecycle"
	"divecli/internal/operations"
	"divecli/internal/shared/testutil"
)

type fakeCanceller struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]bool
}

func (f *fakeCanceller) ComposedCancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	if f.fail[id] {
		return errors.New("service unavailable")
	}
	return nil
}

func (f *fakeCanceller) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.ids...)
	sort.Strings(out)
	return out
}

func handle(id string) *operations.RequestHandle {
	return operations.NewRequestHandle(nil, id, operations.JobCountOverlaps, 1)
}

func TestCancelAll(t *testing.T) {
	t.Run("flags every handle and notifies the server once", func(t *testing.T) {
		canceller := &fakeCanceller{}
		logger, _ := testutil.NewTestLogger(t)
		m := lifecycle.NewRequestManager(canceller, logger)

		a, b := handle("r1"), handle("r2")
		m.Enqueue(a)
		m.Enqueue(b)
		m.Enqueue(nil)
		require.Equal(t, 2, m.Pending())

		n := m.CancelAll(context.Background())
		m.Wait()

		assert.Equal(t, 2, n)
		assert.True(t, a.Cancelled())
		assert.True(t, b.Cancelled())
		assert.Equal(t, 0, m.Pending())
		assert.Equal(t, []string{"r1", "r2"}, canceller.cancelled())

		assert.Equal(t, 0, m.CancelAll(context.Background()), "the tracked set was swapped out")
		m.Wait()
		assert.Len(t, canceller.cancelled(), 2)
	})

	t.Run("notification failures are logged not returned", func(t *testing.T) {
		canceller := &fakeCanceller{fail: map[string]bool{"r1": true}}
		logger, logs := testutil.NewTestLogger(t)
		m := lifecycle.NewRequestManager(canceller, logger)

		h := handle("r1")
		m.Enqueue(h)
		m.CancelAll(context.Background())
		m.Wait()

		assert.True(t, h.Cancelled())
		testutil.AssertLogContains(t, logs, slog.LevelWarn, "cancel notification failed")
		assert.True(t, logs.ContainsAttr("request_id", "r1"))
	})

	t.Run("enqueue is idempotent per handle", func(t *testing.T) {
		canceller := &fakeCanceller{}
		m := lifecycle.NewRequestManager(canceller, nil)

		h := handle("r1")
		m.Enqueue(h)
		m.Enqueue(h)
		require.Equal(t, 1, m.Pending())

		assert.Equal(t, 1, m.CancelAll(context.Background()))
		m.Wait()
		assert.Equal(t, []string{"r1"}, canceller.cancelled())
	})

	t.Run("already cancelled handles are skipped", func(t *testing.T) {
		canceller := &fakeCanceller{}
		m := lifecycle.NewRequestManager(canceller, nil)

		a, b := handle("r1"), handle("r2")
		m.Enqueue(a)
		m.Enqueue(b)
		require.True(t, a.Cancel())

		assert.Equal(t, 1, m.CancelAll(context.Background()))
		m.Wait()
		assert.Equal(t, []string{"r2"}, canceller.cancelled())
	})

	t.Run("done handles are not cancelled", func(t *testing.T) {
		canceller := &fakeCanceller{}
		m := lifecycle.NewRequestManager(canceller, nil)

		a, b := handle("r1"), handle("r2")
		m.Enqueue(a)
		m.Enqueue(b)
		m.Done(a)
		m.Done(a)
		m.Done(nil)
		require.Equal(t, 1, m.Pending())

		assert.Equal(t, 1, m.CancelAll(context.Background()))
		m.Wait()
		assert.False(t, a.Cancelled())
		assert.True(t, b.Cancelled())
		assert.Equal(t, []string{"r2"}, canceller.cancelled())
	})

	t.Run("requests enqueued after cancel are kept", func(t *testing.T) {
		m := lifecycle.NewRequestManager(nil, nil)
		m.Enqueue(handle("r1"))
		m.CancelAll(context.Background())

		late := handle("r2")
		m.Enqueue(late)
		assert.False(t, late.Cancelled())
		assert.Equal(t, 1, m.Pending())
	})
}

func TestOnNavigation(t *testing.T) {
	tests := []struct {
		name      string
		trigger   lifecycle.NavigationPhase
		event     lifecycle.NavigationPhase
		cancelled bool
	}{
		{"default end trigger on end", lifecycle.NavigationEnd, lifecycle.NavigationEnd, true},
		{"default end trigger on start", lifecycle.NavigationEnd, lifecycle.NavigationStart, false},
		{"start trigger on start", lifecycle.NavigationStart, lifecycle.NavigationStart, true},
		{"start trigger on end", lifecycle.NavigationStart, lifecycle.NavigationEnd, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := lifecycle.NewRequestManager(&fakeCanceller{}, nil, lifecycle.WithTrigger(tt.trigger))
			h := handle("r1")
			m.Enqueue(h)

			m.OnNavigation(context.Background(), tt.event)
			m.Wait()
			assert.Equal(t, tt.cancelled, h.Cancelled())
		})
	}

	t.Run("default trigger", func(t *testing.T) {
		assert.Equal(t, lifecycle.NavigationEnd, lifecycle.NewRequestManager(nil, nil).Trigger())
	})
}

func TestParsePhase(t *testing.T) {
	for in, want := range map[string]lifecycle.NavigationPhase{
		"start":            lifecycle.NavigationStart,
		"end":              lifecycle.NavigationEnd,
		"navigation_start": lifecycle.NavigationStart,
		"navigation_end":   lifecycle.NavigationEnd,
	} {
		got, err := lifecycle.ParsePhase(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := lifecycle.ParsePhase("leave")
	assert.Error(t, err)
}
