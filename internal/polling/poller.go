// Package polling implements the submit/poll protocol used by heavyweight
// jobs. A Poll is an explicit state machine driven by a scheduler:
//
//	SUBMITTED -> POLLING -> COMPLETED | CANCELLED | FAILED
//
// Each tick either observes a terminal status and delivers the result once,
// or re-arms the timer. Cancellation is cooperative: a tick that finds the
// handle cancelled exits without a network call.
package polling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"divecli/internal/operations"
	"divecli/internal/scheduler"
)

// Default intervals between poll attempts
const (
	DefaultInterval         = 250 * time.Millisecond
	DefaultComposedInterval = 1000 * time.Millisecond
)

// State is the lifecycle state of a Poll
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Source performs the status calls of simple and composed jobs
type Source interface {
	RequestData(ctx context.Context, requestID string) (operations.JobStatus, error)
	ComposedRequest(ctx context.Context, requestID string) (operations.JobStatus, error)
}

// Recorder receives poll events. It may be nil.
type Recorder interface {
	RecordPollTick(ctx context.Context, kind string)
	RecordJobFinished(ctx context.Context, kind, outcome string, duration time.Duration)
}

// Config holds poll intervals
type Config struct {
	Interval         time.Duration
	ComposedInterval time.Duration
}

// Options customizes a single poll
type Options struct {
	// OnProgress receives every non-terminal snapshot of a composed job
	OnProgress func(status operations.ProgressStatus, partial json.RawMessage)
	// OnDone runs exactly once when the poll reaches a terminal state. The
	// result is nil unless the poll completed.
	OnDone func(result *operations.ResultPayload, err error)
}

// Poller starts polls against a Source
type Poller struct {
	source           Source
	sched            scheduler.Scheduler
	interval         time.Duration
	composedInterval time.Duration
	logger           *slog.Logger
	metrics          Recorder
}

// NewPoller creates a poller. Zero intervals fall back to the defaults.
func NewPoller(source Source, sched scheduler.Scheduler, cfg Config, logger *slog.Logger, metrics Recorder) *Poller {
	if sched == nil {
		sched = scheduler.RealScheduler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ComposedInterval <= 0 {
		cfg.ComposedInterval = DefaultComposedInterval
	}
	return &Poller{
		source:           source,
		sched:            sched,
		interval:         cfg.Interval,
		composedInterval: cfg.ComposedInterval,
		logger:           logger.With(slog.String("component", "poller")),
		metrics:          metrics,
	}
}

// Start begins polling a submitted request. The first poll is scheduled
// with no delay.
func (p *Poller) Start(ctx context.Context, h *operations.RequestHandle, opts Options) *Poll {
	poll := &Poll{
		poller:   p,
		ctx:      ctx,
		handle:   h,
		opts:     opts,
		composed: h.Kind.Composed(),
		state:    StateSubmitted,
		started:  time.Now(),
		done:     make(chan struct{}),
	}

	p.logger.DebugContext(ctx, "poll started",
		slog.String("request_id", h.RequestID),
		slog.String("kind", string(h.Kind)),
		slog.Int64("epoch", h.Epoch),
	)

	poll.mu.Lock()
	poll.timer = p.sched.AfterFunc(0, poll.tick)
	poll.mu.Unlock()
	return poll
}

// Poll is one running instance of the protocol
type Poll struct {
	poller   *Poller
	ctx      context.Context
	handle   *operations.RequestHandle
	opts     Options
	composed bool
	started  time.Time

	mu       sync.Mutex
	state    State
	timer    scheduler.Timer
	inFlight bool
	calls    int
	result   *operations.ResultPayload
	err      error
	done     chan struct{}
}

// Handle returns the polled request
func (p *Poll) Handle() *operations.RequestHandle {
	return p.handle
}

// State returns the current state
func (p *Poll) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Calls returns the number of status calls issued so far
func (p *Poll) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Done is closed when the poll reaches a terminal state and its completion
// callback has returned
func (p *Poll) Done() <-chan struct{} {
	return p.done
}

// Cancel marks the handle cancelled. The next tick tears the poll down.
func (p *Poll) Cancel() {
	p.handle.Cancel()
}

// Result returns the terminal result once Done is closed
func (p *Poll) Result() (*operations.ResultPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

// Wait blocks until the poll finishes or ctx is done
func (p *Poll) Wait(ctx context.Context) (*operations.ResultPayload, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Poll) tick() {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	if p.handle.Cancelled() || p.ctx.Err() != nil {
		p.finishLocked(StateCancelled, nil, operations.ErrCancelled)
		return
	}
	if p.composed {
		// fixed rate from time zero; a tick that lands while the previous
		// call is still out is skipped
		p.timer = p.poller.sched.AfterFunc(p.poller.composedInterval, p.tick)
		if p.inFlight {
			p.mu.Unlock()
			return
		}
	}
	p.state = StatePolling
	p.inFlight = true
	p.calls++
	p.mu.Unlock()

	if p.poller.metrics != nil {
		p.poller.metrics.RecordPollTick(p.ctx, string(p.handle.Kind))
	}

	status, err := p.fetch()

	p.mu.Lock()
	p.inFlight = false
	if p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	if p.handle.Cancelled() {
		// the in-flight result is dropped
		p.finishLocked(StateCancelled, nil, operations.ErrCancelled)
		return
	}
	if err != nil {
		p.finishLocked(StateFailed, nil, operations.NewPollError(p.handle.RequestID, err))
		return
	}
	if status.Done {
		p.finishLocked(StateCompleted, operations.NewResultPayload(p.handle, status.Data), nil)
		return
	}
	if !p.composed {
		p.timer = p.poller.sched.AfterFunc(p.poller.interval, p.tick)
	}
	p.mu.Unlock()

	if status.Progress != nil && p.opts.OnProgress != nil {
		p.opts.OnProgress(*status.Progress, status.Partial)
	}
}

func (p *Poll) fetch() (operations.JobStatus, error) {
	if p.composed {
		return p.poller.source.ComposedRequest(p.ctx, p.handle.RequestID)
	}
	return p.poller.source.RequestData(p.ctx, p.handle.RequestID)
}

// finishLocked records the terminal state, releases the lock, runs the
// completion callback and then closes done, so waiters observe every side
// effect of OnDone. It must be called with p.mu held.
func (p *Poll) finishLocked(state State, result *operations.ResultPayload, err error) {
	p.state = state
	p.result = result
	p.err = err
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	logger := p.poller.logger
	attrs := []any{
		slog.String("request_id", p.handle.RequestID),
		slog.String("kind", string(p.handle.Kind)),
		slog.String("state", string(state)),
	}
	switch state {
	case StateFailed:
		logger.WarnContext(p.ctx, "poll failed", append(attrs, slog.String("error", err.Error()))...)
	case StateCancelled:
		logger.InfoContext(p.ctx, "poll cancelled", attrs...)
	default:
		logger.DebugContext(p.ctx, "poll completed", attrs...)
	}
	if p.poller.metrics != nil {
		p.poller.metrics.RecordJobFinished(p.ctx, string(p.handle.Kind), string(state), time.Since(p.started))
	}
	if p.opts.OnDone != nil {
		p.opts.OnDone(result, err)
	}
	close(p.done)
}
