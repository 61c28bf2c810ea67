// Package lifecycle tracks the requests issued during one navigation context
// and cancels them when the context changes.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"divecli/internal/operations"
)

// NavigationPhase identifies a navigation event
type NavigationPhase string

const (
	NavigationStart NavigationPhase = "navigation_start"
	NavigationEnd   NavigationPhase = "navigation_end"
)

// ParsePhase converts a configuration or request value into a phase
func ParsePhase(s string) (NavigationPhase, error) {
	switch NavigationPhase(s) {
	case NavigationStart, NavigationEnd:
		return NavigationPhase(s), nil
	case "start":
		return NavigationStart, nil
	case "end":
		return NavigationEnd, nil
	default:
		return "", fmt.Errorf("unknown navigation phase %q", s)
	}
}

// Canceller sends the server side cancel notification
type Canceller interface {
	ComposedCancel(ctx context.Context, requestID string) error
}

// Recorder receives cancellation events. It may be nil.
type Recorder interface {
	RecordCancelled(ctx context.Context, count int)
}

// RequestManager holds the outstanding requests of the current context
type RequestManager struct {
	canceller     Canceller
	trigger       NavigationPhase
	logger        *slog.Logger
	metrics       Recorder
	notifyTimeout time.Duration

	mu       sync.Mutex
	requests []*operations.RequestHandle
	wg       sync.WaitGroup
}

// Option customizes a RequestManager
type Option func(*RequestManager)

// WithTrigger selects the navigation phase that cancels requests
func WithTrigger(phase NavigationPhase) Option {
	return func(m *RequestManager) { m.trigger = phase }
}

// WithMetrics attaches a cancellation recorder
func WithMetrics(r Recorder) Option {
	return func(m *RequestManager) { m.metrics = r }
}

// WithNotifyTimeout bounds each server cancel notification
func WithNotifyTimeout(d time.Duration) Option {
	return func(m *RequestManager) { m.notifyTimeout = d }
}

// NewRequestManager creates a manager cancelling on NavigationEnd by default
func NewRequestManager(canceller Canceller, logger *slog.Logger, opts ...Option) *RequestManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &RequestManager{
		canceller:     canceller,
		trigger:       NavigationEnd,
		logger:        logger.With(slog.String("component", "request_manager")),
		notifyTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trigger returns the phase that cancels requests
func (m *RequestManager) Trigger() NavigationPhase {
	return m.trigger
}

// Enqueue registers a request for cancellation. Registering a handle that
// is already tracked is a no-op.
func (m *RequestManager) Enqueue(h *operations.RequestHandle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tracked := range m.requests {
		if tracked == h {
			return
		}
	}
	m.requests = append(m.requests, h)
}

// Done stops tracking a request that reached a terminal state, so a later
// CancelAll neither flags it nor notifies the server about it.
func (m *RequestManager) Done(h *operations.RequestHandle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tracked := range m.requests {
		if tracked == h {
			m.requests = append(m.requests[:i], m.requests[i+1:]...)
			return
		}
	}
}

// Pending returns the number of tracked requests
func (m *RequestManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CancelAll swaps the tracked set for an empty one, marks every request
// cancelled and notifies the server. Handles that were already cancelled
// elsewhere are skipped. Notification failures are logged. It returns the
// number of requests cancelled.
func (m *RequestManager) CancelAll(ctx context.Context) int {
	m.mu.Lock()
	tracked := m.requests
	m.requests = nil
	m.mu.Unlock()

	toCancel := make([]*operations.RequestHandle, 0, len(tracked))
	for _, h := range tracked {
		if h.Cancel() {
			toCancel = append(toCancel, h)
		}
	}
	if len(toCancel) == 0 {
		return 0
	}

	m.logger.InfoContext(ctx, "cancelling requests", slog.Int("count", len(toCancel)))
	if m.metrics != nil {
		m.metrics.RecordCancelled(ctx, len(toCancel))
	}

	if m.canceller != nil {
		// detached so a finished navigation request does not abort the notifications
		notifyCtx := context.WithoutCancel(ctx)
		for _, h := range toCancel {
			m.wg.Add(1)
			go m.notify(notifyCtx, h)
		}
	}
	return len(toCancel)
}

// OnNavigation cancels all requests when phase matches the trigger
func (m *RequestManager) OnNavigation(ctx context.Context, phase NavigationPhase) int {
	if phase != m.trigger {
		return 0
	}
	return m.CancelAll(ctx)
}

// Wait blocks until every pending cancel notification has finished
func (m *RequestManager) Wait() {
	m.wg.Wait()
}

func (m *RequestManager) notify(ctx context.Context, h *operations.RequestHandle) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, m.notifyTimeout)
	defer cancel()

	if err := m.canceller.ComposedCancel(ctx, h.RequestID); err != nil {
		m.logger.WarnContext(ctx, "cancel notification failed",
			slog.String("request_id", h.RequestID),
			slog.String("kind", string(h.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.DebugContext(ctx, "request cancelled on server", slog.String("request_id", h.RequestID))
}
