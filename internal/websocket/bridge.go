package websocket

import (
	"context"
	"log/slog"
	"sync"

	"divecli/internal/dive"
	"divecli/internal/operations"
	"divecli/internal/selection"
	"divecli/internal/subject"
	"divecli/pkg/contracts/events"
)

// Bridge forwards selection and job state to the hub
type Bridge struct {
	hub        *Hub
	collection *selection.Collection
	service    *dive.Service
	logger     *slog.Logger

	mu   sync.Mutex
	subs []subject.Subscription
}

// NewBridge creates a bridge. Call Start to begin forwarding.
func NewBridge(hub *Hub, collection *selection.Collection, service *dive.Service, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		hub:        hub,
		collection: collection,
		service:    service,
		logger:     logger.With(slog.String("component", "websocket.bridge")),
	}
}

// Start subscribes to every published state
func (b *Bridge) Start() {
	ctx := context.Background()
	subs := []subject.Subscription{
		b.collection.ActiveStack.Subscribe(func(s *selection.Stack) {
			if s != nil {
				b.hub.Broadcast(ctx, events.MessageTypeActiveStack, s.View(true))
			}
		}),
		b.collection.ActiveTop.Subscribe(func(n *operations.Node) {
			b.hub.Broadcast(ctx, events.MessageTypeActiveTop, selection.NodeView(n))
		}),
		b.collection.Members.Subscribe(func(stacks []*selection.Stack) {
			b.hub.Broadcast(ctx, events.MessageTypeStacks, selection.Views(stacks))
		}),
		b.service.Counts.Subscribe(func(values []dive.StackValue) {
			if values != nil {
				b.hub.Broadcast(ctx, events.MessageTypeCounts, b.collection.CountViews(values))
			}
		}),
	}
	b.service.Progress().OnChange(func(snap operations.ProgressSnapshot) {
		b.hub.Broadcast(ctx, events.MessageTypeProgress, progressEvent(snap))
	})

	b.mu.Lock()
	b.subs = append(b.subs, subs...)
	b.mu.Unlock()
	b.logger.Debug("bridge started", slog.Int("subscriptions", len(subs)))
}

// Close stops forwarding selection state
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Snapshot returns the current state for a newly connected client
func (b *Bridge) Snapshot() []events.WebSocketMessage {
	stacks := b.collection.Stacks()
	out := []events.WebSocketMessage{
		newMessage(events.MessageTypeStacks, selection.Views(stacks), ""),
		newMessage(events.MessageTypeActiveStack, stacks[0].View(true), ""),
		newMessage(events.MessageTypeActiveTop, selection.NodeView(stacks[0].Current()), ""),
		newMessage(events.MessageTypeProgress, progressEvent(b.service.Progress().Snapshot()), ""),
	}
	if values := b.service.Counts.Get(); values != nil {
		out = append(out, newMessage(events.MessageTypeCounts, b.collection.CountViews(values), ""))
	}
	return out
}

func progressEvent(s operations.ProgressSnapshot) events.ProgressEvent {
	return events.ProgressEvent{
		Epoch:      s.Epoch,
		Current:    s.Current,
		Total:      s.Total,
		Percentage: s.Percentage,
		Step:       s.Step,
		Processed:  s.Processed,
		StepTotal:  s.StepTotal,
		Finished:   s.Finished,
	}
}
