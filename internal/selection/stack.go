// Package selection manages the analysis stacks of a session. Each stack is a
// history of operations rooted at a dataset; slot 0 of the collection is the
// active stack.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"divecli/internal/dive"
	"divecli/internal/operations"
	"divecli/internal/subject"
)

// Deriver resolves the derivations a stack applies to its current operation
type Deriver interface {
	Filter(ctx context.Context, source *operations.Node, field, op, value, valueType string, epoch int64) (*operations.Node, error)
	Overlap(ctx context.Context, data, filter *operations.Node, overlap bool, amount int, amountType string, epoch int64) (*operations.Node, error)
	Info(ctx context.Context, id string) (dive.Metadata, error)
}

// palette holds the stack colors, assigned round robin by color seed
var palette = [][3]int{
	{124, 181, 236},
	{67, 67, 72},
	{144, 237, 125},
	{247, 163, 92},
	{128, 133, 233},
	{241, 92, 128},
	{228, 211, 84},
	{43, 144, 143},
	{244, 91, 91},
	{145, 232, 225},
}

// Stack is one analysis: a root dataset followed by the operations applied
// to it
type Stack struct {
	id        string
	colorSeed int
	deriver   Deriver
	logger    *slog.Logger

	mu      sync.RWMutex
	history []*operations.Node

	// Top publishes the current operation after every change, nil when the
	// stack is empty
	Top *subject.Subject[*operations.Node]
}

// StackFactory creates stacks with distinct ids and color seeds
type StackFactory struct {
	deriver Deriver
	logger  *slog.Logger
	seed    atomic.Int64
}

// NewStackFactory creates a factory whose stacks derive through deriver
func NewStackFactory(deriver Deriver, logger *slog.Logger) *StackFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StackFactory{deriver: deriver, logger: logger.With(slog.String("component", "selection"))}
}

// New creates an empty stack
func (f *StackFactory) New() *Stack {
	seed := int(f.seed.Add(1) - 1)
	id := uuid.New().String()
	return &Stack{
		id:        id,
		colorSeed: seed,
		deriver:   f.deriver,
		logger:    f.logger.With(slog.String("stack_id", id)),
		Top:       subject.New[*operations.Node](nil),
	}
}

// ID returns the stack id
func (s *Stack) ID() string { return s.id }

// ColorSeed returns the palette index of the stack
func (s *Stack) ColorSeed() int { return s.colorSeed }

// Len returns the history length
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// IsEmpty reports whether the stack has no root yet
func (s *Stack) IsEmpty() bool {
	return s.Len() == 0
}

// SetInitialData roots an empty stack at n. A stack that already has a root
// must be cleared first.
func (s *Stack) SetInitialData(n *operations.Node) error {
	if n == nil {
		return operations.NewInvalidArgumentError("set_initial_data", "initial operation is required")
	}
	s.mu.Lock()
	if len(s.history) > 0 {
		s.mu.Unlock()
		return operations.NewInvalidArgumentError("set_initial_data", "stack already has initial data")
	}
	s.history = []*operations.Node{n}
	s.mu.Unlock()

	s.logger.Debug("stack rooted", slog.String("operation", n.Fingerprint()))
	s.Top.Next(n)
	return nil
}

// Clear empties the history
func (s *Stack) Clear() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	s.Top.Next(nil)
}

// Push appends a derived operation
func (s *Stack) Push(n *operations.Node) error {
	if n == nil {
		return operations.NewInvalidArgumentError("push", "operation is required")
	}
	s.mu.Lock()
	if len(s.history) == 0 {
		s.mu.Unlock()
		return operations.NewInvalidArgumentError("push", "stack has no initial data")
	}
	s.history = append(s.history, n)
	s.mu.Unlock()
	s.Top.Next(n)
	return nil
}

// TruncateTo drops every operation after index, undoing later steps
func (s *Stack) TruncateTo(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.history) {
		s.mu.Unlock()
		return operations.NewInvalidArgumentError("undo", fmt.Sprintf("index %d out of range", index))
	}
	if index == len(s.history)-1 {
		s.mu.Unlock()
		return nil
	}
	s.history = s.history[:index+1:index+1]
	top := s.history[index]
	s.mu.Unlock()
	s.Top.Next(top)
	return nil
}

// Current returns the latest operation, nil when the stack is empty
func (s *Stack) Current() *operations.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1]
}

// Root returns the initial operation, nil when the stack is empty
func (s *Stack) Root() *operations.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return nil
	}
	return s.history[0]
}

// History returns a copy of the operation sequence
func (s *Stack) History() []*operations.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*operations.Node(nil), s.history...)
}

// CloneHistory deep copies the operation sequence. No node is shared with
// the stack.
func (s *Stack) CloneHistory() []*operations.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*operations.Node, len(s.history))
	for i, n := range s.history {
		out[i] = n.Clone(n.Epoch())
	}
	return out
}

// Name returns the root dataset name
func (s *Stack) Name() string {
	root := s.Root()
	if root == nil {
		return ""
	}
	return root.Name()
}

// Color returns the stack color as a css rgba value
func (s *Stack) Color(alpha float64) string {
	c := palette[s.colorSeed%len(palette)]
	return fmt.Sprintf("rgba(%d, %d, %d, %g)", c[0], c[1], c[2], alpha)
}

// Filter filters the current operation and pushes the result
func (s *Stack) Filter(ctx context.Context, field, op, value, valueType string, epoch int64) (*operations.Node, error) {
	current := s.Current()
	if current == nil {
		return nil, operations.NewInvalidArgumentError("filter", "stack has no initial data")
	}
	n, err := s.deriver.Filter(ctx, current, field, op, value, valueType, epoch)
	if err != nil {
		return nil, err
	}
	return n, s.Push(n)
}

// Overlap keeps the regions of the current operation that overlap the
// current operation of other
func (s *Stack) Overlap(ctx context.Context, other *Stack, amount int, amountType string, epoch int64) (*operations.Node, error) {
	return s.overlap(ctx, other, true, amount, amountType, epoch)
}

// NonOverlap keeps the regions of the current operation that do not overlap
// the current operation of other
func (s *Stack) NonOverlap(ctx context.Context, other *Stack, amount int, amountType string, epoch int64) (*operations.Node, error) {
	return s.overlap(ctx, other, false, amount, amountType, epoch)
}

func (s *Stack) overlap(ctx context.Context, other *Stack, overlap bool, amount int, amountType string, epoch int64) (*operations.Node, error) {
	current := s.Current()
	if current == nil || other == nil || other.Current() == nil {
		return nil, operations.NewInvalidArgumentError("overlap", "both stacks need initial data")
	}
	n, err := s.deriver.Overlap(ctx, current, other.Current(), overlap, amount, amountType, epoch)
	if err != nil {
		return nil, err
	}
	return n, s.Push(n)
}

// clone creates a stack from f holding a deep copy of the history
func (s *Stack) clone(f *StackFactory) *Stack {
	c := f.New()
	c.history = s.CloneHistory()
	if len(c.history) > 0 {
		c.Top.Next(c.history[len(c.history)-1])
	}
	return c
}
