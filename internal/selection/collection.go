package selection

import (
	"context"
	"log/slog"
	"sync"

	"divecli/internal/dive"
	"divecli/internal/operations"
	"divecli/internal/subject"
)

const (
	// InvalidStackName is returned for a position outside the collection
	InvalidStackName = "Invalid Stack"
	// InvalidStackColor is returned for a position outside the collection
	InvalidStackColor = "#FFFFFF"
)

// Collection is the ordered set of stacks of a session. Slot 0 always holds
// the active stack.
type Collection struct {
	factory *StackFactory
	logger  *slog.Logger

	mu     sync.RWMutex
	stacks []*Stack

	// subMu orders the swaps of the active top subscription
	subMu  sync.Mutex
	topSub subject.Subscription

	// ActiveStack publishes the active stack after every activation
	ActiveStack *subject.Subject[*Stack]
	// ActiveTop publishes the current operation of the active stack
	ActiveTop *subject.Subject[*operations.Node]
	// Members publishes the stacks in slot order after every membership or
	// order change
	Members *subject.Subject[[]*Stack]
}

// NewCollection creates a collection holding one empty stack
func NewCollection(factory *StackFactory, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collection{
		factory:     factory,
		logger:      logger.With(slog.String("component", "selection")),
		stacks:      []*Stack{factory.New()},
		ActiveStack: subject.Empty[*Stack](),
		ActiveTop:   subject.Empty[*operations.Node](),
		Members:     subject.Empty[[]*Stack](),
	}
	c.follow(c.stacks[0])
	return c
}

// follow moves the top subscription to active and publishes it
func (c *Collection) follow(active *Stack) {
	c.subMu.Lock()
	if c.topSub != nil {
		c.topSub.Unsubscribe()
	}
	c.topSub = active.Top.Subscribe(func(n *operations.Node) {
		c.ActiveTop.Next(n)
	})
	c.subMu.Unlock()
	c.ActiveStack.Next(active)
	c.Members.Next(c.Stacks())
}

// Close detaches the active top subscription
func (c *Collection) Close() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.topSub != nil {
		c.topSub.Unsubscribe()
		c.topSub = nil
	}
}

// Active returns the stack in slot 0
func (c *Collection) Active() *Stack {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stacks[0]
}

// Stacks returns the stacks in slot order
func (c *Collection) Stacks() []*Stack {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Stack(nil), c.stacks...)
}

// Len returns the number of stacks
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stacks)
}

// Find returns the stack with id
func (c *Collection) Find(id string) (*Stack, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.stacks {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, operations.ErrStackNotFound
}

func (c *Collection) indexLocked(s *Stack) int {
	for i, candidate := range c.stacks {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Dive roots a fresh stack at n, puts it in slot 0 and makes it active. The
// stack it replaces is dropped.
func (c *Collection) Dive(n *operations.Node) error {
	if n == nil {
		return operations.NewInvalidArgumentError("dive", "operation is required")
	}
	fresh := c.factory.New()
	if err := fresh.SetInitialData(n); err != nil {
		return err
	}
	c.mu.Lock()
	replaced := c.stacks[0]
	c.stacks[0] = fresh
	c.mu.Unlock()

	c.logger.Info("dive",
		slog.String("stack_id", fresh.ID()),
		slog.String("replaced_stack_id", replaced.ID()),
		slog.String("dataset", n.Name()),
	)
	c.follow(fresh)
	return nil
}

// Activate swaps s into slot 0. Every other position keeps its stack.
func (c *Collection) Activate(s *Stack) error {
	c.mu.Lock()
	k := c.indexLocked(s)
	if k < 0 {
		c.mu.Unlock()
		return operations.ErrStackNotFound
	}
	if k == 0 {
		c.mu.Unlock()
		return nil
	}
	c.stacks[0], c.stacks[k] = c.stacks[k], c.stacks[0]
	c.mu.Unlock()

	c.logger.Debug("stack activated", slog.String("stack_id", s.ID()), slog.Int("from", k))
	c.follow(s)
	return nil
}

// ActivateByID activates the stack with id
func (c *Collection) ActivateByID(id string) error {
	s, err := c.Find(id)
	if err != nil {
		return err
	}
	return c.Activate(s)
}

// InsertComparison roots a new stack at n in slot 1
func (c *Collection) InsertComparison(n *operations.Node) (*Stack, error) {
	s := c.factory.New()
	if err := s.SetInitialData(n); err != nil {
		return nil, err
	}
	c.insertAt1(s)
	return s, nil
}

func (c *Collection) insertAt1(s *Stack) {
	c.mu.Lock()
	c.stacks = append(c.stacks, nil)
	copy(c.stacks[2:], c.stacks[1:])
	c.stacks[1] = s
	c.mu.Unlock()
	c.Members.Next(c.Stacks())
}

// Remove deletes s. Removing the active stack leaves a fresh empty stack in
// slot 0.
func (c *Collection) Remove(s *Stack) error {
	c.mu.Lock()
	k := c.indexLocked(s)
	if k < 0 {
		c.mu.Unlock()
		return operations.ErrStackNotFound
	}
	if k > 0 {
		c.stacks = append(c.stacks[:k], c.stacks[k+1:]...)
		c.mu.Unlock()
		c.Members.Next(c.Stacks())
		return nil
	}
	fresh := c.factory.New()
	c.stacks[0] = fresh
	c.mu.Unlock()

	c.follow(fresh)
	return nil
}

// RemoveByID removes the stack with id
func (c *Collection) RemoveByID(id string) error {
	s, err := c.Find(id)
	if err != nil {
		return err
	}
	return c.Remove(s)
}

// SaveActiveStack snapshots the active stack into a new stack in slot 1
func (c *Collection) SaveActiveStack() (*Stack, error) {
	active := c.Active()
	if active.IsEmpty() {
		return nil, operations.NewInvalidArgumentError("save", "active stack has no initial data")
	}
	saved := active.clone(c.factory)
	c.insertAt1(saved)
	return saved, nil
}

// CurrentOperationPerStack returns the current operation of every stack in
// slot order, nil for an empty stack
func (c *Collection) CurrentOperationPerStack() []*operations.Node {
	stacks := c.Stacks()
	out := make([]*operations.Node, len(stacks))
	for i, s := range stacks {
		out[i] = s.Current()
	}
	return out
}

// StackPosByQueryID returns the slot of the stack whose current operation
// has queryID, or -1
func (c *Collection) StackPosByQueryID(queryID string) int {
	for i, s := range c.Stacks() {
		if cur := s.Current(); cur != nil && cur.QueryID() == queryID {
			return i
		}
	}
	return -1
}

// StackName returns the name of the stack at pos
func (c *Collection) StackName(pos int) string {
	stacks := c.Stacks()
	if pos < 0 || pos >= len(stacks) {
		return InvalidStackName
	}
	return stacks[pos].Name()
}

// StackColor returns the color of the stack at pos
func (c *Collection) StackColor(pos int, alpha float64) string {
	stacks := c.Stacks()
	if pos < 0 || pos >= len(stacks) {
		return InvalidStackColor
	}
	return stacks[pos].Color(alpha)
}

// ActiveCurrentMetadata fetches the catalogue metadata of the dataset the
// active stack is rooted at. Roots selected by name only fall back to their
// query id.
func (c *Collection) ActiveCurrentMetadata(ctx context.Context) (dive.Metadata, error) {
	active := c.Active()
	root := active.Root()
	if root == nil {
		return dive.Metadata{}, operations.NewNotFoundError("metadata", "active stack has no initial data")
	}
	id := root.DatasetID()
	if id == "" {
		id = root.QueryID()
	}
	return active.deriver.Info(ctx, id)
}

// FollowDataToDive dives into every non-nil value published by src
func (c *Collection) FollowDataToDive(src *subject.Subject[*operations.Node]) subject.Subscription {
	return src.Subscribe(func(n *operations.Node) {
		if n == nil {
			return
		}
		if err := c.Dive(n); err != nil {
			c.logger.Warn("dive failed", slog.String("error", err.Error()))
		}
	})
}
