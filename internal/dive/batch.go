package dive

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"divecli/internal/operations"
)

// ErrStaleBatch is returned by a batch that was superseded before it finished
var ErrStaleBatch = operations.NewCancellationError("batch")

// StackValue tags a node and its optional result with a stack position
type StackValue struct {
	Stack  int
	Node   *operations.Node
	Result *operations.ResultPayload
}

// Count decodes the region count of the value's result
func (v StackValue) Count() (int64, error) {
	if v.Result == nil {
		return 0, operations.NewNotFoundError("count", "value has no result")
	}
	return v.Result.Count()
}

// OverlapCounts holds the per-stack counts of one experiment
type OverlapCounts struct {
	Experiment *operations.Node
	Values     []StackValue
}

// ValuesOf tags ops with their stack positions. Nil entries, the current
// operation of an empty stack, are skipped without shifting positions.
func ValuesOf(ops []*operations.Node) []StackValue {
	values := make([]StackValue, 0, len(ops))
	for i, op := range ops {
		if op != nil {
			values = append(values, StackValue{Stack: i, Node: op})
		}
	}
	return values
}

// SelectExperiments selects every named experiment. The batch fails as a
// whole when any selection fails.
func (s *Service) SelectExperiments(ctx context.Context, names []string, genome string, epoch int64) ([]*operations.Node, error) {
	g, gctx := errgroup.WithContext(ctx)
	nodes := make([]*operations.Node, len(names))
	for i, name := range names {
		g.Go(func() error {
			n, err := s.SelectExperiment(gctx, name, genome, epoch)
			if err != nil {
				return err
			}
			nodes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// IntersectWithSelected intersects every value's node with filter keeping
// the stack positions
func (s *Service) IntersectWithSelected(ctx context.Context, values []StackValue, filter *operations.Node, epoch int64) ([]StackValue, error) {
	return s.mapValues(ctx, values, func(ctx context.Context, v StackValue) (StackValue, error) {
		n, err := s.Intersection(ctx, v.Node, filter, epoch)
		if err != nil {
			return StackValue{}, err
		}
		return StackValue{Stack: v.Stack, Node: n}, nil
	})
}

// OverlapWithSelected overlaps every value's node with filter keeping the
// stack positions
func (s *Service) OverlapWithSelected(ctx context.Context, values []StackValue, filter *operations.Node, overlap bool, amount int, amountType string, epoch int64) ([]StackValue, error) {
	return s.mapValues(ctx, values, func(ctx context.Context, v StackValue) (StackValue, error) {
		n, err := s.Overlap(ctx, v.Node, filter, overlap, amount, amountType, epoch)
		if err != nil {
			return StackValue{}, err
		}
		return StackValue{Stack: v.Stack, Node: n}, nil
	})
}

// CountRegionsBatch counts the regions of every value's node
func (s *Service) CountRegionsBatch(ctx context.Context, values []StackValue, epoch int64) ([]StackValue, error) {
	return s.mapValues(ctx, values, func(ctx context.Context, v StackValue) (StackValue, error) {
		result, err := s.CountRegions(ctx, v.Node, epoch)
		if err != nil {
			return StackValue{}, err
		}
		return StackValue{Stack: v.Stack, Node: v.Node, Result: result}, nil
	})
}

// GetResultBatch waits for every handle. Results keep the handle order.
func (s *Service) GetResultBatch(ctx context.Context, handles []*operations.RequestHandle, epoch int64) ([]*operations.ResultPayload, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*operations.ResultPayload, len(handles))
	for i, h := range handles {
		g.Go(func() error {
			r, err := s.GetResult(gctx, h, epoch)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CountAllStacks starts a batch counting the current operation of every
// stack and publishes the counts. A superseded batch publishes nothing and
// returns ErrStaleBatch.
func (s *Service) CountAllStacks(ctx context.Context, ops []*operations.Node) ([]StackValue, error) {
	values := ValuesOf(ops)
	epoch := s.NewBatch(len(values))
	values, err := s.CountRegionsBatch(ctx, values, epoch)
	if err != nil {
		return nil, err
	}
	if !s.PublishCounts(ctx, epoch, values) {
		return nil, ErrStaleBatch
	}
	return values, nil
}

// ProcessOverlaps selects each experiment, intersects every stack's current
// operation with it and counts the intersections
func (s *Service) ProcessOverlaps(ctx context.Context, ops []*operations.Node, experiments []string, genome string) ([]OverlapCounts, error) {
	if genome == "" {
		return nil, operations.ErrNoGenome
	}
	stacks := ValuesOf(ops)
	epoch := s.NewBatch(len(experiments) * (1 + 2*len(stacks)))

	selected, err := s.SelectExperiments(ctx, experiments, genome, epoch)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	out := make([]OverlapCounts, len(selected))
	for i, exp := range selected {
		g.Go(func() error {
			intersected, err := s.IntersectWithSelected(gctx, stacks, exp, epoch)
			if err != nil {
				return err
			}
			counted, err := s.CountRegionsBatch(gctx, intersected, epoch)
			if err != nil {
				return err
			}
			out[i] = OverlapCounts{Experiment: exp, Values: counted}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !s.IsCurrent(ctx, "overlaps", epoch) {
		return nil, ErrStaleBatch
	}
	s.progress.Finish()
	s.logger.InfoContext(ctx, "overlaps processed",
		slog.Int("experiments", len(out)),
		slog.Int("stacks", len(stacks)),
		slog.String("elapsed", s.progress.ElapsedString()),
	)
	return out, nil
}

func (s *Service) mapValues(ctx context.Context, values []StackValue, fn func(context.Context, StackValue) (StackValue, error)) ([]StackValue, error) {
	g, gctx := errgroup.WithContext(ctx)
	out := make([]StackValue, len(values))
	for i, v := range values {
		g.Go(func() error {
			mapped, err := fn(gctx, v)
			if err != nil {
				return err
			}
			out[i] = mapped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
