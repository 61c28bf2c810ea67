package dive

import (
	"context"
	"encoding/json"
	"log/slog"

	"divecli/internal/operations"
	"divecli/internal/polling"
)

// ProgressFunc receives non-terminal snapshots of a composed job
type ProgressFunc func(status operations.ProgressStatus, partial json.RawMessage)

// CountRegions counts the regions of op. A repeated count of an equivalent
// operation reuses the submitted request instead of resubmitting it.
func (s *Service) CountRegions(ctx context.Context, op *operations.Node, epoch int64) (*operations.ResultPayload, error) {
	h, err := s.countRequest(ctx, op, epoch)
	if err != nil {
		return nil, err
	}
	result, err := s.GetResult(ctx, h, epoch)
	if err != nil {
		// a cancelled or failed request must be resubmitted next time
		s.requestsBy.Invalidate(op.Fingerprint())
		return nil, err
	}
	return result, nil
}

func (s *Service) countRequest(ctx context.Context, op *operations.Node, epoch int64) (*operations.RequestHandle, error) {
	if op == nil {
		return nil, operations.NewInvalidArgumentError(string(operations.JobCountRegions), "operation is required")
	}
	if h, ok := s.requestsBy.Get(op.Fingerprint(), epoch); ok {
		// a finished request keeps serving its stored result even after a
		// later navigation flagged the handle
		if !h.Cancelled() || s.results.Contains(h.RequestID) {
			return h, nil
		}
		s.requestsBy.Invalidate(op.Fingerprint())
	}
	requestID, err := s.remote.CountRegions(ctx, op.QueryID())
	if err != nil {
		return nil, operations.NewSubmissionError(string(operations.JobCountRegions), err)
	}
	h := operations.NewRequestHandle(op, requestID, operations.JobCountRegions, epoch)
	s.requestsBy.Put(op.Fingerprint(), h)
	return h, nil
}

// GetRegions exports the regions of op in format
func (s *Service) GetRegions(ctx context.Context, op *operations.Node, format string, epoch int64) (*operations.ResultPayload, error) {
	if op == nil {
		return nil, operations.NewInvalidArgumentError(string(operations.JobGetRegions), "operation is required")
	}
	if format == "" {
		format = "CHROMOSOME,START,END"
	}
	requestID, err := s.remote.GetRegions(ctx, op.QueryID(), format)
	if err != nil {
		return nil, operations.NewSubmissionError(string(operations.JobGetRegions), err)
	}
	return s.GetResult(ctx, operations.NewRequestHandle(op, requestID, operations.JobGetRegions, epoch), epoch)
}

// GetResult returns the terminal result of h. A request that already
// completed is served from the result cache with no network call; otherwise
// the handle is tracked for cancellation and polled to completion.
func (s *Service) GetResult(ctx context.Context, h *operations.RequestHandle, epoch int64) (*operations.ResultPayload, error) {
	return s.await(ctx, h, epoch, nil)
}

// ComposedResult is GetResult for composed jobs. Progress snapshots update
// the progress tracker and are forwarded to onProgress.
func (s *Service) ComposedResult(ctx context.Context, h *operations.RequestHandle, onProgress ProgressFunc) (*operations.ResultPayload, error) {
	result, err := s.await(ctx, h, h.Epoch, func(status operations.ProgressStatus, partial json.RawMessage) {
		s.progress.SetStatus(status)
		if onProgress != nil {
			onProgress(status, partial)
		}
	})
	if err == nil && s.epoch.IsCurrent(h.Epoch) {
		s.progress.Finish()
	}
	return result, err
}

func (s *Service) await(ctx context.Context, h *operations.RequestHandle, epoch int64, onProgress ProgressFunc) (*operations.ResultPayload, error) {
	if h == nil {
		return nil, operations.NewInvalidArgumentError("result", "request handle is required")
	}
	if result, ok := s.results.Get(h.RequestID, epoch); ok {
		s.progress.Increment(epoch)
		return result, nil
	}
	if h.Cancelled() {
		return nil, operations.ErrCancelled
	}

	v, _, err := s.group.Do("result:"+h.RequestID, func() (interface{}, error) {
		s.requests.Enqueue(h)
		poll := s.poller.Start(ctx, h, polling.Options{
			OnProgress: onProgress,
			OnDone: func(result *operations.ResultPayload, err error) {
				if err == nil {
					s.results.Put(h.RequestID, result)
				}
				s.requests.Done(h)
			},
		})
		result, err := poll.Wait(ctx)
		if err != nil {
			// the caller went away; stop polling on its behalf
			poll.Cancel()
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		s.logger.DebugContext(ctx, "request did not complete",
			slog.String("request_id", h.RequestID),
			slog.String("kind", string(h.Kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.progress.Increment(epoch)
	return v.(*operations.ResultPayload).WithEpoch(epoch), nil
}

func queryIDs(ops []*operations.Node) []string {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		if op != nil {
			ids = append(ids, op.QueryID())
		}
	}
	return ids
}

func (s *Service) submitComposed(ctx context.Context, kind operations.JobKind, ops []*operations.Node, epoch int64, submit func(context.Context, []string) (string, error)) (*operations.RequestHandle, error) {
	ids := queryIDs(ops)
	if len(ids) == 0 {
		return nil, operations.NewInvalidArgumentError(string(kind), "at least one query is required")
	}
	requestID, err := submit(ctx, ids)
	if err != nil {
		return nil, operations.NewSubmissionError(string(kind), err)
	}
	var op *operations.Node
	if len(ops) == 1 {
		op = ops[0]
	}
	h := operations.NewRequestHandle(op, requestID, kind, epoch)
	s.requests.Enqueue(h)
	s.logger.InfoContext(ctx, "composed job submitted",
		slog.String("kind", string(kind)),
		slog.String("request_id", requestID),
		slog.Int("queries", len(ids)),
	)
	return h, nil
}

// CountOverlaps submits a composed overlap count of ops against experiments
func (s *Service) CountOverlaps(ctx context.Context, ops []*operations.Node, experimentIDs []string, filters json.RawMessage, epoch int64) (*operations.RequestHandle, error) {
	if len(experimentIDs) == 0 {
		return nil, operations.NewInvalidArgumentError(string(operations.JobCountOverlaps), "at least one experiment is required")
	}
	return s.submitComposed(ctx, operations.JobCountOverlaps, ops, epoch, func(ctx context.Context, ids []string) (string, error) {
		return s.remote.CountOverlaps(ctx, ids, experimentIDs, filters)
	})
}

// CountGenesOverlaps submits a composed gene overlap count
func (s *Service) CountGenesOverlaps(ctx context.Context, ops []*operations.Node, geneModel string, epoch int64) (*operations.RequestHandle, error) {
	return s.submitComposed(ctx, operations.JobCountGenesOverlaps, ops, epoch, func(ctx context.Context, ids []string) (string, error) {
		return s.remote.CountGenesOverlaps(ctx, ids, geneModel)
	})
}

// EnrichGoTerms submits a GO term enrichment
func (s *Service) EnrichGoTerms(ctx context.Context, ops []*operations.Node, geneModel string, epoch int64) (*operations.RequestHandle, error) {
	if geneModel == "" {
		return nil, operations.NewInvalidArgumentError(string(operations.JobEnrichGoTerms), "gene model is required")
	}
	return s.submitComposed(ctx, operations.JobEnrichGoTerms, ops, epoch, func(ctx context.Context, ids []string) (string, error) {
		return s.remote.EnrichGoTerms(ctx, ids, geneModel)
	})
}

// EnrichOverlap submits an overlap enrichment against a universe
func (s *Service) EnrichOverlap(ctx context.Context, ops []*operations.Node, universeID, genome string, datasets json.RawMessage, epoch int64) (*operations.RequestHandle, error) {
	if universeID == "" {
		return nil, operations.NewInvalidArgumentError(string(operations.JobEnrichOverlap), "universe is required")
	}
	return s.submitComposed(ctx, operations.JobEnrichOverlap, ops, epoch, func(ctx context.Context, ids []string) (string, error) {
		return s.remote.EnrichOverlap(ctx, ids, universeID, genome, datasets)
	})
}

// EnrichFast submits a fast enrichment of a single operation
func (s *Service) EnrichFast(ctx context.Context, op *operations.Node, genome string, epoch int64) (*operations.RequestHandle, error) {
	return s.submitComposed(ctx, operations.JobEnrichFast, []*operations.Node{op}, epoch, func(ctx context.Context, ids []string) (string, error) {
		return s.remote.EnrichFast(ctx, ids[0], genome)
	})
}

// ComposedCancel cancels h locally and asks the service to stop it. The
// notification is best effort.
func (s *Service) ComposedCancel(ctx context.Context, h *operations.RequestHandle) {
	if h == nil || !h.Cancel() {
		return
	}
	if err := s.remote.ComposedCancel(context.WithoutCancel(ctx), h.RequestID); err != nil {
		s.logger.WarnContext(ctx, "cancel notification failed",
			slog.String("request_id", h.RequestID),
			slog.String("error", err.Error()),
		)
	}
}
