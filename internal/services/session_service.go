package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"divecli/internal/cache"
	"divecli/internal/dive"
	"divecli/internal/lifecycle"
	"divecli/internal/operations"
	"divecli/internal/selection"
	"divecli/internal/subject"
	api "divecli/pkg/contracts/api/v1"
	"divecli/pkg/contracts/domain"
	"divecli/pkg/contracts/events"
)

// Dataset kinds accepted by Dive and Compare
const (
	DatasetAnnotation = "annotation"
	DatasetExperiment = "experiment"
	DatasetMotif      = "motif"
	DatasetGenes      = "genes"
	DatasetInput      = "input"
	DatasetTiling     = "tiling"
)

// Enrichment types accepted by Enrich
const (
	EnrichGoTerms = "go_terms"
	EnrichOverlap = "overlap"
	EnrichFast    = "fast"
)

// SessionService turns UI intents into dive and selection operations
type SessionService struct {
	dive     *dive.Service
	stacks   *selection.Collection
	requests *lifecycle.RequestManager
	logger   *slog.Logger

	follow subject.Subscription
}

// NewSessionService creates a session over svc and stacks. New data-to-dive
// values are followed by the stack collection until Close.
func NewSessionService(svc *dive.Service, stacks *selection.Collection, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		dive:     svc,
		stacks:   stacks,
		requests: svc.Requests(),
		logger:   logger.With(slog.String("service", "session")),
		follow:   stacks.FollowDataToDive(svc.DataToDive),
	}
}

// Close stops following data-to-dive
func (s *SessionService) Close() {
	s.follow.Unsubscribe()
}

// SetGenome selects the current genome
func (s *SessionService) SetGenome(ctx context.Context, req api.GenomeRequest) domain.Genome {
	g := domain.Genome{IdName: domain.IdName{ID: req.ID, Name: req.Name}}
	s.dive.SetGenome(g)
	s.logger.InfoContext(ctx, "genome selected", slog.String("genome", g.Name))
	return g
}

// Genome returns the selected genome, if any
func (s *SessionService) Genome() (domain.Genome, bool) {
	return s.dive.Genome.Value()
}

// resolveDataset derives the node a dataset request names
func (s *SessionService) resolveDataset(ctx context.Context, req api.DatasetRequest, epoch int64) (*operations.Node, error) {
	genome, err := s.dive.CurrentGenome()
	if err != nil && req.Kind != DatasetGenes {
		return nil, err
	}
	switch req.Kind {
	case DatasetAnnotation:
		return s.dive.SelectAnnotationEntry(ctx, domain.IdName{ID: req.ID, Name: req.Name}, genome, epoch)
	case DatasetExperiment:
		return s.dive.SelectExperimentEntry(ctx, domain.IdName{ID: req.ID, Name: req.Name}, genome, epoch)
	case DatasetMotif:
		return s.dive.FindMotif(ctx, req.Name, genome, epoch)
	case DatasetGenes:
		return s.dive.SelectGenes(ctx, req.Genes, req.GeneModel, epoch)
	case DatasetInput:
		return s.dive.InputRegions(ctx, genome, req.RegionSet, epoch)
	case DatasetTiling:
		return s.dive.Tiling(ctx, req.Size, req.Chromosomes, genome, epoch)
	default:
		return nil, operations.NewInvalidArgumentError("dataset", fmt.Sprintf("unknown dataset kind %q", req.Kind))
	}
}

// Dive selects a dataset and makes it the new root of the active stack
func (s *SessionService) Dive(ctx context.Context, req api.DatasetRequest) (*operations.Node, error) {
	epoch := s.dive.NewBatch(1)
	n, err := s.resolveDataset(ctx, req, epoch)
	if err != nil {
		return nil, err
	}
	s.dive.SetDataToDive(n)
	s.dive.Progress().Finish()
	s.logger.InfoContext(ctx, "dive",
		slog.String("kind", req.Kind),
		slog.String("query_id", n.QueryID()),
	)
	return n, nil
}

// Compare selects a dataset and inserts it as a comparison stack
func (s *SessionService) Compare(ctx context.Context, req api.DatasetRequest) (*selection.Stack, error) {
	epoch := s.dive.NewBatch(1)
	n, err := s.resolveDataset(ctx, req, epoch)
	if err != nil {
		return nil, err
	}
	stack, err := s.stacks.InsertComparison(n)
	if err != nil {
		return nil, err
	}
	s.dive.Progress().Finish()
	return stack, nil
}

// Filter filters the active stack's current operation
func (s *SessionService) Filter(ctx context.Context, req api.FilterRequest) (*operations.Node, error) {
	epoch := s.dive.NewBatch(1)
	n, err := s.stacks.Active().Filter(ctx, req.Field, req.Operation, req.Value, req.Type, epoch)
	if err != nil {
		return nil, err
	}
	s.dive.Progress().Finish()
	return n, nil
}

// Overlap overlaps, or non-overlaps, the active stack with another stack
func (s *SessionService) Overlap(ctx context.Context, req api.OverlapRequest) (*operations.Node, error) {
	other, err := s.stacks.Find(req.StackID)
	if err != nil {
		return nil, err
	}
	amountType := req.AmountType
	if amountType == "" {
		amountType = operations.AmountTypeBP
	}
	epoch := s.dive.NewBatch(1)
	active := s.stacks.Active()
	var n *operations.Node
	if req.Overlap {
		n, err = active.Overlap(ctx, other, req.Amount, amountType, epoch)
	} else {
		n, err = active.NonOverlap(ctx, other, req.Amount, amountType, epoch)
	}
	if err != nil {
		return nil, err
	}
	s.dive.Progress().Finish()
	return n, nil
}

// Undo truncates the active stack to index
func (s *SessionService) Undo(_ context.Context, req api.UndoRequest) error {
	return s.stacks.Active().TruncateTo(req.Index)
}

// Save clones the active history into a new comparison stack
func (s *SessionService) Save(_ context.Context) (*selection.Stack, error) {
	return s.stacks.SaveActiveStack()
}

// Activate swaps the stack with id into the active slot
func (s *SessionService) Activate(_ context.Context, id string) error {
	return s.stacks.ActivateByID(id)
}

// Remove deletes the stack with id
func (s *SessionService) Remove(_ context.Context, id string) error {
	return s.stacks.RemoveByID(id)
}

// Stacks renders every stack in slot order
func (s *SessionService) Stacks() []events.StackView {
	return selection.Views(s.stacks.Stacks())
}

// CountStacks counts the current operation of every stack
func (s *SessionService) CountStacks(ctx context.Context) ([]events.StackCount, error) {
	values, err := s.dive.CountAllStacks(ctx, s.stacks.CurrentOperationPerStack())
	if err != nil {
		return nil, err
	}
	return s.stacks.CountViews(values), nil
}

// LatestCounts returns the last published counts
func (s *SessionService) LatestCounts() []events.StackCount {
	values := s.dive.Counts.Get()
	if values == nil {
		return nil
	}
	return s.stacks.CountViews(values)
}

// OverlapCounts intersects every stack with each experiment and counts
// the intersections
func (s *SessionService) OverlapCounts(ctx context.Context, req api.OverlapCountRequest) ([]events.ExperimentCounts, error) {
	genome, err := s.dive.CurrentGenome()
	if err != nil {
		return nil, err
	}
	results, err := s.dive.ProcessOverlaps(ctx, s.stacks.CurrentOperationPerStack(), req.Experiments, genome)
	if err != nil {
		return nil, err
	}
	out := make([]events.ExperimentCounts, len(results))
	for i, r := range results {
		out[i] = events.ExperimentCounts{
			Experiment: r.Experiment.Name(),
			QueryID:    r.Experiment.QueryID(),
			Counts:     s.stacks.CountViews(r.Values),
		}
	}
	return out, nil
}

// composedOps returns the current operation of every non-empty stack
func (s *SessionService) composedOps() ([]*operations.Node, error) {
	var ops []*operations.Node
	for _, n := range s.stacks.CurrentOperationPerStack() {
		if n != nil {
			ops = append(ops, n)
		}
	}
	if len(ops) == 0 {
		return nil, operations.NewInvalidArgumentError("composed", "no stack has initial data")
	}
	return ops, nil
}

// ComposedCount submits a composed overlap count and waits for its result
func (s *SessionService) ComposedCount(ctx context.Context, req api.ComposedCountRequest) (json.RawMessage, error) {
	ops, err := s.composedOps()
	if err != nil {
		return nil, err
	}
	filters, err := json.Marshal(req.Filters)
	if err != nil {
		return nil, operations.NewInvalidArgumentError("count_overlaps", err.Error())
	}
	if len(req.Filters) == 0 {
		filters = json.RawMessage("[]")
	}
	h, err := s.dive.CountOverlaps(ctx, ops, req.ExperimentIDs, filters, s.dive.NewBatch(1))
	if err != nil {
		return nil, err
	}
	return s.composedResult(ctx, h)
}

// Enrich submits an enrichment job and waits for its result
func (s *SessionService) Enrich(ctx context.Context, req api.EnrichmentRequest) (json.RawMessage, error) {
	ops, err := s.composedOps()
	if err != nil {
		return nil, err
	}
	epoch := s.dive.NewBatch(1)

	var h *operations.RequestHandle
	switch req.Type {
	case EnrichGoTerms:
		h, err = s.dive.EnrichGoTerms(ctx, ops, req.GeneModel, epoch)
	case EnrichOverlap, EnrichFast:
		genome, gerr := s.dive.CurrentGenome()
		if gerr != nil {
			return nil, gerr
		}
		if req.Type == EnrichFast {
			current := s.stacks.Active().Current()
			if current == nil {
				return nil, operations.NewInvalidArgumentError("enrich", "active stack has no initial data")
			}
			h, err = s.dive.EnrichFast(ctx, current, genome, epoch)
			break
		}
		datasets, merr := json.Marshal(req.Datasets)
		if merr != nil {
			return nil, operations.NewInvalidArgumentError("enrich", merr.Error())
		}
		h, err = s.dive.EnrichOverlap(ctx, ops, req.UniverseID, genome, datasets, epoch)
	default:
		return nil, operations.NewInvalidArgumentError("enrich", fmt.Sprintf("unknown enrichment type %q", req.Type))
	}
	if err != nil {
		return nil, err
	}
	return s.composedResult(ctx, h)
}

func (s *SessionService) composedResult(ctx context.Context, h *operations.RequestHandle) (json.RawMessage, error) {
	result, err := s.dive.ComposedResult(ctx, h, func(status operations.ProgressStatus, _ json.RawMessage) {
		s.logger.DebugContext(ctx, "composed progress",
			slog.String("request_id", h.RequestID),
			slog.String("step", status.Step),
			slog.Int("processed", status.Processed),
			slog.Int("total", status.Total),
		)
	})
	if err != nil {
		return nil, err
	}
	return result.Bytes(), nil
}

// Regions fetches the regions of the active stack's current operation
func (s *SessionService) Regions(ctx context.Context, format string) ([]byte, error) {
	current := s.stacks.Active().Current()
	if current == nil {
		return nil, operations.NewInvalidArgumentError("get_regions", "active stack has no initial data")
	}
	result, err := s.dive.GetRegions(ctx, current, format, s.dive.NewBatch(1))
	if err != nil {
		return nil, err
	}
	s.dive.Progress().Finish()
	var text string
	if err := result.Decode(&text); err == nil {
		return []byte(text), nil
	}
	return result.Bytes(), nil
}

// Navigate reports a navigation event and returns how many requests it
// cancelled
func (s *SessionService) Navigate(ctx context.Context, req api.NavigationRequest) (int, error) {
	phase, err := lifecycle.ParsePhase(req.Phase)
	if err != nil {
		return 0, operations.NewInvalidArgumentError("navigate", err.Error())
	}
	return s.requests.OnNavigation(ctx, phase), nil
}

// Metadata fetches the active root's metadata record and publishes it as
// the selected data info
func (s *SessionService) Metadata(ctx context.Context) (dive.Metadata, error) {
	md, err := s.stacks.ActiveCurrentMetadata(ctx)
	if err != nil {
		return dive.Metadata{}, err
	}
	s.dive.SetDataInfoSelected(md.Record)
	return md, nil
}

// AddBioSource selects a biosource. It reports false when one with the
// same key was already selected.
func (s *SessionService) AddBioSource(req api.BioSourceRequest) bool {
	return s.dive.AddSelectedBioSource(bioSource(req))
}

// RemoveBioSource deselects a biosource
func (s *SessionService) RemoveBioSource(req api.BioSourceRequest) bool {
	return s.dive.RemoveSelectedBioSource(bioSource(req))
}

// BioSources returns the selected biosources
func (s *SessionService) BioSources() []domain.BioSource {
	return s.dive.SelectedBioSources.Get()
}

func bioSource(req api.BioSourceRequest) domain.BioSource {
	return domain.BioSource{IdName: domain.IdName{ID: req.ID, Name: req.Name}}
}

// CacheStats returns the statistics of every dive cache
func (s *SessionService) CacheStats() []cache.Stats {
	return s.dive.CacheStats()
}

// CurrentEpoch returns the latest batch epoch
func (s *SessionService) CurrentEpoch() int64 {
	return s.dive.Epoch().Current()
}

// PendingRequests returns the number of tracked in-flight requests
func (s *SessionService) PendingRequests() int {
	return s.requests.Pending()
}
