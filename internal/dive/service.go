// Package dive orchestrates derivation steps and heavyweight jobs against the
// remote query service. It owns the fingerprint, request and result caches,
// the shared epoch counter and the per-session selection subjects.
package dive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"divecli/internal/cache"
	"divecli/internal/lifecycle"
	"divecli/internal/operations"
	"divecli/internal/polling"
	"divecli/internal/subject"
	"divecli/pkg/contracts/domain"
)

// Remote is the subset of the remote client the service calls
type Remote interface {
	SelectAnnotations(ctx context.Context, name, genome string) (string, error)
	SelectExperiments(ctx context.Context, name, genome string) (string, error)
	MergeQueries(ctx context.Context, queryIDs []string) (string, error)
	FilterRegions(ctx context.Context, queryID, field, op, value, valueType string) (string, error)
	Intersection(ctx context.Context, dataID, filterID string) (string, error)
	Overlap(ctx context.Context, dataID, filterID string, overlap bool, amount int, amountType string) (string, error)
	FindMotif(ctx context.Context, motif, genome string) (string, error)
	QueryCache(ctx context.Context, queryID string) (string, error)
	TilingRegions(ctx context.Context, size int, chromosomes []string, genome string) (string, error)
	SelectGenes(ctx context.Context, genes []string, geneModel string) (string, error)
	InputRegions(ctx context.Context, genome, regionSet string) (string, error)

	CountRegions(ctx context.Context, queryID string) (string, error)
	GetRegions(ctx context.Context, queryID, format string) (string, error)
	CountOverlaps(ctx context.Context, queryIDs, experimentIDs []string, filters json.RawMessage) (string, error)
	CountGenesOverlaps(ctx context.Context, queryIDs []string, geneModel string) (string, error)
	EnrichGoTerms(ctx context.Context, queryIDs []string, geneModel string) (string, error)
	EnrichOverlap(ctx context.Context, queryIDs []string, universeID, genome string, datasets json.RawMessage) (string, error)
	EnrichFast(ctx context.Context, queryID, genome string) (string, error)
	ComposedCancel(ctx context.Context, requestID string) error

	Info(ctx context.Context, id string) (json.RawMessage, error)
}

// Recorder receives stale result events. It may be nil.
type Recorder interface {
	RecordStaleResult(ctx context.Context, kind string)
}

// Options configures a Service
type Options struct {
	Remote   Remote
	Poller   *polling.Poller
	Requests *lifecycle.RequestManager
	Logger   *slog.Logger
	Metrics  Recorder

	// CacheMaxEntries bounds each cache with LRU eviction, 0 is unbounded
	CacheMaxEntries int
	// Dedupe shares in-flight resolutions of the same fingerprint
	Dedupe       bool
	CacheMetrics cache.Recorder
}

// Service is the root owner of every cache and piece of session state
type Service struct {
	remote   Remote
	poller   *polling.Poller
	requests *lifecycle.RequestManager
	logger   *slog.Logger
	metrics  Recorder
	group    *cache.Group

	selects    *cache.Cache[*operations.Node]
	derived    *cache.Cache[*operations.Node]
	filters    *cache.MultiKeyCache[*operations.Node]
	intersects *cache.MultiKeyCache[*operations.Node]
	overlaps   *cache.MultiKeyCache[*operations.Node]
	requestsBy *cache.Cache[*operations.RequestHandle]
	results    *cache.Cache[*operations.ResultPayload]

	epoch    *operations.Epoch
	progress *operations.ProgressTracker

	// Session state, each a single value broadcast channel
	Genome             *subject.Subject[domain.Genome]
	DataToDive         *subject.Subject[*operations.Node]
	EpigeneticMark     *subject.Subject[domain.EpigeneticMark]
	DataInfoSelected   *subject.Subject[json.RawMessage]
	SelectedBioSources *subject.Subject[[]domain.BioSource]
	Counts             *subject.Subject[[]StackValue]
}

// NewService creates a service. Remote and Poller are required.
func NewService(opts Options) (*Service, error) {
	if opts.Remote == nil {
		return nil, errors.New("dive: remote is required")
	}
	if opts.Poller == nil {
		return nil, errors.New("dive: poller is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	requests := opts.Requests
	if requests == nil {
		requests = lifecycle.NewRequestManager(opts.Remote, logger)
	}

	newOpts := func(name string) cache.Options {
		return cache.Options{Name: name, MaxEntries: opts.CacheMaxEntries, Logger: logger, Metrics: opts.CacheMetrics}
	}

	return &Service{
		remote:   opts.Remote,
		poller:   opts.Poller,
		requests: requests,
		logger:   logger.With(slog.String("component", "dive")),
		metrics:  opts.Metrics,
		group:    cache.NewGroup(opts.Dedupe),

		selects:    cache.NewNodeCache(newOpts("selects")),
		derived:    cache.NewNodeCache(newOpts("derived")),
		filters:    cache.NewMultiKeyNodeCache(newOpts("filters")),
		intersects: cache.NewMultiKeyNodeCache(newOpts("intersects")),
		overlaps:   cache.NewMultiKeyNodeCache(newOpts("overlaps")),
		requestsBy: cache.NewRequestCache(newOpts("requests")),
		results:    cache.NewResultCache(newOpts("results")),

		epoch:    &operations.Epoch{},
		progress: operations.NewProgressTracker(),

		Genome:             subject.Empty[domain.Genome](),
		DataToDive:         subject.Empty[*operations.Node](),
		EpigeneticMark:     subject.Empty[domain.EpigeneticMark](),
		DataInfoSelected:   subject.Empty[json.RawMessage](),
		SelectedBioSources: subject.New[[]domain.BioSource](nil),
		Counts:             subject.New[[]StackValue](nil),
	}, nil
}

// Requests returns the lifecycle manager tracking this service's jobs
func (s *Service) Requests() *lifecycle.RequestManager {
	return s.requests
}

// Progress returns the progress tracker of the current batch
func (s *Service) Progress() *operations.ProgressTracker {
	return s.progress
}

// Epoch returns the shared request counter
func (s *Service) Epoch() *operations.Epoch {
	return s.epoch
}

// NewBatch starts a new batch of total steps and returns its epoch
func (s *Service) NewBatch(total int) int64 {
	epoch := s.epoch.Next()
	s.progress.Reset(total, epoch)
	return epoch
}

// IsCurrent reports whether epoch belongs to the latest batch. Stale epochs
// are logged and counted.
func (s *Service) IsCurrent(ctx context.Context, kind string, epoch int64) bool {
	if s.epoch.IsCurrent(epoch) {
		return true
	}
	s.logger.DebugContext(ctx, "discarding stale result",
		slog.String("kind", kind),
		slog.Int64("epoch", epoch),
		slog.Int64("current", s.epoch.Current()),
	)
	if s.metrics != nil {
		s.metrics.RecordStaleResult(ctx, kind)
	}
	return false
}

// PublishCounts publishes batch results unless they belong to a superseded
// batch. It reports whether the values were published.
func (s *Service) PublishCounts(ctx context.Context, epoch int64, values []StackValue) bool {
	if !s.IsCurrent(ctx, "counts", epoch) {
		return false
	}
	s.Counts.Next(values)
	s.progress.Finish()
	return true
}

// CacheStats returns the statistics of every cache
func (s *Service) CacheStats() []cache.Stats {
	return []cache.Stats{
		s.selects.Stats(),
		s.derived.Stats(),
		s.filters.Stats(),
		s.intersects.Stats(),
		s.overlaps.Stats(),
		s.requestsBy.Stats(),
		s.results.Stats(),
	}
}

// SetGenome selects the current genome
func (s *Service) SetGenome(g domain.Genome) {
	s.Genome.Next(g)
}

// CurrentGenome returns the selected genome name or ErrNoGenome
func (s *Service) CurrentGenome() (string, error) {
	g, ok := s.Genome.Value()
	if !ok || g.Name == "" {
		return "", operations.ErrNoGenome
	}
	return g.Name, nil
}

// SetDataToDive publishes a new root dataset for the active analysis
func (s *Service) SetDataToDive(n *operations.Node) {
	s.DataToDive.Next(n)
}

// SetEpigeneticMark selects the epigenetic mark
func (s *Service) SetEpigeneticMark(m domain.EpigeneticMark) {
	s.EpigeneticMark.Next(m)
}

// SetDataInfoSelected publishes the metadata record the UI focuses on
func (s *Service) SetDataInfoSelected(info json.RawMessage) {
	s.DataInfoSelected.Next(info)
}

// SetSelectedBioSources replaces the selected biosources
func (s *Service) SetSelectedBioSources(b []domain.BioSource) {
	s.SelectedBioSources.Next(append([]domain.BioSource(nil), b...))
}

// AddSelectedBioSource adds a biosource unless one with the same key is
// already selected
func (s *Service) AddSelectedBioSource(b domain.BioSource) bool {
	current := s.SelectedBioSources.Get()
	for _, existing := range current {
		if existing.Key() == b.Key() {
			return false
		}
	}
	s.SelectedBioSources.Next(append(append([]domain.BioSource(nil), current...), b))
	return true
}

// RemoveSelectedBioSource removes a biosource by key
func (s *Service) RemoveSelectedBioSource(b domain.BioSource) bool {
	current := s.SelectedBioSources.Get()
	next := make([]domain.BioSource, 0, len(current))
	for _, existing := range current {
		if existing.Key() != b.Key() {
			next = append(next, existing)
		}
	}
	if len(next) == len(current) {
		return false
	}
	s.SelectedBioSources.Next(next)
	return true
}
