package http

import (
	"context"
	"encoding/json"

	"divecli/internal/cache"
	"divecli/internal/dive"
	"divecli/internal/operations"
	"divecli/internal/selection"
	api "divecli/pkg/contracts/api/v1"
	"divecli/pkg/contracts/domain"
	"divecli/pkg/contracts/events"
)

// SessionServiceInterface is the intent surface the session handler drives
type SessionServiceInterface interface {
	SetGenome(ctx context.Context, req api.GenomeRequest) domain.Genome
	Genome() (domain.Genome, bool)
	Dive(ctx context.Context, req api.DatasetRequest) (*operations.Node, error)
	Compare(ctx context.Context, req api.DatasetRequest) (*selection.Stack, error)
	Filter(ctx context.Context, req api.FilterRequest) (*operations.Node, error)
	Overlap(ctx context.Context, req api.OverlapRequest) (*operations.Node, error)
	Undo(ctx context.Context, req api.UndoRequest) error
	Save(ctx context.Context) (*selection.Stack, error)
	Activate(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Stacks() []events.StackView
	CountStacks(ctx context.Context) ([]events.StackCount, error)
	LatestCounts() []events.StackCount
	OverlapCounts(ctx context.Context, req api.OverlapCountRequest) ([]events.ExperimentCounts, error)
	ComposedCount(ctx context.Context, req api.ComposedCountRequest) (json.RawMessage, error)
	Enrich(ctx context.Context, req api.EnrichmentRequest) (json.RawMessage, error)
	Regions(ctx context.Context, format string) ([]byte, error)
	Navigate(ctx context.Context, req api.NavigationRequest) (int, error)
	Metadata(ctx context.Context) (dive.Metadata, error)
	AddBioSource(req api.BioSourceRequest) bool
	RemoveBioSource(req api.BioSourceRequest) bool
	BioSources() []domain.BioSource
}

// ExportSource supplies the tables the export handler writes
type ExportSource interface {
	LatestCounts() []events.StackCount
	Stacks() []events.StackView
	CacheStats() []cache.Stats
	OverlapCounts(ctx context.Context, req api.OverlapCountRequest) ([]events.ExperimentCounts, error)
	Regions(ctx context.Context, format string) ([]byte, error)
}
