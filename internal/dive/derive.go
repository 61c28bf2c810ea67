package dive

import (
	"context"
	"log/slog"
	"strings"

	"divecli/internal/cache"
	"divecli/internal/operations"
	"divecli/pkg/contracts/domain"
)

// table adapts single and multi-key caches to one lookup shape
type table interface {
	get(d operations.Derivation, epoch int64) (*operations.Node, bool)
	put(d operations.Derivation, n *operations.Node)
}

type singleTable struct{ c *cache.Cache[*operations.Node] }

func (t singleTable) get(d operations.Derivation, epoch int64) (*operations.Node, bool) {
	return t.c.Get(d.Fingerprint(), epoch)
}

func (t singleTable) put(d operations.Derivation, n *operations.Node) {
	t.c.Put(d.Fingerprint(), n)
}

type multiTable struct{ c *cache.MultiKeyCache[*operations.Node] }

func (t multiTable) get(d operations.Derivation, epoch int64) (*operations.Node, bool) {
	return t.c.GetKeys(d.Keys(), epoch)
}

func (t multiTable) put(d operations.Derivation, n *operations.Node) {
	t.c.PutKeys(d.Keys(), n)
}

// resolve runs the derivation template: a cache hit returns immediately and
// counts as complete progress; a miss issues one remote call and stores the
// resolved node before returning it.
func (s *Service) resolve(ctx context.Context, t table, d operations.Derivation, epoch int64, call func(context.Context) (string, error)) (*operations.Node, error) {
	if n, ok := t.get(d, epoch); ok {
		s.progress.Increment(epoch)
		return n, nil
	}

	fingerprint := d.Fingerprint()
	v, shared, err := s.group.Do(fingerprint, func() (interface{}, error) {
		queryID, err := call(ctx)
		if err != nil {
			return nil, operations.NewSubmissionError(string(d.Kind), err)
		}
		node := d.Resolve(queryID, operations.UnboundEpoch)
		t.put(d, node)
		s.logger.DebugContext(ctx, "operation resolved",
			slog.String("kind", string(d.Kind)),
			slog.String("query_id", queryID),
		)
		return node, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "operation resolution failed",
			slog.String("kind", string(d.Kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if shared {
		s.logger.DebugContext(ctx, "shared in-flight resolution", slog.String("kind", string(d.Kind)))
	}
	s.progress.Increment(epoch)
	return v.(*operations.Node).Clone(epoch), nil
}

// SelectAnnotation selects an annotation on a genome
func (s *Service) SelectAnnotation(ctx context.Context, name, genome string, epoch int64) (*operations.Node, error) {
	return s.SelectAnnotationEntry(ctx, domain.IdName{Name: name}, genome, epoch)
}

// SelectAnnotationEntry selects a catalogue annotation on a genome. The
// entry id travels with the node so its metadata can be fetched later.
func (s *Service) SelectAnnotationEntry(ctx context.Context, entry domain.IdName, genome string, epoch int64) (*operations.Node, error) {
	if genome == "" {
		return nil, operations.ErrNoGenome
	}
	d := operations.SelectAnnotation(entry.Name, genome).WithID(entry.ID)
	return s.resolve(ctx, singleTable{s.selects}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.SelectAnnotations(ctx, entry.Name, genome)
	})
}

// SelectExperiment selects an experiment on a genome
func (s *Service) SelectExperiment(ctx context.Context, name, genome string, epoch int64) (*operations.Node, error) {
	return s.SelectExperimentEntry(ctx, domain.IdName{Name: name}, genome, epoch)
}

// SelectExperimentEntry is SelectAnnotationEntry for experiments
func (s *Service) SelectExperimentEntry(ctx context.Context, entry domain.IdName, genome string, epoch int64) (*operations.Node, error) {
	if genome == "" {
		return nil, operations.ErrNoGenome
	}
	d := operations.SelectExperiment(entry.Name, genome).WithID(entry.ID)
	return s.resolve(ctx, singleTable{s.selects}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.SelectExperiments(ctx, entry.Name, genome)
	})
}

// Merge merges the regions of inputs. One input is returned unchanged with no
// remote call; no input fails with ErrEmptyMerge.
func (s *Service) Merge(ctx context.Context, inputs []*operations.Node, epoch int64) (*operations.Node, error) {
	switch len(inputs) {
	case 0:
		return nil, operations.ErrEmptyMerge
	case 1:
		return inputs[0], nil
	}
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		ids[i] = in.QueryID()
	}
	d := operations.Merge(inputs...)
	return s.resolve(ctx, singleTable{s.derived}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.MergeQueries(ctx, ids)
	})
}

// Filter keeps the regions of source matching field op value
func (s *Service) Filter(ctx context.Context, source *operations.Node, field, op, value, valueType string, epoch int64) (*operations.Node, error) {
	if source == nil {
		return nil, operations.NewInvalidArgumentError("filter", "source operation is required")
	}
	if strings.TrimSpace(field) == "" {
		return nil, operations.NewInvalidArgumentError("filter", "field is required")
	}
	d := operations.Filter(source, field, op, value, valueType)
	return s.resolve(ctx, multiTable{s.filters}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.FilterRegions(ctx, source.QueryID(), field, op, value, valueType)
	})
}

// Intersection keeps the regions of data intersecting filter
func (s *Service) Intersection(ctx context.Context, data, filter *operations.Node, epoch int64) (*operations.Node, error) {
	if data == nil || filter == nil {
		return nil, operations.NewInvalidArgumentError("intersection", "both operands are required")
	}
	d := operations.Intersection(data, filter)
	return s.resolve(ctx, multiTable{s.intersects}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.Intersection(ctx, data.QueryID(), filter.QueryID())
	})
}

// Overlap keeps the regions of data that overlap, or with overlap false do
// not overlap, filter
func (s *Service) Overlap(ctx context.Context, data, filter *operations.Node, overlap bool, amount int, amountType string, epoch int64) (*operations.Node, error) {
	if data == nil || filter == nil {
		return nil, operations.NewInvalidArgumentError("overlap", "both operands are required")
	}
	if amount <= 0 {
		amount = 1
	}
	d := operations.Overlap(data, filter, overlap, amount, amountType)
	_, _, amountType, _ = d.Data.OverlapParams()
	return s.resolve(ctx, multiTable{s.overlaps}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.Overlap(ctx, data.QueryID(), filter.QueryID(), overlap, amount, amountType)
	})
}

// Tiling builds tiles of size over chromosomes of genome
func (s *Service) Tiling(ctx context.Context, size int, chromosomes []string, genome string, epoch int64) (*operations.Node, error) {
	if size <= 0 {
		return nil, operations.NewInvalidArgumentError("tiling", "size must be positive")
	}
	if genome == "" {
		return nil, operations.ErrNoGenome
	}
	d := operations.Tiling(size, chromosomes, genome)
	return s.resolve(ctx, singleTable{s.selects}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.TilingRegions(ctx, size, chromosomes, genome)
	})
}

// FindMotif searches genome for motif
func (s *Service) FindMotif(ctx context.Context, motif, genome string, epoch int64) (*operations.Node, error) {
	if strings.TrimSpace(motif) == "" {
		return nil, operations.NewInvalidArgumentError("find_motif", "motif is required")
	}
	if genome == "" {
		return nil, operations.ErrNoGenome
	}
	d := operations.FindMotif(motif, genome)
	return s.resolve(ctx, singleTable{s.selects}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.FindMotif(ctx, motif, genome)
	})
}

// SelectGenes selects genes of a gene model
func (s *Service) SelectGenes(ctx context.Context, genes []string, geneModel string, epoch int64) (*operations.Node, error) {
	if len(genes) == 0 || geneModel == "" {
		return nil, operations.NewInvalidArgumentError("select_genes", "genes and gene model are required")
	}
	d := operations.SelectGenes(genes, geneModel)
	return s.resolve(ctx, singleTable{s.selects}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.SelectGenes(ctx, genes, geneModel)
	})
}

// CachePin pins source in the remote cache. Pinning is idempotent per
// fingerprint.
func (s *Service) CachePin(ctx context.Context, source *operations.Node, epoch int64) (*operations.Node, error) {
	if source == nil {
		return nil, operations.NewInvalidArgumentError("cache_pin", "source operation is required")
	}
	if source.Kind() == operations.KindCachePin {
		return source.Clone(epoch), nil
	}
	d := operations.CachePin(source)
	return s.resolve(ctx, singleTable{s.derived}, d, epoch, func(ctx context.Context) (string, error) {
		return s.remote.QueryCache(ctx, source.QueryID())
	})
}

// InputRegions uploads a user region set. Uploads are never cached and the
// node is not tied to any batch.
func (s *Service) InputRegions(ctx context.Context, genome, regionSet string, epoch int64) (*operations.Node, error) {
	if strings.TrimSpace(regionSet) == "" {
		return nil, operations.NewInvalidArgumentError("input_regions", "region set is empty")
	}
	if genome == "" {
		return nil, operations.ErrNoGenome
	}
	queryID, err := s.remote.InputRegions(ctx, genome, regionSet)
	if err != nil {
		return nil, operations.NewSubmissionError(string(operations.KindInputRegions), err)
	}
	s.progress.Increment(epoch)
	return operations.InputRegions(genome, regionSet).Resolve(queryID, operations.UnboundEpoch), nil
}
