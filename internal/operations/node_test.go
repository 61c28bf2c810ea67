package operations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divecli/internal/operations"
)

func TestFingerprintStability(t *testing.T) {
	tests := []struct {
		name string
		a, b operations.Derivation
		same bool
	}{
		{
			name: "identical annotation selections",
			a:    operations.SelectAnnotation("CpG Islands", "hg19"),
			b:    operations.SelectAnnotation("CpG Islands", "hg19"),
			same: true,
		},
		{
			name: "different genome",
			a:    operations.SelectAnnotation("CpG Islands", "hg19"),
			b:    operations.SelectAnnotation("CpG Islands", "hg38"),
		},
		{
			name: "annotation versus experiment",
			a:    operations.SelectAnnotation("X", "hg19"),
			b:    operations.SelectExperiment("X", "hg19"),
		},
		{
			name: "segments cannot be shifted across boundaries",
			a:    operations.SelectAnnotation("ab", "c"),
			b:    operations.SelectAnnotation("a", "bc"),
		},
		{
			name: "catalogue id distinguishes selections",
			a:    operations.SelectAnnotation("CpG Islands", "hg19").WithID("a1"),
			b:    operations.SelectAnnotation("CpG Islands", "hg19").WithID("a2"),
		},
		{
			name: "catalogue id cannot pose as a value",
			a:    operations.SelectAnnotation("x", "hg19").WithID("a1"),
			b: operations.Derivation{Kind: operations.KindSelectAnnotation, Data: operations.DataParameter{
				Name: "x", Genome: "hg19", Values: []string{"a1"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, tt.a.Fingerprint(), tt.b.Fingerprint())
			} else {
				assert.NotEqual(t, tt.a.Fingerprint(), tt.b.Fingerprint())
			}
		})
	}
}

func TestDerivedFingerprints(t *testing.T) {
	cpg := operations.SelectAnnotation("CpG Islands", "hg19").Resolve("q1", 1)
	genes := operations.SelectAnnotation("Genes", "hg19").Resolve("q2", 1)

	t.Run("filter includes upstream and parameters", func(t *testing.T) {
		f1 := operations.Filter(cpg, "LENGTH", ">", "1000", "number")
		f2 := operations.Filter(cpg, "LENGTH", ">", "2000", "number")
		assert.NotEqual(t, f1.Fingerprint(), f2.Fingerprint())
		assert.Contains(t, f1.Fingerprint(), cpg.Fingerprint())
	})

	t.Run("overlap mode changes fingerprint", func(t *testing.T) {
		o := operations.Overlap(cpg, genes, true, 1, "")
		n := operations.Overlap(cpg, genes, false, 1, "")
		assert.NotEqual(t, o.Fingerprint(), n.Fingerprint())
	})

	t.Run("operand order matters", func(t *testing.T) {
		ab := operations.Intersection(cpg, genes)
		ba := operations.Intersection(genes, cpg)
		assert.NotEqual(t, ab.Fingerprint(), ba.Fingerprint())
	})

	t.Run("keys list upstream fingerprints in order", func(t *testing.T) {
		keys := operations.Intersection(cpg, genes).Keys()
		require.Len(t, keys, 3)
		assert.Equal(t, cpg.Fingerprint(), keys[0])
		assert.Equal(t, genes.Fingerprint(), keys[1])
	})

	t.Run("epoch does not affect fingerprint", func(t *testing.T) {
		other := cpg.Clone(99)
		assert.Equal(t, operations.Filter(cpg, "A", "==", "1", "string").Fingerprint(),
			operations.Filter(other, "A", "==", "1", "string").Fingerprint())
	})
}

func TestNodeClone(t *testing.T) {
	root := operations.SelectExperiment("H3K4me3", "hg19").Resolve("q1", 3)
	filtered := operations.Filter(root, "VALUE", ">", "0.5", "number").Resolve("q2", 3)

	clone := filtered.Clone(7)

	assert.Equal(t, filtered.Fingerprint(), clone.Fingerprint())
	assert.Equal(t, filtered.QueryID(), clone.QueryID())
	assert.Equal(t, int64(7), clone.Epoch())
	assert.Equal(t, int64(3), filtered.Epoch())
	assert.NotSame(t, filtered, clone)
	assert.NotSame(t, filtered.Upstream(0), clone.Upstream(0))
	assert.Equal(t, root.QueryID(), clone.Upstream(0).QueryID())

	data := clone.Data()
	data.Values[1] = "mutated"
	field, _, _, _, ok := clone.Data().FilterParams()
	require.True(t, ok)
	assert.Equal(t, "VALUE", field)
}

func TestNodeAccessors(t *testing.T) {
	root := operations.SelectAnnotation("CpG Islands", "hg19").Resolve("q1", 1)
	pinned := operations.CachePin(root).Resolve("q9", 1)

	assert.Equal(t, operations.KindCachePin, pinned.Kind())
	assert.Equal(t, "CpG Islands", pinned.Name())
	assert.Nil(t, pinned.Upstream(1))
	assert.True(t, root.Data().IsLeaf())
	assert.False(t, pinned.Data().IsLeaf())

	overlap, amount, amountType, ok := operations.Overlap(root, root, false, 10, operations.AmountTypePercent).Data.OverlapParams()
	require.True(t, ok)
	assert.False(t, overlap)
	assert.Equal(t, 10, amount)
	assert.Equal(t, "%", amountType)
	assert.True(t, operations.KindOverlap.IsBinary())
	assert.False(t, operations.KindFilter.IsBinary())

	t.Run("dataset id", func(t *testing.T) {
		assert.Empty(t, root.DatasetID())
		tagged := operations.SelectExperiment("H3K4me3", "hg19").WithID("e7").Resolve("q3", 1)
		assert.Equal(t, "e7", tagged.DatasetID())
		assert.Equal(t, "e7", tagged.Clone(2).DatasetID())
		assert.Equal(t, "e7", tagged.Data().ID)
		assert.Equal(t,
			operations.SelectAnnotation("CpG Islands", "hg19").Fingerprint(),
			operations.SelectAnnotation("CpG Islands", "hg19").WithID("").Fingerprint(),
		)
	})
}
