package operations

import (
	"strconv"
	"strings"
)

// Overlap amount types accepted by the remote service
const (
	AmountTypeBP      = "bp"
	AmountTypePercent = "%"
)

// SelectAnnotation selects the regions of a named annotation on a genome
func SelectAnnotation(name, genome string) Derivation {
	return Derivation{Kind: KindSelectAnnotation, Data: DataParameter{Name: name, Genome: genome}}
}

// SelectExperiment selects the regions of a named experiment on a genome
func SelectExperiment(name, genome string) Derivation {
	return Derivation{Kind: KindSelectExperiment, Data: DataParameter{Name: name, Genome: genome}}
}

// Merge combines the regions of all inputs, in input order
func Merge(inputs ...*Node) Derivation {
	return Derivation{Kind: KindMerge, Data: DataParameter{Upstream: inputs}}
}

// Filter keeps the regions of source where field op value holds
func Filter(source *Node, field, op, value, valueType string) Derivation {
	return Derivation{
		Kind: KindFilter,
		Data: DataParameter{
			Values:   []string{"filter", field, op, value, valueType},
			Upstream: []*Node{source},
		},
	}
}

// Intersection keeps the regions of data that intersect filter
func Intersection(data, filter *Node) Derivation {
	return Derivation{Kind: KindIntersection, Data: DataParameter{Upstream: []*Node{data, filter}}}
}

// Overlap keeps the regions of data that overlap (overlap=true) or do not
// overlap (overlap=false) filter by at least amount of amountType.
func Overlap(data, filter *Node, overlap bool, amount int, amountType string) Derivation {
	if amountType == "" {
		amountType = AmountTypeBP
	}
	return Derivation{
		Kind: KindOverlap,
		Data: DataParameter{
			Values:   []string{strconv.FormatBool(overlap), strconv.Itoa(amount), amountType},
			Upstream: []*Node{data, filter},
		},
	}
}

// Tiling builds fixed size tiles over the given chromosomes. An empty
// chromosome list covers the whole genome.
func Tiling(size int, chromosomes []string, genome string) Derivation {
	values := append([]string{strconv.Itoa(size)}, chromosomes...)
	return Derivation{Kind: KindTiling, Data: DataParameter{Name: "Tiling " + strconv.Itoa(size), Genome: genome, Values: values}}
}

// FindMotif searches the genome for a sequence motif
func FindMotif(motif, genome string) Derivation {
	return Derivation{Kind: KindFindMotif, Data: DataParameter{Name: motif, Genome: genome}}
}

// InputRegions uploads a user supplied region set
func InputRegions(genome, regionSet string) Derivation {
	return Derivation{Kind: KindInputRegions, Data: DataParameter{Name: "Input regions", Genome: genome, Values: []string{regionSet}}}
}

// SelectGenes selects the named genes of a gene model
func SelectGenes(genes []string, geneModel string) Derivation {
	return Derivation{
		Kind: KindSelectGenes,
		Data: DataParameter{Name: strings.Join(genes, ","), Values: append([]string{geneModel}, genes...)},
	}
}

// CachePin pins the result of source in the remote service cache
func CachePin(source *Node) Derivation {
	return Derivation{Kind: KindCachePin, Data: DataParameter{Upstream: []*Node{source}}}
}

// FilterParams returns the field, operation, value and type of a filter step
func (p DataParameter) FilterParams() (field, op, value, valueType string, ok bool) {
	if len(p.Values) != 5 || p.Values[0] != "filter" {
		return "", "", "", "", false
	}
	return p.Values[1], p.Values[2], p.Values[3], p.Values[4], true
}

// OverlapParams returns the overlap mode, amount and amount type of an overlap step
func (p DataParameter) OverlapParams() (overlap bool, amount int, amountType string, ok bool) {
	if len(p.Values) != 3 {
		return false, 0, "", false
	}
	overlap, err := strconv.ParseBool(p.Values[0])
	if err != nil {
		return false, 0, "", false
	}
	amount, err = strconv.Atoi(p.Values[1])
	if err != nil {
		return false, 0, "", false
	}
	return overlap, amount, p.Values[2], true
}
