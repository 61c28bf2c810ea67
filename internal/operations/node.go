package operations

import (
	"strconv"
	"strings"
)

// Kind identifies the derivation step a node represents
type Kind string

const (
	KindSelectAnnotation Kind = "select_annotation"
	KindSelectExperiment Kind = "select_experiment"
	KindMerge            Kind = "merge"
	KindFilter           Kind = "filter"
	KindOverlap          Kind = "overlap"
	KindIntersection     Kind = "intersection"
	KindTiling           Kind = "tiling"
	KindFindMotif        Kind = "find_motif"
	KindInputRegions     Kind = "input_regions"
	KindSelectGenes      Kind = "select_genes"
	KindCachePin         Kind = "cache_pin"
)

// UnboundEpoch marks a node that is not tied to any batch. Cached entries
// always carry it.
const UnboundEpoch int64 = -1

// IsBinary reports whether the kind combines two upstream nodes
func (k Kind) IsBinary() bool {
	return k == KindOverlap || k == KindIntersection
}

// DataParameter is the source of a derivation step. Leaf steps carry a
// descriptor (Name, Genome, Values); derived steps reference their upstream
// nodes in order. ID is the catalogue id of a selected annotation or
// experiment, when the caller knows it.
type DataParameter struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Genome   string   `json:"genome,omitempty"`
	Values   []string `json:"values,omitempty"`
	Upstream []*Node  `json:"-"`
}

// IsLeaf reports whether the parameter references no upstream node
func (p DataParameter) IsLeaf() bool {
	return len(p.Upstream) == 0
}

func (p DataParameter) clone() DataParameter {
	cp := DataParameter{ID: p.ID, Name: p.Name, Genome: p.Genome}
	if p.Values != nil {
		cp.Values = append([]string(nil), p.Values...)
	}
	if p.Upstream != nil {
		cp.Upstream = make([]*Node, len(p.Upstream))
		for i, up := range p.Upstream {
			cp.Upstream[i] = up.Clone(up.Epoch())
		}
	}
	return cp
}

// Derivation describes a step before it has been resolved by the remote
// service.
type Derivation struct {
	Kind Kind
	Data DataParameter
}

// Fingerprint returns the deterministic identity of the derivation. Every
// segment is length prefixed so values containing separator characters
// cannot collide.
func (d Derivation) Fingerprint() string {
	var b strings.Builder
	b.WriteString(string(d.Kind))
	b.WriteByte('(')
	writeSegment(&b, d.Data.Name)
	writeSegment(&b, d.Data.Genome)
	if d.Data.ID != "" {
		b.WriteByte('@')
		writeSegment(&b, d.Data.ID)
	}
	for _, v := range d.Data.Values {
		writeSegment(&b, v)
	}
	for _, up := range d.Data.Upstream {
		writeSegment(&b, up.Fingerprint())
	}
	b.WriteByte(')')
	return b.String()
}

// Keys returns the ordered fingerprint tuple used by the multi-key caches:
// the upstream fingerprints followed by the parameter key.
func (d Derivation) Keys() []string {
	keys := make([]string, 0, len(d.Data.Upstream)+1)
	for _, up := range d.Data.Upstream {
		keys = append(keys, up.Fingerprint())
	}
	params := Derivation{Kind: d.Kind, Data: DataParameter{ID: d.Data.ID, Name: d.Data.Name, Genome: d.Data.Genome, Values: d.Data.Values}}
	return append(keys, params.Fingerprint())
}

// WithID returns the derivation tagged with the catalogue id of its dataset
func (d Derivation) WithID(id string) Derivation {
	d.Data.ID = id
	return d
}

// Resolve binds the derivation to the query id assigned by the remote service
func (d Derivation) Resolve(queryID string, epoch int64) *Node {
	return &Node{
		kind:        d.Kind,
		fingerprint: d.Fingerprint(),
		queryID:     queryID,
		data:        d.Data.clone(),
		epoch:       epoch,
	}
}

func writeSegment(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte(';')
}

// Node is a resolved derivation step. It is never mutated after construction.
type Node struct {
	kind        Kind
	fingerprint string
	queryID     string
	data        DataParameter
	epoch       int64
}

// Kind returns the step kind
func (n *Node) Kind() Kind { return n.kind }

// Fingerprint returns the node's identity key
func (n *Node) Fingerprint() string { return n.fingerprint }

// QueryID returns the remote query id
func (n *Node) QueryID() string { return n.queryID }

// Epoch returns the batch tag the node was produced for
func (n *Node) Epoch() int64 { return n.epoch }

// Data returns a copy of the node's source data
func (n *Node) Data() DataParameter { return n.data.clone() }

// DatasetID returns the catalogue id of the node's dataset, or "" when the
// node was selected by name only
func (n *Node) DatasetID() string { return n.data.ID }

// Name returns a short label for the node. Leaves use their dataset name,
// derived nodes fall back to their root's label.
func (n *Node) Name() string {
	if n.data.Name != "" {
		return n.data.Name
	}
	if len(n.data.Upstream) > 0 {
		return n.data.Upstream[0].Name()
	}
	return string(n.kind)
}

// Upstream returns the i-th upstream node, or nil when there is none
func (n *Node) Upstream(i int) *Node {
	if i < 0 || i >= len(n.data.Upstream) {
		return nil
	}
	return n.data.Upstream[i]
}

// Clone returns a deep copy of the node stamped with epoch. No node in the
// upstream chain is shared with the original.
func (n *Node) Clone(epoch int64) *Node {
	if n == nil {
		return nil
	}
	return &Node{
		kind:        n.kind,
		fingerprint: n.fingerprint,
		queryID:     n.queryID,
		data:        n.data.clone(),
		epoch:       epoch,
	}
}

// String returns the fingerprint and query id
func (n *Node) String() string {
	return n.fingerprint + "=" + n.queryID
}
