// Package domain contains the data descriptors shared between the dive
// service and its UI clients.
package domain

import "strings"

// IdName is the id and display name pair the remote service uses for every
// catalogued record
type IdName struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Key returns the identity used for de-duplication
func (n IdName) Key() string {
	if n.ID != "" {
		return n.ID
	}
	return n.Name
}

// Genome is a reference assembly such as hg19
type Genome struct {
	IdName
}

// Annotation is a named region set on a genome
type Annotation struct {
	IdName
	Genome string `json:"genome"`
}

// Experiment is a named experiment and the biosource it was performed on
type Experiment struct {
	IdName
	Genome         string `json:"genome,omitempty"`
	BioSource      string `json:"biosource,omitempty"`
	EpigeneticMark string `json:"epigenetic_mark,omitempty"`
}

// BioSource is a cell type, tissue or cell line
type BioSource struct {
	IdName
	Experiments []IdName `json:"experiments,omitempty"`
}

// GeneModel is a gene annotation set such as gencode v23
type GeneModel struct {
	IdName
}

// EpigeneticMark is a histone modification or other mark
type EpigeneticMark struct {
	IdName
}

// FilterParameter is one field condition passed to composed overlap counts
type FilterParameter struct {
	Field     string `json:"field" validate:"required"`
	Operation string `json:"operation" validate:"required,oneof=== != > >= < <="`
	Value     string `json:"value" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=number string"`
}

// MetadataKind names the record type behind an id
type MetadataKind string

const (
	MetadataExperiment MetadataKind = "experiment"
	MetadataAnnotation MetadataKind = "annotation"
	MetadataGeneModel  MetadataKind = "gene_model"
)

// KindOfID derives the record kind from the id prefix used by the service
func KindOfID(id string) MetadataKind {
	switch {
	case strings.HasPrefix(id, "gs"):
		return MetadataGeneModel
	case strings.HasPrefix(id, "a"):
		return MetadataAnnotation
	default:
		return MetadataExperiment
	}
}
