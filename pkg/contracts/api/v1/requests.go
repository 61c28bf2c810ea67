// Package api contains API contract definitions for the dive service.
// Version v1 represents the current stable API version.
package api

import (
	"divecli/pkg/contracts/domain"
)

// GenomeRequest selects the current genome
type GenomeRequest struct {
	Name string `json:"name" validate:"required,dataset_name"`
	ID   string `json:"id,omitempty"`
}

// DatasetRequest selects a dataset to dive into or compare with
type DatasetRequest struct {
	Kind string `json:"kind" validate:"required,oneof=annotation experiment motif genes input tiling"`
	Name string `json:"name" validate:"required_unless=Kind input"`
	// ID is the catalogue id of an annotation or experiment. Metadata
	// lookups use it when present.
	ID string `json:"id,omitempty" validate:"omitempty,max=64"`
	// Genes and GeneModel apply to kind genes
	Genes     []string `json:"genes,omitempty" validate:"required_if=Kind genes"`
	GeneModel string   `json:"gene_model,omitempty" validate:"required_if=Kind genes"`
	// RegionSet applies to kind input
	RegionSet string `json:"region_set,omitempty" validate:"required_if=Kind input"`
	// Size and Chromosomes apply to kind tiling
	Size        int      `json:"size,omitempty" validate:"omitempty,min=1"`
	Chromosomes []string `json:"chromosomes,omitempty"`
}

// FilterRequest filters the active stack
type FilterRequest struct {
	Field     string `json:"field" validate:"required"`
	Operation string `json:"operation" validate:"required,oneof=== != > >= < <="`
	Value     string `json:"value" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=number string"`
}

// OverlapRequest overlaps the active stack with another stack's current
// operation
type OverlapRequest struct {
	StackID    string `json:"stack_id" validate:"required"`
	Overlap    bool   `json:"overlap"`
	Amount     int    `json:"amount" validate:"min=0"`
	AmountType string `json:"amount_type" validate:"omitempty,oneof=bp %"`
}

// UndoRequest truncates the active stack
type UndoRequest struct {
	Index int `json:"index" validate:"min=0"`
}

// NavigationRequest reports a navigation event from the UI
type NavigationRequest struct {
	Phase string `json:"phase" validate:"required,oneof=start end navigation_start navigation_end"`
}

// OverlapCountRequest counts every open stack against a set of experiments
type OverlapCountRequest struct {
	Experiments []string `json:"experiments" validate:"required,min=1,dive,required"`
}

// ComposedCountRequest submits a composed overlap count for all stacks
type ComposedCountRequest struct {
	ExperimentIDs []string                 `json:"experiment_ids" validate:"required,min=1"`
	Filters       []domain.FilterParameter `json:"filters,omitempty" validate:"dive"`
}

// EnrichmentRequest submits an enrichment job for all stacks
type EnrichmentRequest struct {
	Type       string                 `json:"type" validate:"required,oneof=go_terms overlap fast"`
	GeneModel  string                 `json:"gene_model,omitempty" validate:"required_if=Type go_terms"`
	UniverseID string                 `json:"universe_id,omitempty" validate:"required_if=Type overlap"`
	Datasets   map[string]interface{} `json:"datasets,omitempty"`
}

// BioSourceRequest adds or removes a selected biosource
type BioSourceRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name" validate:"required,dataset_name"`
}
