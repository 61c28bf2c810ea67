package deepblue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"divecli/internal/operations"
)

// SelectAnnotations resolves the regions of an annotation
func (c *Client) SelectAnnotations(ctx context.Context, name, genome string) (string, error) {
	return c.resolve(ctx, "select_annotations", url.Values{
		"annotation_name": {name},
		"genome":          {genome},
	})
}

// SelectExperiments resolves the regions of an experiment
func (c *Client) SelectExperiments(ctx context.Context, name, genome string) (string, error) {
	return c.resolve(ctx, "select_experiments", url.Values{
		"experiment_name": {name},
		"genome":          {genome},
	})
}

// MergeQueries merges two or more queries. The first id is query_a_id and the
// rest are repeated query_b_id values.
func (c *Client) MergeQueries(ctx context.Context, queryIDs []string) (string, error) {
	if len(queryIDs) < 2 {
		return "", fmt.Errorf("merge_queries needs at least two queries, got %d", len(queryIDs))
	}
	params := url.Values{"query_a_id": {queryIDs[0]}}
	for _, qid := range queryIDs[1:] {
		params.Add("query_b_id", qid)
	}
	return c.resolve(ctx, "merge_queries", params)
}

// FilterRegions filters the regions of a query by a field condition
func (c *Client) FilterRegions(ctx context.Context, queryID, field, op, value, valueType string) (string, error) {
	return c.resolve(ctx, "filter_regions", url.Values{
		"query_id":  {queryID},
		"field":     {field},
		"operation": {op},
		"value":     {value},
		"type":      {valueType},
	})
}

// Intersection keeps the regions of data intersecting filter
func (c *Client) Intersection(ctx context.Context, dataID, filterID string) (string, error) {
	return c.resolve(ctx, "intersection", url.Values{
		"query_data_id":   {dataID},
		"query_filter_id": {filterID},
	})
}

// Overlap keeps the regions of data overlapping (or not) filter
func (c *Client) Overlap(ctx context.Context, dataID, filterID string, overlap bool, amount int, amountType string) (string, error) {
	return c.resolve(ctx, "overlap", url.Values{
		"query_data_id":   {dataID},
		"query_filter_id": {filterID},
		"overlap":         {strconv.FormatBool(overlap)},
		"amount":          {strconv.Itoa(amount)},
		"amount_type":     {amountType},
	})
}

// FindMotif searches a genome for a motif
func (c *Client) FindMotif(ctx context.Context, motif, genome string) (string, error) {
	return c.resolve(ctx, "find_motif", url.Values{
		"motif":  {motif},
		"genome": {genome},
	})
}

// QueryCache pins a query in the service cache
func (c *Client) QueryCache(ctx context.Context, queryID string) (string, error) {
	return c.resolve(ctx, "query_cache", url.Values{
		"query_id": {queryID},
		"cache":    {"true"},
	})
}

// TilingRegions builds tiles over a genome
func (c *Client) TilingRegions(ctx context.Context, size int, chromosomes []string, genome string) (string, error) {
	params := url.Values{
		"size":   {strconv.Itoa(size)},
		"genome": {genome},
	}
	for _, chr := range chromosomes {
		params.Add("chromosome", chr)
	}
	return c.resolve(ctx, "tiling_regions", params)
}

// SelectGenes selects genes of a gene model
func (c *Client) SelectGenes(ctx context.Context, genes []string, geneModel string) (string, error) {
	params := url.Values{"gene_model": {geneModel}}
	for _, g := range genes {
		params.Add("genes", g)
	}
	return c.resolve(ctx, "select_genes", params)
}

// InputRegions uploads a region set
func (c *Client) InputRegions(ctx context.Context, genome, regionSet string) (string, error) {
	env, err := c.post(ctx, "composed_commands/input_regions", map[string]string{
		"genome":     genome,
		"region_set": regionSet,
	})
	if err != nil {
		return "", err
	}
	return id("composed_commands/input_regions", env)
}

// CountRegions submits a region count job
func (c *Client) CountRegions(ctx context.Context, queryID string) (string, error) {
	return c.resolve(ctx, "count_regions", url.Values{"query_id": {queryID}})
}

// GetRegions submits a region export job
func (c *Client) GetRegions(ctx context.Context, queryID, format string) (string, error) {
	return c.resolve(ctx, "get_regions", url.Values{
		"query_id":      {queryID},
		"output_format": {format},
	})
}

// RequestData polls a simple job. Any status other than okay means the job
// is still running.
func (c *Client) RequestData(ctx context.Context, requestID string) (operations.JobStatus, error) {
	env, err := c.get(ctx, "get_request_data", url.Values{"request_id": {requestID}})
	if err != nil {
		return operations.JobStatus{}, err
	}
	return jobStatus(env), nil
}

// CountOverlaps submits a composed overlap count job
func (c *Client) CountOverlaps(ctx context.Context, queryIDs, experimentIDs []string, filters json.RawMessage) (string, error) {
	params := url.Values{"queries_id": queryIDs, "experiments_id": experimentIDs}
	if len(filters) > 0 {
		params.Set("filters", string(filters))
	}
	return c.resolve(ctx, "composed_commands/count_overlaps", params)
}

// CountGenesOverlaps submits a composed gene overlap count job
func (c *Client) CountGenesOverlaps(ctx context.Context, queryIDs []string, geneModel string) (string, error) {
	return c.resolve(ctx, "composed_commands/count_genes_overlaps", url.Values{
		"queries_id":      queryIDs,
		"gene_model_name": {geneModel},
	})
}

// EnrichGoTerms submits a composed GO term enrichment job
func (c *Client) EnrichGoTerms(ctx context.Context, queryIDs []string, geneModel string) (string, error) {
	return c.resolve(ctx, "composed_commands/enrich_regions_go_terms", url.Values{
		"queries_id":      queryIDs,
		"gene_model_name": {geneModel},
	})
}

// EnrichOverlap submits a composed overlap enrichment job
func (c *Client) EnrichOverlap(ctx context.Context, queryIDs []string, universeID, genome string, datasets json.RawMessage) (string, error) {
	if len(datasets) == 0 {
		datasets = json.RawMessage("{}")
	}
	env, err := c.post(ctx, "composed_commands/enrich_regions_overlap", map[string]interface{}{
		"queries_id":  queryIDs,
		"universe_id": universeID,
		"genome":      genome,
		"datasets":    datasets,
	})
	if err != nil {
		return "", err
	}
	return id("composed_commands/enrich_regions_overlap", env)
}

// EnrichFast submits a composed fast enrichment job
func (c *Client) EnrichFast(ctx context.Context, queryID, genome string) (string, error) {
	env, err := c.post(ctx, "composed_commands/enrich_regions_fast", map[string]string{
		"query_id": queryID,
		"genome":   genome,
	})
	if err != nil {
		return "", err
	}
	return id("composed_commands/enrich_regions_fast", env)
}

// ComposedRequest polls a composed job. A non-okay payload may carry
// step, processed, total and partial fields.
func (c *Client) ComposedRequest(ctx context.Context, requestID string) (operations.JobStatus, error) {
	env, err := c.get(ctx, "composed_commands/get_request", url.Values{"request_id": {requestID}})
	if err != nil {
		return operations.JobStatus{}, err
	}
	return jobStatus(env), nil
}

// ComposedCancel asks the service to stop a job
func (c *Client) ComposedCancel(ctx context.Context, requestID string) error {
	_, err := c.get(ctx, "composed_commands/cancel", url.Values{"id": {requestID}})
	return err
}

// Info fetches the raw metadata record of an id
func (c *Client) Info(ctx context.Context, recordID string) (json.RawMessage, error) {
	env, err := c.get(ctx, "info", url.Values{"id": {recordID}})
	if err != nil {
		return nil, err
	}
	if !env.Okay() {
		return nil, &RemoteError{Endpoint: "info", Status: env.Status, Message: env.message()}
	}
	return env.Payload, nil
}

func (c *Client) resolve(ctx context.Context, endpoint string, params url.Values) (string, error) {
	env, err := c.get(ctx, endpoint, params)
	if err != nil {
		return "", err
	}
	return id(endpoint, env)
}

type progressBody struct {
	Step      *string         `json:"step"`
	Processed int             `json:"processed"`
	Total     int             `json:"total"`
	Partial   json.RawMessage `json:"partial"`
}

func jobStatus(env Envelope) operations.JobStatus {
	if env.Okay() {
		return operations.JobStatus{Done: true, Data: env.Payload}
	}
	var body progressBody
	if err := json.Unmarshal(env.Payload, &body); err != nil || body.Step == nil {
		return operations.JobStatus{}
	}
	st := operations.JobStatus{
		Progress: &operations.ProgressStatus{Step: *body.Step, Processed: body.Processed, Total: body.Total},
	}
	if len(body.Partial) > 0 && string(body.Partial) != "null" {
		st.Partial = body.Partial
	}
	return st
}
