package operations

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// JobKind identifies a heavyweight job run through the submit/poll protocol
type JobKind string

const (
	JobCountRegions       JobKind = "count_regions"
	JobGetRegions         JobKind = "get_regions"
	JobCountOverlaps      JobKind = "count_overlaps"
	JobCountGenesOverlaps JobKind = "count_genes_overlaps"
	JobEnrichGoTerms      JobKind = "enrich_regions_go_terms"
	JobEnrichOverlap      JobKind = "enrich_regions_overlap"
	JobEnrichFast         JobKind = "enrich_regions_fast"
)

// Composed reports whether the job runs under the composed command namespace
func (k JobKind) Composed() bool {
	switch k {
	case JobCountRegions, JobGetRegions:
		return false
	default:
		return true
	}
}

// RequestHandle represents a submitted unit of remote work. It is created on
// submission and never recreated; only the cancelled flag changes afterwards.
type RequestHandle struct {
	Operation *Node
	RequestID string
	Kind      JobKind
	Epoch     int64
	CreatedAt time.Time

	cancelled atomic.Bool
}

// NewRequestHandle creates a handle for a job the remote service accepted
func NewRequestHandle(op *Node, requestID string, kind JobKind, epoch int64) *RequestHandle {
	return &RequestHandle{
		Operation: op,
		RequestID: requestID,
		Kind:      kind,
		Epoch:     epoch,
		CreatedAt: time.Now(),
	}
}

// Cancel marks the handle cancelled. It returns true only for the call that
// flipped the flag.
func (h *RequestHandle) Cancel() bool {
	return h.cancelled.CompareAndSwap(false, true)
}

// Cancelled reports whether the handle has been cancelled
func (h *RequestHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// ProgressStatus is a non-terminal progress snapshot of a job
type ProgressStatus struct {
	Step      string `json:"step"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// JobStatus is one poll response. Done is set only for a terminal "okay"
// status; otherwise Progress and Partial may carry a snapshot.
type JobStatus struct {
	Done     bool
	Data     json.RawMessage
	Progress *ProgressStatus
	Partial  json.RawMessage
}

// ResultPayload is the terminal result of a request. It is produced exactly
// once and is immutable thereafter.
type ResultPayload struct {
	Request *RequestHandle
	Data    json.RawMessage
	Epoch   int64
}

// NewResultPayload creates a payload owning a private copy of data
func NewResultPayload(req *RequestHandle, data json.RawMessage) *ResultPayload {
	return &ResultPayload{
		Request: req,
		Data:    append(json.RawMessage(nil), data...),
		Epoch:   req.Epoch,
	}
}

// Bytes returns a copy of the payload data
func (r *ResultPayload) Bytes() []byte {
	return append([]byte(nil), r.Data...)
}

// Decode unmarshals the payload data into v
func (r *ResultPayload) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}

// WithEpoch returns a copy of the payload restamped for another batch. The
// copy owns its data so callers cannot alter a cached payload through it.
func (r *ResultPayload) WithEpoch(epoch int64) *ResultPayload {
	return &ResultPayload{Request: r.Request, Data: append(json.RawMessage(nil), r.Data...), Epoch: epoch}
}

// Count decodes a count_regions style payload. The service returns either
// a bare number or an object with a count field.
func (r *ResultPayload) Count() (int64, error) {
	var n int64
	if err := json.Unmarshal(r.Data, &n); err == nil {
		return n, nil
	}
	var obj struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(r.Data, &obj); err != nil {
		return 0, err
	}
	return obj.Count, nil
}
