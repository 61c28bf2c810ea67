package dive

import (
	"bytes"
	"context"
	"encoding/json"

	"divecli/internal/operations"
	"divecli/pkg/contracts/domain"
)

// Metadata is a raw metadata record and the kind implied by its id
type Metadata struct {
	ID     string              `json:"id"`
	Kind   domain.MetadataKind `json:"kind"`
	Record json.RawMessage     `json:"record"`
}

// Info fetches the metadata record of id. The service answers with a list
// holding one record.
func (s *Service) Info(ctx context.Context, id string) (Metadata, error) {
	if id == "" {
		return Metadata{}, operations.NewInvalidArgumentError("info", "id is required")
	}
	raw, err := s.remote.Info(ctx, id)
	if err != nil {
		return Metadata{}, operations.NewSubmissionError("info", err)
	}
	record := raw
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return Metadata{}, operations.NewSubmissionError("info", err)
		}
		if len(list) == 0 {
			return Metadata{}, operations.NewNotFoundError("info", "no record for "+id)
		}
		record = list[0]
	}
	return Metadata{ID: id, Kind: domain.KindOfID(id), Record: record}, nil
}
