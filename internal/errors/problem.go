package errors

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
)

// Problem types, relative to the API root
const (
	TypeValidation  = "/errors/validation"
	TypeNotFound    = "/errors/not-found"
	TypeRateLimit   = "/errors/rate-limit"
	TypeInternal    = "/errors/internal"
	TypeTimeout     = "/errors/timeout"
	TypeConflict    = "/errors/conflict"
	TypeRemote      = "/errors/remote"
	TypeCancelled   = "/errors/cancelled"
	TypeMethod      = "/errors/method-not-allowed"
	TypeWebSocket   = "/errors/websocket/upgrade-failed"
	TypeUnavailable = "/errors/service-unavailable"
)

var typeByCode = map[string]string{
	CodeValidationFailed: TypeValidation,
	CodeInvalidRequest:   TypeValidation,
	CodeNotFound:         TypeNotFound,
	CodeStackNotFound:    TypeNotFound,
	CodeCancelled:        TypeCancelled,
	CodeRemoteSubmission: TypeRemote,
	CodeRemotePoll:       TypeRemote,
	CodeRateLimit:        TypeRateLimit,
	CodeTimeout:          TypeTimeout,
	CodeWebSocketUpgrade: TypeWebSocket,
}

// TypeForCode returns the problem type of an APIError code, TypeInternal
// for unknown codes
func TypeForCode(code string) string {
	if t, ok := typeByCode[code]; ok {
		return t
	}
	return TypeInternal
}

// ProblemDetails is an RFC 7807 problem document. Extension members are
// written next to the standard members and never replace them.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements render.Renderer
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

var standardMembers = map[string]bool{"type": true, "title": true, "status": true, "detail": true, "instance": true}

// MarshalJSON writes the standard members followed by the extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	type standard ProblemDetails
	base, err := json.Marshal((*standard)(pd))
	if err != nil {
		return nil, err
	}
	ext := make(map[string]interface{}, len(pd.Extensions))
	for k, v := range pd.Extensions {
		if !standardMembers[k] {
			ext[k] = v
		}
	}
	if len(ext) == 0 {
		return base, nil
	}
	extra, err := json.Marshal(ext)
	if err != nil {
		return nil, err
	}
	// {"type":...} + {"trace_id":...} -> {"type":...,"trace_id":...}
	var buf bytes.Buffer
	buf.Grow(len(base) + len(extra))
	buf.Write(base[:len(base)-1])
	buf.WriteByte(',')
	buf.Write(extra[1:])
	return buf.Bytes(), nil
}

// NewProblemDetails creates a problem document for instance
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension sets an extension member
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}
