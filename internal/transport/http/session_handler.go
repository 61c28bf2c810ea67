package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "divecli/internal/errors"
	"divecli/internal/middleware"
	"divecli/internal/selection"
	api "divecli/pkg/contracts/api/v1"
)

// SessionHandler handles the dive session HTTP surface
type SessionHandler struct {
	service      SessionServiceInterface
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(service SessionServiceInterface, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "session")),
	}
}

// Routes returns the session routes
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/genome", h.GetGenome)
	r.Put("/genome", h.SetGenome)

	r.Post("/dive", h.Dive)
	r.Post("/compare", h.Compare)

	r.Route("/stacks", func(r chi.Router) {
		r.Get("/", h.ListStacks)
		r.Post("/active/filter", h.Filter)
		r.Post("/active/overlap", h.Overlap)
		r.Post("/active/undo", h.Undo)
		r.Post("/active/save", h.Save)
		r.Get("/active/metadata", h.Metadata)
		r.Get("/active/regions", h.Regions)
		r.Post("/{id}/activate", h.Activate)
		r.Delete("/{id}", h.Remove)
	})

	r.Route("/counts", func(r chi.Router) {
		r.Get("/", h.LatestCounts)
		r.Post("/", h.CountStacks)
		r.Post("/overlaps", h.OverlapCounts)
		r.Post("/composed", h.ComposedCount)
	})
	r.Post("/enrichment", h.Enrich)
	r.Post("/navigation", h.Navigate)

	r.Route("/biosources", func(r chi.Router) {
		r.Get("/", h.ListBioSources)
		r.Post("/", h.AddBioSource)
		r.Delete("/", h.RemoveBioSource)
	})
	return r
}

// decode reads and validates the request body, writing the error response
// when it fails
func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := h.validator.Decode(r, dst); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return false
	}
	return true
}

// GetGenome handles GET /api/genome
func (h *SessionHandler) GetGenome(w http.ResponseWriter, r *http.Request) {
	genome, ok := h.service.Genome()
	if !ok {
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError("genome"))
		return
	}
	render.JSON(w, r, genome)
}

// SetGenome handles PUT /api/genome
func (h *SessionHandler) SetGenome(w http.ResponseWriter, r *http.Request) {
	var req api.GenomeRequest
	if !h.decode(w, r, &req) {
		return
	}
	render.JSON(w, r, h.service.SetGenome(r.Context(), req))
}

// Dive handles POST /api/dive and answers with the stack list after the
// active stack was re-rooted
func (h *SessionHandler) Dive(w http.ResponseWriter, r *http.Request) {
	var req api.DatasetRequest
	if !h.decode(w, r, &req) {
		return
	}
	node, err := h.service.Dive(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "dive",
		slog.String("kind", req.Kind),
		slog.String("query_id", node.QueryID()))
	render.JSON(w, r, map[string]interface{}{
		"operation": selection.NodeView(node),
		"stacks":    h.service.Stacks(),
	})
}

// Compare handles POST /api/compare
func (h *SessionHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req api.DatasetRequest
	if !h.decode(w, r, &req) {
		return
	}
	stack, err := h.service.Compare(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.errorHandler.JSON(w, r, http.StatusCreated, stack.View(false))
}

// ListStacks handles GET /api/stacks
func (h *SessionHandler) ListStacks(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Stacks())
}

// Filter handles POST /api/stacks/active/filter
func (h *SessionHandler) Filter(w http.ResponseWriter, r *http.Request) {
	var req api.FilterRequest
	if !h.decode(w, r, &req) {
		return
	}
	node, err := h.service.Filter(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, selection.NodeView(node))
}

// Overlap handles POST /api/stacks/active/overlap
func (h *SessionHandler) Overlap(w http.ResponseWriter, r *http.Request) {
	var req api.OverlapRequest
	if !h.decode(w, r, &req) {
		return
	}
	node, err := h.service.Overlap(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, selection.NodeView(node))
}

// Undo handles POST /api/stacks/active/undo
func (h *SessionHandler) Undo(w http.ResponseWriter, r *http.Request) {
	var req api.UndoRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.Undo(r.Context(), req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.service.Stacks())
}

// Save handles POST /api/stacks/active/save
func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	stack, err := h.service.Save(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.errorHandler.JSON(w, r, http.StatusCreated, stack.View(false))
}

// Metadata handles GET /api/stacks/active/metadata
func (h *SessionHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	md, err := h.service.Metadata(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, md)
}

// Regions handles GET /api/stacks/active/regions
func (h *SessionHandler) Regions(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = DefaultRegionsFormat
	}
	regions, err := h.service.Regions(r.Context(), format)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(regions)
}

// Activate handles POST /api/stacks/{id}/activate
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Activate(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.service.Stacks())
}

// Remove handles DELETE /api/stacks/{id}
func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.service.Stacks())
}

// LatestCounts handles GET /api/counts
func (h *SessionHandler) LatestCounts(w http.ResponseWriter, r *http.Request) {
	counts := h.service.LatestCounts()
	if counts == nil {
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError("counts"))
		return
	}
	render.JSON(w, r, counts)
}

// CountStacks handles POST /api/counts
func (h *SessionHandler) CountStacks(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.CountStacks(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, counts)
}

// OverlapCounts handles POST /api/counts/overlaps
func (h *SessionHandler) OverlapCounts(w http.ResponseWriter, r *http.Request) {
	var req api.OverlapCountRequest
	if !h.decode(w, r, &req) {
		return
	}
	counts, err := h.service.OverlapCounts(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, counts)
}

// ComposedCount handles POST /api/counts/composed
func (h *SessionHandler) ComposedCount(w http.ResponseWriter, r *http.Request) {
	var req api.ComposedCountRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ComposedCount(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// Enrich handles POST /api/enrichment
func (h *SessionHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	var req api.EnrichmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Enrich(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// Navigate handles POST /api/navigation
func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req api.NavigationRequest
	if !h.decode(w, r, &req) {
		return
	}
	cancelled, err := h.service.Navigate(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"phase":     req.Phase,
		"cancelled": cancelled,
	})
}

// ListBioSources handles GET /api/biosources
func (h *SessionHandler) ListBioSources(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.BioSources())
}

// AddBioSource handles POST /api/biosources
func (h *SessionHandler) AddBioSource(w http.ResponseWriter, r *http.Request) {
	var req api.BioSourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	added := h.service.AddBioSource(req)
	render.JSON(w, r, map[string]interface{}{
		"changed":    added,
		"biosources": h.service.BioSources(),
	})
}

// RemoveBioSource handles DELETE /api/biosources
func (h *SessionHandler) RemoveBioSource(w http.ResponseWriter, r *http.Request) {
	var req api.BioSourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	removed := h.service.RemoveBioSource(req)
	render.JSON(w, r, map[string]interface{}{
		"changed":    removed,
		"biosources": h.service.BioSources(),
	})
}
