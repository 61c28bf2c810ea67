package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "divecli/internal/errors"
	"divecli/internal/exporter"
	"divecli/internal/middleware"
	"divecli/internal/services"
	api "divecli/pkg/contracts/api/v1"
)

// DefaultRegionsFormat is the column format used when a regions request
// names none
const DefaultRegionsFormat = "CHROMOSOME,START,END"

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportHandler serves counts and selection state as CSV and XLSX downloads
type ExportHandler struct {
	source       ExportSource
	writer       *exporter.Writer
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewExportHandler creates a new export handler. writer may be nil, in which
// case saving to the exports directory is unavailable.
func NewExportHandler(source ExportSource, writer *exporter.Writer, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		source:       source,
		writer:       writer,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "export")),
	}
}

// Routes returns the export routes
func (h *ExportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/counts.csv", h.CountsCSV)
	r.Get("/counts.xlsx", h.CountsXLSX)
	r.Get("/stacks.csv", h.StacksCSV)
	r.Get("/caches.csv", h.CachesCSV)
	r.Post("/overlaps.xlsx", h.OverlapsXLSX)
	r.Post("/counts/save", h.SaveCounts)
	return r
}

func (h *ExportHandler) latestCounts(w http.ResponseWriter, r *http.Request) (exporter.Table, bool) {
	counts := h.source.LatestCounts()
	if counts == nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusNotFound, apierrors.CodeNotFound, services.ErrNoCounts.Error(), nil))
		return exporter.Table{}, false
	}
	return exporter.CountsTable(counts), true
}

// CountsCSV handles GET /api/export/counts.csv
func (h *ExportHandler) CountsCSV(w http.ResponseWriter, r *http.Request) {
	table, ok := h.latestCounts(w, r)
	if !ok {
		return
	}
	h.sendCSV(w, r, "counts", table)
}

// CountsXLSX handles GET /api/export/counts.xlsx
func (h *ExportHandler) CountsXLSX(w http.ResponseWriter, r *http.Request) {
	table, ok := h.latestCounts(w, r)
	if !ok {
		return
	}
	h.sendXLSX(w, r, "counts", table)
}

// StacksCSV handles GET /api/export/stacks.csv
func (h *ExportHandler) StacksCSV(w http.ResponseWriter, r *http.Request) {
	h.sendCSV(w, r, "stacks", exporter.SelectionTable(h.source.Stacks()))
}

// CachesCSV handles GET /api/export/caches.csv
func (h *ExportHandler) CachesCSV(w http.ResponseWriter, r *http.Request) {
	h.sendCSV(w, r, "caches", exporter.CacheStatsTable(h.source.CacheStats()))
}

// OverlapsXLSX handles POST /api/export/overlaps.xlsx
func (h *ExportHandler) OverlapsXLSX(w http.ResponseWriter, r *http.Request) {
	var req api.OverlapCountRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	rows, err := h.source.OverlapCounts(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.sendXLSX(w, r, "overlaps", exporter.OverlapTable(rows))
}

// SaveCounts handles POST /api/export/counts/save?format=csv|xlsx and
// writes the latest counts to the exports directory
func (h *ExportHandler) SaveCounts(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		h.errorHandler.HandleError(w, r, apierrors.New(
			http.StatusServiceUnavailable, apierrors.CodeInternal, "exports directory not configured"))
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("format", "must be one of csv xlsx"))
		return
	}
	table, ok := h.latestCounts(w, r)
	if !ok {
		return
	}

	name := exportName("counts", format)
	var (
		path string
		err  error
	)
	if format == "xlsx" {
		path, err = h.writer.SaveXLSX(name, "counts", table)
	} else {
		path, err = h.writer.SaveCSV(name, table)
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.errorHandler.JSON(w, r, http.StatusCreated, map[string]interface{}{
		"path": path,
		"rows": len(table.Rows),
	})
}

func (h *ExportHandler) sendCSV(w http.ResponseWriter, r *http.Request, base string, table exporter.Table) {
	var buf bytes.Buffer
	if err := exporter.EncodeCSV(&buf, table, exporter.WriteOptions{BOMPrefix: r.URL.Query().Get("bom") == "true"}); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.send(w, r, contentTypeCSV, exportName(base, "csv"), buf.Bytes())
}

func (h *ExportHandler) sendXLSX(w http.ResponseWriter, r *http.Request, sheet string, table exporter.Table) {
	var buf bytes.Buffer
	if err := exporter.EncodeXLSX(&buf, sheet, table); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.send(w, r, contentTypeXLSX, exportName(sheet, "xlsx"), buf.Bytes())
}

func (h *ExportHandler) send(w http.ResponseWriter, r *http.Request, contentType, filename string, body []byte) {
	h.logger.DebugContext(r.Context(), "sending export",
		slog.String("file", filename),
		slog.Int("bytes", len(body)))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(body)
}

func exportName(base, ext string) string {
	return fmt.Sprintf("%s_%s.%s", base, time.Now().Format("20060102_150405"), ext)
}
