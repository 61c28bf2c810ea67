package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"divecli/internal/config"
	"divecli/internal/infrastructure"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Writer exports tables to CSV and XLSX, either to a stream or to files in
// the exports directory
type Writer struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewWriter creates a writer saving files under paths.ExportsDir
func NewWriter(paths *config.Paths, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{paths: paths, logger: infrastructure.WithComponent(logger, "exporter")}
}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	BOMPrefix bool // Add UTF-8 BOM for Excel compatibility
}

// EncodeCSV writes t to w
func EncodeCSV(w io.Writer, t Table, opts WriteOptions) error {
	if opts.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}
	writer := csv.NewWriter(w)
	if len(t.Headers) > 0 {
		if err := writer.Write(t.Headers); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}
	for i, record := range t.Rows {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// SaveCSV writes t to filename in the exports directory and returns the
// full path
func (w *Writer) SaveCSV(filename string, t Table) (string, error) {
	return w.save(filename, len(t.Rows), func(f io.Writer) error {
		return EncodeCSV(f, t, WriteOptions{BOMPrefix: true})
	})
}

func (w *Writer) save(filename string, records int, encode func(io.Writer) error) (string, error) {
	fullPath := w.paths.GetExportPath(filename)
	w.logger.Info("writing export",
		slog.String("file_path", filename),
		slog.String("full_path", fullPath),
		slog.Int("record_count", records))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := encode(file); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return fullPath, nil
}
