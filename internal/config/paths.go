package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the resolved application directories. Relative configured
// paths are resolved against the executable directory, never the working
// directory.
type Paths struct {
	ExecutableDir string
	WebDir        string
	LogsDir       string
	ExportsDir    string
}

// GetPaths resolves cfg against the directory of the running executable
func GetPaths(cfg PathsConfig) (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return ResolvePaths(filepath.Dir(exe), cfg), nil
}

// ResolvePaths resolves cfg against base
func ResolvePaths(base string, cfg PathsConfig) *Paths {
	resolve := func(p, fallback string) string {
		if p == "" {
			p = fallback
		}
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	return &Paths{
		ExecutableDir: base,
		WebDir:        resolve(cfg.WebDir, "web"),
		LogsDir:       resolve(cfg.LogsDir, "logs"),
		ExportsDir:    resolve(cfg.ExportsDir, "exports"),
	}
}

// EnsureDirectories creates the writable directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.LogsDir, p.ExportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetLogPath returns the path of a file in the logs directory
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// GetExportPath returns the path of a file in the exports directory
func (p *Paths) GetExportPath(filename string) string {
	return filepath.Join(p.ExportsDir, filepath.Base(filename))
}

// GetWebFilePath returns the path of a file in the web directory
func (p *Paths) GetWebFilePath(filename string) string {
	return filepath.Join(p.WebDir, filename)
}

// LogPathResolution logs the resolved directories
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	logger.Info("paths resolved",
		slog.String("executable_dir", p.ExecutableDir),
		slog.String("web_dir", p.WebDir),
		slog.String("logs_dir", p.LogsDir),
		slog.String("exports_dir", p.ExportsDir),
	)
}
