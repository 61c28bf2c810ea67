package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"divecli/internal/cache"
	"divecli/pkg/contracts"
)

// ClientCounter reports connected websocket clients
type ClientCounter interface {
	ClientCount() int
}

// StateSource exposes the dive state the health checks inspect
type StateSource interface {
	CacheStats() []cache.Stats
	CurrentEpoch() int64
	PendingRequests() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	remoteURL string
	state     StateSource
	clients   ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds    float64       `json:"uptime_seconds"`
	WebSocketClients int           `json:"websocket_clients"`
	PendingRequests  int           `json:"pending_requests"`
	Epoch            int64         `json:"epoch"`
	Caches           []cache.Stats `json:"caches"`
	GoVersion        string        `json:"go_version"`
	Goroutines       int           `json:"goroutines"`
}

// NewHealthService creates a new health service
func NewHealthService(version, buildTime, remoteURL string, state StateSource, clients ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("remote_url", remoteURL))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		remoteURL: remoteURL,
		state:     state,
		clients:   clients,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check", slog.String("uptime", time.Since(hs.startTime).String()))
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]interface{}{
			"remote":    hs.checkRemote(),
			"dive":      hs.checkDive(),
			"websocket": hs.checkWebSocket(),
		},
	}
	for _, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			break
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	info := contracts.GetVersionInfo()
	result := map[string]interface{}{
		"version":      hs.version,
		"api_version":  info.APIVersion,
		"git_commit":   info.GitCommit,
		"go_version":   info.GoVersion,
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"remote_url":   hs.remoteURL,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

// SystemStats returns cache, request and connection statistics
func (hs *HealthService) SystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{
		UptimeSeconds: time.Since(hs.startTime).Seconds(),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if hs.clients != nil {
		stats.WebSocketClients = hs.clients.ClientCount()
	}
	if hs.state != nil {
		stats.PendingRequests = hs.state.PendingRequests()
		stats.Epoch = hs.state.CurrentEpoch()
		stats.Caches = hs.state.CacheStats()
	}
	return stats
}

func (hs *HealthService) checkRemote() ServiceHealth {
	if hs.remoteURL == "" {
		return ServiceHealth{Status: "not_ready", Message: "remote base url not configured"}
	}
	return ServiceHealth{Status: "ready", Message: hs.remoteURL}
}

func (hs *HealthService) checkDive() ServiceHealth {
	if hs.state == nil {
		return ServiceHealth{Status: "not_ready", Message: "dive service not initialized"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d pending requests", hs.state.PendingRequests()),
	}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.clients == nil {
		return ServiceHealth{Status: "not_ready", Message: "websocket hub not initialized"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients", hs.clients.ClientCount()),
		Uptime:  time.Since(hs.startTime).String(),
	}
}
