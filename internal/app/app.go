package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"divecli/internal/config"
	"divecli/internal/deepblue"
	"divecli/internal/dive"
	apierrors "divecli/internal/errors"
	"divecli/internal/exporter"
	"divecli/internal/infrastructure"
	"divecli/internal/lifecycle"
	customMiddleware "divecli/internal/middleware"
	"divecli/internal/polling"
	"divecli/internal/scheduler"
	"divecli/internal/selection"
	"divecli/internal/services"
	handlers "divecli/internal/transport/http"
	ws "divecli/internal/websocket"
	"divecli/pkg/contracts"
	"divecli/pkg/contracts/events"
)

const (
	VERSION = "v" + contracts.Version
	AppName = "Dive - genomic region explorer"
)

var (
	// BuildTime is set at compile time
	BuildTime = time.Now().Format(time.RFC3339)
	// BuildID is a unique identifier for this build
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(VERSION))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.DiveMetrics

	Remote        *deepblue.Client
	Requests      *lifecycle.RequestManager
	Dive          *dive.Service
	Stacks        *selection.Collection
	Session       *services.SessionService
	HealthService *services.HealthService
	WebSocketHub  *ws.Hub
	Bridge        *ws.Bridge
	Exports       *exporter.Writer

	closeLog func() error
}

// NewApplication loads the configuration and builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	paths, err := config.GetPaths(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	// relative log files live in the logs directory
	if cfg.Logging.FilePath != "" && !filepath.IsAbs(cfg.Logging.FilePath) {
		if err := os.MkdirAll(paths.LogsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		cfg.Logging.FilePath = paths.GetLogPath(cfg.Logging.FilePath)
	}

	logger, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION))

	app, err := New(cfg, paths, logger.Logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	app.closeLog = logger.Close
	return app, nil
}

// New wires the application from an already loaded configuration
func New(cfg *config.Config, paths *config.Paths, logger *slog.Logger) (*Application, error) {
	logger.Info("Ensuring required directories exist")
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: VERSION,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		EnableTracing:  cfg.Telemetry.EnableTracing,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	metrics, err := infrastructure.NewDiveMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}
	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.setupRouter()
	app.createServer()
	return app, nil
}

// initializeServices builds the service graph bottom-up
func (a *Application) initializeServices() error {
	remote, err := deepblue.NewClient(deepblue.Config{
		BaseURL:   a.Config.Remote.BaseURL,
		Timeout:   a.Config.Remote.Timeout,
		RateLimit: a.Config.Remote.RateLimit,
		Burst:     a.Config.Remote.Burst,
		UserAgent: a.Config.Remote.UserAgent,
	}, a.Logger, deepblue.WithMetrics(a.Metrics))
	if err != nil {
		return fmt.Errorf("failed to create remote client: %w", err)
	}
	a.Remote = remote

	poller := polling.NewPoller(remote, scheduler.RealScheduler{}, polling.Config{
		Interval:         a.Config.Remote.PollInterval,
		ComposedInterval: a.Config.Remote.ComposedInterval,
	}, a.Logger, a.Metrics)

	trigger, err := lifecycle.ParsePhase(a.Config.Lifecycle.CancelOn)
	if err != nil {
		return fmt.Errorf("invalid lifecycle configuration: %w", err)
	}
	a.Requests = lifecycle.NewRequestManager(remote, a.Logger,
		lifecycle.WithTrigger(trigger),
		lifecycle.WithMetrics(a.Metrics),
		lifecycle.WithNotifyTimeout(a.Config.Lifecycle.NotifyTimeout),
	)

	svc, err := dive.NewService(dive.Options{
		Remote:          remote,
		Poller:          poller,
		Requests:        a.Requests,
		Logger:          a.Logger,
		Metrics:         a.Metrics,
		CacheMaxEntries: a.Config.Cache.MaxEntries,
		Dedupe:          a.Config.Cache.Dedupe,
		CacheMetrics:    a.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create dive service: %w", err)
	}
	a.Dive = svc

	a.Stacks = selection.NewCollection(selection.NewStackFactory(svc, a.Logger), a.Logger)
	a.Session = services.NewSessionService(svc, a.Stacks, a.Logger)

	// The hub replays the bridge snapshot to every new client
	var bridge *ws.Bridge
	a.WebSocketHub = ws.NewHub(a.Logger,
		ws.WithRecorder(a.Metrics),
		ws.WithSnapshot(func() []events.WebSocketMessage { return bridge.Snapshot() }),
	)
	bridge = ws.NewBridge(a.WebSocketHub, a.Stacks, svc, a.Logger)
	a.Bridge = bridge

	a.HealthService = services.NewHealthService(VERSION, BuildTime, a.Config.Remote.BaseURL, a.Session, a.WebSocketHub, a.Logger)
	a.Exports = exporter.NewWriter(a.Paths, a.Logger)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, false)

	// Middleware that doesn't wrap the ResponseWriter, safe for the upgrade
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.With(apierrors.RecoveryMiddleware(errorHandler)).Handle("/ws", handlers.NewWebSocketHandler(a.WebSocketHub, handlers.WebSocketConfig{
		AllowedOrigins:  a.getCORSConfig().AllowedOrigins,
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
	}, a.Logger))

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Recoverer → Logger → Timeout
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics).Handler)
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.getCORSConfig()))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r, errorHandler)
		a.setupHTMLRoutes(r)
	})

	// Outside the middleware group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}
	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router, errorHandler *apierrors.ErrorHandler) {
	validator := customMiddleware.NewValidator(a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.StructuredLogger(a.Logger))
			r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

			healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
			r.Mount("/health", healthHandler.Routes())
			r.Get("/version", healthHandler.Version)

			r.Mount("/metrics", handlers.NewMetricsHandler(a.Session, a.WebSocketHub).Routes())
			r.Post("/logs", handlers.NewClientLogHandler(validator, errorHandler, a.Logger).Handle)
		})

		// Jobs wait on remote polls, give them the longer request timeout.
		// Failed intents are logged with their (redacted) body.
		r.Group(func(r chi.Router) {
			r.Use(apierrors.NewErrorMiddleware(errorHandler, a.Logger).Handler)
			r.Use(customMiddleware.ContentTypeValidator("application/json"))
			r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))
			r.Use(customMiddleware.Compress(5))

			r.Mount("/export", handlers.NewExportHandler(a.Session, a.Exports, validator, errorHandler, a.Logger).Routes())
			r.Mount("/", handlers.NewSessionHandler(a.Session, validator, errorHandler, a.Logger).Routes())
		})
	})
}

func (a *Application) setupHTMLRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Get("/", handlers.ServeMainApp(a.Paths.WebDir, a.pageData))
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(a.Paths.WebDir))))
	})
}

func (a *Application) pageData() handlers.PageData {
	pd := handlers.PageData{Version: VERSION}
	if g, ok := a.Session.Genome(); ok {
		pd.Genome = g.Name
	}
	return pd
}

// getCORSConfig builds the CORS policy from the security configuration
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	origins := []string{
		fmt.Sprintf("http://localhost:%d", a.Config.Server.Port),
		fmt.Sprintf("http://127.0.0.1:%d", a.Config.Server.Port),
	}
	if a.Config.Security.EnableCORS {
		origins = append(origins, a.Config.Security.AllowedOrigins...)
	}
	return customMiddleware.CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the hub, the bridge and the HTTP server. A server error
// calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("remote", a.Config.Remote.BaseURL),
		slog.String("cancel_on", string(a.Requests.Trigger())))

	a.WebSocketHub.Start()
	a.Bridge.Start()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			infrastructure.WithError(a.Logger, err).ErrorContext(ctx, "Server error")
			cancel()
		}
	}()

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}
	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

// Stop shuts the server down, cancels outstanding remote jobs and releases
// every subscription
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if n := a.Requests.CancelAll(shutdownCtx); n > 0 {
		a.Logger.InfoContext(ctx, "Cancelled outstanding requests", slog.Int("count", n))
	}
	a.Requests.Wait()

	a.Bridge.Close()
	a.Session.Close()
	a.Stacks.Close()
	a.WebSocketHub.Stop()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		infrastructure.WithError(a.Logger, err).ErrorContext(ctx, "Error shutting down OpenTelemetry")
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}

// Run starts the application and blocks until an interrupt signal
func (a *Application) Run() error {
	// one trace id covers startup and shutdown logs
	ctx, cancel := context.WithCancel(infrastructure.EnsureTraceID(context.Background()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "Server stopped")
	}
	return a.Stop(infrastructure.Detach(ctx))
}

// performStartupHealthCheck reports unwritable directories and a missing UI
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	var warnings []string

	directories := map[string]string{
		"Logs":    a.Paths.LogsDir,
		"Exports": a.Paths.ExportsDir,
	}
	for name, dir := range directories {
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s directory not writable: %s", name, dir))
		} else {
			_ = os.Remove(testFile)
		}
	}

	if _, err := os.Stat(a.Paths.GetWebFilePath("index.html")); err != nil {
		warnings = append(warnings, fmt.Sprintf("UI page not found in %s", a.Paths.WebDir))
	}

	if len(warnings) > 0 {
		return fmt.Errorf("startup health check warnings: %s", strings.Join(warnings, "; "))
	}
	a.Logger.InfoContext(ctx, "Startup health check passed")
	return nil
}
