package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/camera"
	"github.com/Smartdcs2026/Scan-Dcs/config"
	"github.com/Smartdcs2026/Scan-Dcs/lookup"
	"github.com/Smartdcs2026/Scan-Dcs/mjpeg"
	"github.com/Smartdcs2026/Scan-Dcs/scan"
	"github.com/Smartdcs2026/Scan-Dcs/session"
	"github.com/Smartdcs2026/Scan-Dcs/web"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Scan DCS"
	AppVersion        = "1.0.0"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger

	// Components
	cameraManager *camera.Manager
	controller    *session.Controller
	events        *session.EventBus
	hub           *web.EventHub
	preview       *mjpeg.Preview
	decodeLoop    *scan.Loop
	webServer     *web.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
		autostart  = flag.Bool("autostart", false, "Open the camera as soon as the service is up")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("Camera code scanner with remote record lookup")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		fmt.Println("\nEnvironment Variables:")
		fmt.Println("  SCANDCS_LOOKUP_ENDPOINT  - Lookup endpoint URL")
		fmt.Println("  SCANDCS_LOOKUP_API_KEY   - Lookup API key")
		fmt.Println("  SCANDCS_CAMERA_DEVICE    - Preferred camera device id")
		fmt.Println("  SCANDCS_FORM_FACTOR      - auto, mobile or desktop")
		fmt.Println("  SCANDCS_IDLE_TIMEOUT_MS  - Idle auto-stop timeout")
		fmt.Println("  SCANDCS_WEB_PORT         - HTTP port")
		fmt.Println("  SCANDCS_HOST             - Override auto-detected host address")
		os.Exit(0)
	}

	// Configuration first: it decides where logs go
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := createLogger(*logLevel, cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Scan DCS",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	logger.Info("Configuration loaded",
		zap.String("host", cfg.Server.Host),
		zap.Int("web_port", cfg.Server.WebPort),
		zap.Bool("lookup_configured", cfg.Lookup.Endpoint != ""),
		zap.Duration("idle_timeout", cfg.Scan.IdleTimeout()))

	if cfg.Lookup.Endpoint == "" {
		logger.Warn("No lookup endpoint configured, every lookup will fail")
	}

	app := NewApplication(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		logger.Fatal("Failed to start application", zap.Error(err))
	}

	if *autostart {
		app.wg.Add(1)
		go app.autostartCamera()
	}

	select {
	case sig := <-signalCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(app.config.Timeouts.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	ctx, cancel := context.WithCancel(context.Background())

	return &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start wires and starts all application components
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("Starting application components")

	decoder, err := scan.NewZXingDecoder(a.config.Scan.Formats)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	a.cameraManager = camera.NewManager(a.logger.Named("camera"))
	enumerator := camera.NewEnumerator(a.cameraManager, a.config.Camera.FormFactor, a.logger.Named("camera"))
	acquirer := camera.NewAcquirer(a.cameraManager, camera.DefaultTiers(a.config.Camera), a.logger.Named("camera"))

	a.preview = mjpeg.NewPreview(a.config.Server.PreviewFPS, 75, a.logger.Named("preview"))
	a.decodeLoop = scan.NewLoop(decoder, a.preview, a.config.Scan.FrameInterval(), a.logger.Named("decode"))

	lookupClient := lookup.NewClient(lookup.Options{
		Endpoint:   a.config.Lookup.Endpoint,
		APIKey:     a.config.Lookup.APIKey,
		Timeout:    a.config.Lookup.Timeout(),
		FieldOrder: a.config.Lookup.FieldOrder,
	}, lookup.NewHTTPTransport(a.logger.Named("lookup")), a.logger.Named("lookup"))

	a.events = session.NewEventBus(a.config.Server.EventBuffer, session.NewLogSink(a.logger))

	a.controller = session.NewController(session.Deps{
		Devices:     enumerator,
		Acquirer:    acquirer,
		Permissions: a.cameraManager,
		Loop:        a.decodeLoop,
		Lookup:      lookupClient,
		Preview:     a.preview,
		Sink:        a.events,
	}, session.OptionsFromConfig(a.config), a.logger)

	a.hub = web.NewEventHub(a.config.Server.AllowedOrigins, 256, func() {
		if err := a.controller.Activity(a.ctx); err != nil {
			a.logger.Debug("Activity not recorded", zap.Error(err))
		}
	}, a.logger.Named("hub"))
	a.events.Attach(a.hub)

	handlers := web.NewHandlers(a.config, a.controller, a.events, a.logger.Named("http"))
	a.webServer = web.NewServer(a.config, handlers, a.hub, a.preview, a.logger.Named("http"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.controller.Run(a.ctx); err != nil {
			a.logger.Error("Session controller exited", zap.Error(err))
		}
	}()

	if err := a.webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	a.logger.Info("Application started successfully",
		zap.String("web_url", fmt.Sprintf("http://%s:%d", a.config.Server.Host, a.config.Server.WebPort)),
		zap.String("events_ws", fmt.Sprintf("ws://%s:%d/ws", a.config.Server.Host, a.config.Server.WebPort)),
		zap.String("preview", fmt.Sprintf("http://%s:%d/preview.mjpg", a.config.Server.Host, a.config.Server.WebPort)))

	return nil
}

// autostartCamera opens the camera once at boot
func (a *Application) autostartCamera() {
	defer a.wg.Done()

	if err := a.controller.Start(a.ctx); err != nil {
		kind, msg := session.Describe(err)
		a.logger.Warn("Camera autostart failed", zap.String("kind", kind), zap.String("detail", msg))
		return
	}
	a.logger.Info("Camera autostarted")
}

// Stop gracefully stops all application components
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("Stopping application")

	if a.webServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, time.Duration(a.config.Timeouts.HTTPShutdownTimeout)*time.Second)
		if err := a.webServer.Stop(httpCtx); err != nil {
			a.logger.Error("Error stopping web server", zap.Error(err))
		}
		cancel()
	}

	// Cancelling the controller releases the camera
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		if a.decodeLoop != nil {
			a.decodeLoop.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All components stopped gracefully")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	return nil
}

// createLogger creates a structured logger
func createLogger(level string, cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	logDir := cfg.Dir
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("scan-dcs-%s.log", ts))

	keep := cfg.MaxLogFiles
	if keep <= 0 {
		keep = 20
	}
	files, _ := filepath.Glob(filepath.Join(logDir, "scan-dcs-*.log"))
	if len(files) > keep {
		sort.Strings(files) // lexicographic order matches timestamp
		for _, f := range files[:len(files)-keep] {
			_ = os.Remove(f)
		}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return config.Build()
}
