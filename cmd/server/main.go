package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codebuildervaibhav/media-analysis/internal/analysis"
	"github.com/codebuildervaibhav/media-analysis/internal/cleanup"
	"github.com/codebuildervaibhav/media-analysis/internal/config"
	"github.com/codebuildervaibhav/media-analysis/internal/handlers"
	"github.com/codebuildervaibhav/media-analysis/internal/metrics"
	"github.com/codebuildervaibhav/media-analysis/internal/pipeline"
	"github.com/codebuildervaibhav/media-analysis/internal/queue"
	"github.com/codebuildervaibhav/media-analysis/internal/storage"
	"github.com/codebuildervaibhav/media-analysis/internal/transcription"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

const drainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// Custom logger setup
	logBuffer := NewLogBuffer(1000)
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}

	log.Println("Initializing components...")

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize job store: %v", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	stager := storage.NewLocalStorage(cfg.Storage.TempDir)
	transcriber := transcription.NewWhisperTranscriber(cfg.Whisper.Python, cfg.Whisper.Model, cfg.Whisper.Language, cfg.Whisper.Threads, stager)
	analyzer := analysis.NewClient(cfg.LLM.APIURL, cfg.LLM.Model, cfg.LLM.APIKey, analysis.Mode(cfg.LLM.Mode), cfg.LLMTimeout())
	log.Printf("LLM analysis via %s (%s, model %s)", cfg.LLM.APIURL, analyzer.Mode(), cfg.LLM.Model)

	workerPool := queue.NewWorkerPool(cfg.Workers.Count, cfg.Workers.QueueSize)
	workerPool.Start()

	defaultPrompt := cfg.LLM.DefaultPrompt
	if defaultPrompt == "" {
		defaultPrompt = types.DefaultAnalysisPrompt
	}
	service := pipeline.NewService(pipeline.Config{
		Store:            store,
		Transcriber:      transcriber,
		Analyzer:         analyzer,
		Pool:             workerPool,
		Metrics:          m,
		DefaultPrompt:    defaultPrompt,
		IsSupportedMedia: transcription.IsSupportedMedia,
	})

	if _, err := service.Recover(context.Background()); err != nil {
		log.Printf("WARNING: failed to recover interrupted jobs: %v", err)
	}

	// Google Drive client (optional - public links still work without it)
	var drive handlers.DriveDownloader
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err := storage.NewDriveClient(cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
		} else {
			drive = driveClient
			log.Println("Google Drive integration enabled")
		}
	} else {
		log.Println("Google Drive credentials not found - only public links can be fetched")
	}

	cleanupScheduler := cleanup.NewScheduler(cfg.Storage.TempDir, cfg.Cleanup.IntervalMinutes, cfg.Cleanup.MaxAgeHours)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: cfg.MaxFileSize() + 1024*1024, // room for multipart framing
		Immutable: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	uploadHandler := handlers.NewUploadHandler(service, cfg.Limits.MaxFileSizeMB)
	jobsHandler := handlers.NewJobsHandler(service)
	gdriveHandler := handlers.NewGDriveHandler(service, drive, cfg.Limits.MaxFileSizeMB)
	streamHandler := handlers.NewStreamHandler(service, cfg.Limits.MaxFileSizeMB)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Media Transcription & Analysis Service"})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/upload", uploadHandler.Handle)
	app.Get("/job/:id", jobsHandler.Get)
	app.Post("/job/:id/reanalyze", jobsHandler.Reanalyze)
	app.Get("/jobs", jobsHandler.List)
	app.Post("/gdrive", gdriveHandler.Handle)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stream", websocket.New(streamHandler.Handle))
	app.Get("/ws/jobs/:id", websocket.New(streamHandler.Watch))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	addr := cfg.Addr()
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /upload              - Upload media (analysis_prompt optional)")
	log.Println("   GET  /job/:id             - Job status and results")
	log.Println("   POST /job/:id/reanalyze   - Re-run analysis with a new prompt")
	log.Println("   GET  /jobs                - List jobs (skip, limit)")
	log.Println("   POST /gdrive              - Process Google Drive link")
	log.Println("   GET  /ws/stream           - WebSocket media streaming")
	log.Println("   GET  /ws/jobs/:id         - WebSocket job status")
	log.Println("   GET  /metrics             - Prometheus metrics")
	log.Println("   GET  /logs                - View server logs")
	log.Println("   GET  /health              - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
	}()

	if err := app.Listen(addr); err != nil {
		log.Printf("Server stopped: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := service.Drain(ctx); err != nil {
		log.Printf("WARNING: in-flight jobs still running at exit: %v", err)
	}
	workerPool.Stop()
	log.Println("Shutdown complete")
}

// openStore picks the job store for the configured driver
func openStore(cfg *config.Config) (storage.JobStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Println("Using in-memory job store (jobs are lost on restart)")
		return storage.NewMemoryStore(), nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Database), 0755); err != nil {
			return nil, err
		}
		return storage.NewJobDB(storage.DriverSQLite, cfg.Storage.Database)
	default:
		return storage.NewJobDB(storage.DriverPostgres, cfg.Storage.Database)
	}
}

// LogBuffer captures the most recent log lines in memory
type LogBuffer struct {
	lines []string
	limit int
	mu    sync.Mutex
}

// NewLogBuffer creates a buffer holding up to limit lines
func NewLogBuffer(limit int) *LogBuffer {
	return &LogBuffer{
		lines: make([]string, 0, limit),
		limit: limit,
	}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))
	if len(lb.lines) > lb.limit {
		lb.lines = lb.lines[len(lb.lines)-lb.limit:]
	}

	return len(p), nil
}

// GetLogs returns a copy of the buffered lines
func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
