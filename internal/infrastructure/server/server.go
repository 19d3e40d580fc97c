// Package server wires configuration, logging, metrics, the session
// registry, the AI pipeline, and the HTTP/WebSocket surface into one
// runnable unit.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/ai"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/api"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/api/middleware"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/audio"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/storage"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/config"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/ws"
)

// Server wraps the router and every long-lived dependency.
type Server struct {
	router   *gin.Engine
	registry *session.Manager
	storage  *storage.Manager
	synth    *ai.Synthesizer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	cancel   context.CancelFunc
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing HotPin server",
		zap.String("port", cfg.Server.Port),
		zap.String("temp_dir", cfg.Storage.TempDir),
		zap.Int("max_connections", cfg.Auth.MaxConnections),
	)

	metrics := monitoring.NewMetrics()

	format := audio.Format{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    1,
		SampleWidth: 2,
	}
	quotaBytes := cfg.Storage.MaxSessionDiskMB * 1024 * 1024

	store, err := storage.NewManager(storage.ManagerConfig{
		TempDir:       cfg.Storage.TempDir,
		QuotaBytes:    quotaBytes,
		GracePeriod:   time.Duration(cfg.Session.GraceSec) * time.Second,
		SweepInterval: time.Duration(cfg.Storage.SweepIntervalSec) * time.Second,
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := session.NewManager(session.ManagerConfig{
		GracePeriod:         time.Duration(cfg.Session.GraceSec) * time.Second,
		SweepInterval:       time.Duration(cfg.Session.SweepIntervalSec) * time.Second,
		MaxHistoryTurns:     cfg.Session.MaxHistoryTurns,
		MaxRerecordAttempts: cfg.Session.MaxRerecordAttempts,
		DiskQuotaBytes:      quotaBytes,
	}, logger, metrics)

	ingestor := audio.NewIngestor(audio.IngestorConfig{
		TempDir:      cfg.Storage.TempDir,
		SeqTolerance: cfg.Audio.SeqTolerance,
		Format:       format,
	}, logger, metrics)

	recognizer := ai.NewWhisperRecognizer(cfg.Groq, format, logger, metrics)
	chat := ai.NewChatClient(cfg.Groq, logger, metrics)
	synth := ai.NewSynthesizer(
		ai.NewHTTPSynthEngine(cfg.Groq, metrics),
		cfg.Storage.TempDir, format, cfg.TTS.QueueDepth, logger,
	)

	gate := ws.NewGate(cfg.Auth.MaxConnections, cfg.Auth.Token, logger, metrics)
	streamer := ws.NewStreamer(ws.StreamerConfig{
		ChunkSizeBytes: cfg.Audio.ChunkSizeBytes,
		PacingDelay:    time.Duration(cfg.TTS.PacingDelayMs) * time.Millisecond,
		DownloadExpiry: time.Duration(cfg.TTS.DownloadExpirySec) * time.Second,
		Format:         format,
	}, logger)
	controller := ws.NewController(ws.ControllerConfig{
		AckInterval:      cfg.Audio.AckInterval,
		MinTranscriptLen: cfg.Session.MinTranscriptLen,
		HistoryWindow:    5,
	}, registry, ingestor, recognizer, chat, synth, streamer, logger, metrics)
	wsHandler := ws.NewHandler(gate, registry, controller, logger, metrics)

	handlers := api.NewHandlers(api.HandlersConfig{
		TempDir:           cfg.Storage.TempDir,
		MaxImageSizeBytes: cfg.Storage.MaxImageSizeBytes,
	}, registry, store, gate, streamer, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"service": "hotpin-webserver", "status": "running"})
	})
	router.GET("/health", handlers.Health)
	router.GET("/state", handlers.State)
	router.POST("/image", handlers.UploadImage)
	router.GET("/download/:token", handlers.Download)
	router.GET("/ws", wsHandler.Serve)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx)
	go store.Run(ctx)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		registry: registry,
		storage:  store,
		synth:    synth,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		cancel:   cancel,
	}, nil
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close stops background loops and drains the synthesis queue.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.cancel()
	s.synth.Close()
	s.logger.Sync()
	return nil
}
