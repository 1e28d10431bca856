// Voice Call Relay Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/callrelay/internal/agent"
	"github.com/ashureev/callrelay/internal/api"
	"github.com/ashureev/callrelay/internal/call"
	"github.com/ashureev/callrelay/internal/config"
	"github.com/ashureev/callrelay/internal/domain"
	"github.com/ashureev/callrelay/internal/identity"
	"github.com/ashureev/callrelay/internal/middleware"
	"github.com/ashureev/callrelay/internal/speech"
	"github.com/ashureev/callrelay/internal/store"
	"github.com/ashureev/callrelay/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"stt", cfg.Transcription.Backend,
		"llm", cfg.Response.Backend,
		"tts", cfg.Synthesis.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Call ledger (optional).
	var repo store.Repository
	var ledger call.Ledger
	if cfg.LedgerEnabled {
		sqlite, err := openLedger(ctx, cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize call ledger", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				slog.Error("Failed to close call ledger", "error", closeErr)
			}
		}()
		repo, ledger = sqlite, sqlite
	} else {
		slog.Info("Call ledger disabled")
	}

	// Speech and reply backends.
	transcriber, err := speech.NewTranscriber(cfg.Transcription, logger)
	if err != nil {
		slog.Error("Failed to initialize transcriber", "error", err)
		os.Exit(1)
	}
	synthesizer, err := speech.NewSynthesizer(cfg.Synthesis, logger)
	if err != nil {
		slog.Error("Failed to initialize synthesizer", "error", err)
		os.Exit(1)
	}

	persona, err := agent.LoadPersona(cfg.Response.PersonaFile)
	if err != nil {
		slog.Error("Failed to load persona", "error", err, "path", cfg.Response.PersonaFile)
		os.Exit(1)
	}
	responder, closeResponder, err := agent.New(ctx, cfg.Response, persona, logger)
	if err != nil {
		slog.Error("Failed to initialize responder", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeResponder(); closeErr != nil {
			slog.Error("Failed to close responder", "error", closeErr)
		}
	}()

	pipeline, err := call.NewPipeline(call.PipelineConfig{
		Transcriber: transcriber,
		Responder:   responder,
		Synthesizer: synthesizer,
		Timeouts: call.Timeouts{
			Transcribe: cfg.Transcription.Timeout,
			Generate:   cfg.Response.Timeout,
			Synthesize: cfg.Synthesis.Timeout,
		},
		FallbackReply: persona.FallbackReply,
	})
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	calls, err := call.NewManager(call.ManagerConfig{
		Pipeline:  pipeline,
		Registry:  call.NewRegistry(logger),
		Ledger:    ledger,
		QueueSize: cfg.Call.QueueSize,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("Failed to initialize call manager", "error", err)
		os.Exit(1)
	}

	reaperCfg := call.ReaperConfig{
		Registry:    calls.Registry(),
		IdleTimeout: cfg.Call.IdleTimeout,
		Logger:      logger,
	}
	if repo != nil {
		reaperCfg.Ledger = repo
		reaperCfg.Retention = cfg.LedgerRetention
	}
	call.StartReaper(ctx, reaperCfg)

	// Initialize handlers.
	baseHandler := api.NewHandler(calls, repo, logger)
	healthHandler := api.NewHealthHandler(baseHandler)
	callHandler := api.NewCallHandler(baseHandler)
	initiateHandler := api.NewInitiateHandler(baseHandler, api.LogNotifier{Logger: logger})
	endpoint := transport.NewEndpoint(transport.EndpointConfig{
		Calls:         calls,
		AllowedOrigin: cfg.AllowedOrigin,
		IsDev:         cfg.IsDevelopment(),
		MaxFrameBytes: cfg.Call.MaxFrameBytes,
		WriteTimeout:  cfg.Call.WriteTimeout,
		Logger:        logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.AllowedOrigin}))

	healthHandler.RegisterHealth(r)
	initiateHandler.RegisterRoutes(r)
	callHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.With(identity.Middleware(cfg.DefaultCallerID)).Get("/call/connect", endpoint.ServeHTTP)

	// WriteTimeout stays 0 so long-lived websocket calls are not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Hijacked websocket connections are not tracked by srv.Shutdown.
	if n := calls.Shutdown(); n > 0 {
		slog.Info("Ended active calls", "count", n)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// openLedger opens the SQLite call ledger and closes records a previous
// process left open.
func openLedger(ctx context.Context, dbPath string) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	slog.Info("Call ledger connected", "path", dbPath)

	closed, err := repo.CloseOrphanedCalls(ctx, time.Now(), domain.EndReasonShutdown)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	if closed > 0 {
		slog.Info("Closed orphaned call records", "count", closed)
	}
	return repo, nil
}
