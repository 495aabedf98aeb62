package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"negochat/attachments"
	"negochat/auth"
	"negochat/logs"
	"negochat/moderation"
	"negochat/repositories"
	"negochat/runtime"
	"negochat/runtime/workers"
	"negochat/search"
	"negochat/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so every defer executes before the process
// exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.FromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Supervision & Orchestration
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewTelemetryWorker(log, config.TelemetryInterval))
	registry := runtime.NewRegistry()
	messageRepository := repositories.NewMessageRepository(db, log)
	defer messageRepository.Close()

	orchestrator := runtime.NewOrchestrator(log, sup, registry, messageRepository, runtime.Options{
		BufferSize:     config.BufferSize,
		SinkTimeout:    config.SinkTimeout,
		TypingTTL:      config.TypingTTL,
		ModeratedTerms: moderation.DefaultTerms(),
		Replacement:    '*',
	})

	// 4. Search index, fed by the event fan-out
	index, err := search.NewIndex(config.SearchIndexPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()
	orchestrator.AddSinks(index)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Start the Engine
	if err = orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator failed to start: %w", err)
	}

	// 7. HTTP & Websocket transport
	store, err := attachments.NewDiskStore(config.UploadDir, "/uploads")
	if err != nil {
		return err
	}
	uploads := attachments.NewHandler(store, config.MaxUploadBytes, log)
	tokens := auth.NewTokenManager([]byte(config.JWTSecret), config.JWTIssuer, config.TokenTTL)

	proposals, err := config.proposalDirectory()
	if err != nil {
		return err
	}

	server := ws.NewServer(log, orchestrator, tokens, proposals, uploads, index, config.UploadDir)
	handler := cors.New(cors.Options{
		AllowedOrigins:   config.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(server.Router())

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	orchestrator.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
