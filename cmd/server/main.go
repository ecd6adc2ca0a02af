package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/api"
	"github.com/knowledge-hub/server/internal/auth"
	"github.com/knowledge-hub/server/internal/config"
	"github.com/knowledge-hub/server/internal/core"
	"github.com/knowledge-hub/server/internal/store"
)

func main() {
	backfill := flag.Bool("backfill", false, "Re-generate artifacts for documents without an embedding and exit")
	backfillPace := flag.Duration("backfill-pace", 500*time.Millisecond, "Delay between documents during -backfill")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg.LogLevel)

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	llmService, err := core.NewLLMService(context.Background(), cfg.GeminiAPIKey, core.LLMOptions{
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.GeminiTimeout,
		RatePerSecond:  cfg.GeminiRate,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize LLM service: %v", err)
	}
	defer llmService.Close()

	documentService := core.NewDocumentService(dbStore, dbStore, core.NewArtifactGenerator(llmService))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *backfill {
		if err := runBackfill(ctx, documentService, *backfillPace); err != nil {
			logrus.Errorf("Backfill failed: %v", err)
			os.Exit(1)
		}
		return
	}

	searchService := core.NewSearchService(dbStore, llmService, core.SearchOptions{
		Candidates: cfg.SearchCandidates,
		TopK:       cfg.SearchTopK,
		MinScore:   cfg.SearchMinScore,
	})
	qaService := core.NewQAService(dbStore, llmService)
	userService := core.NewUserService(dbStore, auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL), cfg.IsAdminEmail)

	router := api.NewRouter(api.NewAPIHandler(userService, documentService, searchService, qaService))

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // create/update wait on three Gemini calls
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logrus.Infof("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	logrus.Info("Server exiting gracefully")
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown LOG_LEVEL %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.Debug("Service starting in DEBUG mode")
}

// runBackfill re-enriches every document that was stored while generation was
// unavailable. Documents that are still degraded afterwards are left for the
// next run.
func runBackfill(ctx context.Context, docs *core.DocumentService, pace time.Duration) error {
	pending, err := docs.PendingEnrichment(ctx)
	if err != nil {
		return err
	}
	logrus.Infof("Starting backfill of %d documents...", len(pending))

	if pace <= 0 {
		pace = time.Millisecond
	}
	ticker := time.NewTicker(pace)
	defer ticker.Stop()

	repaired, failed := 0, 0
	for i, doc := range pending {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}

		updated, err := docs.Reenrich(ctx, doc.ID)
		switch {
		case errors.Is(err, core.ErrNotFound):
			logrus.WithField("doc_id", doc.ID).Info("Document deleted before backfill, skipping")
		case errors.Is(err, core.ErrConflict):
			logrus.WithField("doc_id", doc.ID).Info("Document changed during backfill, skipping")
		case err != nil:
			return err
		case len(updated.Embedding) == 0:
			failed++
		default:
			repaired++
		}
	}
	logrus.Infof("Backfill complete. Repaired %d documents, %d still missing embeddings.", repaired, failed)
	return nil
}
