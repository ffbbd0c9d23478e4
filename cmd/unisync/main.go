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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	moodleadapter "github.com/ortaizi/unisync/internal/adapter/driven/moodle"
	sqliteadapter "github.com/ortaizi/unisync/internal/adapter/driven/sqlite"
	httphandler "github.com/ortaizi/unisync/internal/adapter/driving/http"
	"github.com/ortaizi/unisync/internal/application"
	"github.com/ortaizi/unisync/internal/config"
	"github.com/ortaizi/unisync/internal/ratelimit"
	"github.com/ortaizi/unisync/internal/vault"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"env", cfg.Env,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"google_oauth", cfg.HasGoogleOAuth(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	userStore := sqliteadapter.NewUserRepo(db)
	credStore := sqliteadapter.NewCredentialRepo(db)
	jobStore := sqliteadapter.NewSyncJobRepo(db)
	attemptStore := sqliteadapter.NewAttemptRepo(db)
	moodleClient := moodleadapter.NewClient()

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		return err
	}

	// 6. Create application services.
	credSvc := application.NewCredentialService(moodleClient, credStore, userStore, attemptStore, v)
	sessionSvc := application.NewSessionService(userStore, credStore, jobStore, attemptStore, cfg.JWTSecret, cfg.SessionTTL)
	syncSvc := application.NewSyncService(jobStore, application.DefaultPipeline(moodleClient))

	// 7. Start the rate limiter's background cleanup.
	limiter := ratelimit.NewMemoryLimiter()
	go limiter.StartCleanup(ctx, cfg.RateLimitCleanupTick)

	// 8. Google OAuth is optional in development; login endpoints report 503
	// until it is configured.
	var google httphandler.GoogleAuthenticator
	if cfg.HasGoogleOAuth() {
		google = httphandler.NewGoogleAuthenticator(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)
		slog.Info("google oauth configured", "redirect_url", cfg.OAuthRedirectURL)
	} else {
		slog.Warn("google oauth not configured, login endpoints disabled")
	}

	// 9. Create HTTP handler and register routes.
	apiHandler := httphandler.NewHandler(sessionSvc, credSvc, syncSvc, attemptStore, google, limiter, httphandler.RateLimits{
		CredentialTest: cfg.CredentialTestLimit,
		ArbitraryTest:  cfg.ArbitraryTestLimit,
		SyncTrigger:    cfg.SyncTriggerLimit,
	}, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("unisync started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown: drain HTTP, then let in-flight sync pipelines
	// finish so no job is stranded mid-stage.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	syncSvc.Wait()

	slog.Info("shutdown complete")
	return nil
}
