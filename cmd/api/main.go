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

	"aegisx/internal/apikey"
	"aegisx/internal/audit"
	"aegisx/internal/auth"
	"aegisx/internal/config"
	"aegisx/internal/httpapi"
	"aegisx/internal/identity"
	"aegisx/internal/password"
	"aegisx/pkg/logger"
	"aegisx/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Token infrastructure
	refreshStore := auth.NewPostgresRefreshStore(db)
	tokens, err := auth.NewManager(cfg.Auth, refreshStore)
	if err != nil {
		log.Error("token manager init failed", "err", err)
		os.Exit(1)
	}
	denylist := auth.NewRedisDenylist(rdb)
	go pruneExpiredRefreshTokens(rootCtx, log, refreshStore)

	// Audit trail
	events := audit.NewEmitter(audit.NewPostgresRepo(db), log)

	// Identity
	identitySvc := identity.NewService(
		identity.NewPostgresUserStore(db),
		tokens,
		password.NewHasher(cfg.Password),
		password.PolicyFromConfig(cfg.Password),
		denylist,
		events,
		identity.NewRedisLoginThrottle(rdb, cfg.Throttle),
		log,
	)

	// API keys
	apiKeySvc := apikey.NewService(apikey.NewPostgresRepo(db), cfg.APIKey)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Identity: identitySvc,
		APIKeys:  apiKeySvc,
		Events:   events,
		DB:       db,
		Redis:    rdb,
	}
	registerRoutes(r, h, auth.RequireAccessToken(tokens, denylist), apiKeySvc)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

const refreshTokenPruneInterval = time.Hour

// pruneExpiredRefreshTokens deletes rotation records past their natural
// expiry. Expired tokens already fail verification; this only bounds table
// growth.
func pruneExpiredRefreshTokens(ctx context.Context, log *slog.Logger, store *auth.PostgresRefreshStore) {
	ticker := time.NewTicker(refreshTokenPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.DeleteExpired(ctx, time.Now().UTC()); err != nil {
				log.Warn("refresh token prune failed", "err", err)
			}
		}
	}
}
