package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/microblog/internal/accounts"
	"github.com/yourusername/microblog/internal/auth"
	"github.com/yourusername/microblog/internal/config"
	"github.com/yourusername/microblog/internal/logging"
	"github.com/yourusername/microblog/internal/web"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx := cmd.Context()
	store, closeStore, err := openAccountStore(ctx, cfg)
	if err != nil {
		logging.LogError(logger, "failed to open account store", err, "account_store", cfg.AccountStore)
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := auth.NewManager(cfg)
	sessionStore, closeSessions, err := auth.NewSessionStore(cfg, manager)
	if err != nil {
		logging.LogError(logger, "failed to open session store", err, "session_store", cfg.SessionStore)
		return err
	}
	defer closeSessions()

	service := auth.NewService(store, auth.NewBcryptHasher(cfg.BcryptCost), auth.NewMetrics(registry), logger)
	handler := auth.NewHandler(service, manager, logger)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.SetHTMLTemplate(web.MustTemplates())
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// ルーティングの設定
	setupRoutes(router, handler, registry)

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("starting microblog server",
		"addr", srv.Addr,
		"mode", cfg.GinMode,
		"account_store", cfg.AccountStore,
		"session_store", cfg.SessionStore,
	)
	return serveUntilDone(ctx, srv, logger)
}

// serveUntilDone は ctx が終了するまでサーバーを動かし、終了後は処理中のリクエストを待って停止します。
func serveUntilDone(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("SERVER_FAILED").With("addr", srv.Addr).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down microblog server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SERVER_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// openAccountStore は ACCOUNT_STORE に応じたアカウントストアと、その後始末を返します。
func openAccountStore(ctx context.Context, cfg *config.Config) (accounts.Store, func(), error) {
	switch cfg.AccountStore {
	case config.AccountStoreRedis:
		opts, err := redis.ParseURL(cfg.AccountRedisURL)
		if err != nil {
			return nil, nil, oops.Code("CONFIG_INVALID").With("operation", "parse ACCOUNT_REDIS_URL").Wrap(err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
		}
		return accounts.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil

	case config.AccountStoreMemory:
		return accounts.NewMemoryStore(), func() {}, nil

	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
		}
		return accounts.NewPostgresStore(pool), pool.Close, nil
	}
}
