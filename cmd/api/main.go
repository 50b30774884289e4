package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"voip-session/internal/config"
	"voip-session/internal/engine"
	"voip-session/internal/httpapi"
	"voip-session/internal/missedcall"
	"voip-session/internal/session"
	"voip-session/internal/token"
	"voip-session/pkg/logger"
	"voip-session/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	deviceID := token.NewDeviceID()
	log.Info("starting", "env", cfg.App.Env, "device_id", deviceID)

	provider, err := buildTokenProvider(ctx, cfg, log)
	if err != nil {
		return err
	}

	missed, closeDB, err := buildMissedCallLog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	loop := engine.NewLoopback(logger.WithComponent(log, "engine"), engine.LoopbackOptions{
		RingAfter:    cfg.Engine.RingAfter,
		AnswerAfter:  cfg.Engine.AnswerAfter,
		AlertTimeout: cfg.Engine.AlertTimeout,
	})

	ctrl, err := session.New(session.Options{
		Logger:        logger.WithComponent(log, "session"),
		Engine:        loop,
		Tokens:        provider,
		Ringback:      session.NewLogTonePlayer(logger.WithComponent(log, "ringback")),
		MissedCalls:   missed,
		Notifier:      session.NewLogNotifier(logger.WithComponent(log, "notify")),
		DeviceID:      deviceID,
		TeardownDelay: cfg.Engine.TeardownDelay,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log))
	registerRoutes(r, httpapi.NewHandlers(ctrl), loop, cfg.App.Env)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildTokenProvider(ctx context.Context, cfg config.Config, log *slog.Logger) (token.Provider, error) {
	var provider token.Provider
	switch cfg.Token.Mode {
	case "pop":
		p := token.NewPOPProvider(cfg.Token.Endpoint)
		p.Region = cfg.Token.Region
		provider = p
	case "local":
		p, err := token.NewLocalProvider(cfg.Token.JWTSecret, "voip-session", cfg.Token.TTL)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown token mode %q", cfg.Token.Mode)
	}

	if cfg.Redis.Addr != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.Redis.Addr})
		if err != nil {
			return nil, err
		}
		provider = token.NewCachedProvider(provider, rdb, cfg.Redis.TokenTTL, logger.WithComponent(log, "token-cache"))
		log.Info("token cache enabled", "addr", cfg.Redis.Addr)
	}
	return provider, nil
}

func buildMissedCallLog(ctx context.Context, cfg config.Config, log *slog.Logger) (missedcall.Log, func(), error) {
	if cfg.DB.DSN == "" {
		return missedcall.NewMemoryLog(), func() {}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.DB.DSN, utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info("missed-call log backed by postgres")
	return missedcall.NewPostgresLog(db, 200), func() { _ = db.Close() }, nil
}
