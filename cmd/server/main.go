package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/config"
	"tabletop-signup/internal/db"
	"tabletop-signup/internal/logger"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/polls"
	"tabletop-signup/internal/server"
	"tabletop-signup/internal/signup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logs, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logs.Sync() }()

	if err := run(ctx, cfg, logs); err != nil {
		logs.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logs *zap.Logger) error {
	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(conn); err != nil {
			return err
		}
		logs.Info("database schema migrated")
	}

	hub := notify.NewHub(logs)
	sinks := []notify.Publisher{notify.LogSink{Logger: logs}, hub}
	if cfg.MattermostEnabled() {
		sinks = append(sinks, notify.NewMattermostSink(cfg.MattermostURL, cfg.MattermostToken, cfg.MattermostChannelID, cfg.NotifyTimeout(), logs))
		logs.Info("mattermost notifications enabled", zap.String("channel", cfg.MattermostChannelID))
	}
	dispatcher := notify.NewDispatcher(logs, cfg.NotifyTimeout(), sinks...)
	defer dispatcher.Close()

	runner := db.NewTxRunner(conn, sql.LevelSerializable, cfg.TxMaxAttempts, cfg.TxRetryBackoff())
	authorizer := auth.NewOwnership(conn)
	defaults := signup.TableDefaults{Fallback: signup.Defaults{
		MinParticipants: cfg.DefaultMinParticipants,
		MaxParticipants: cfg.DefaultMaxParticipants,
		DurationMinutes: cfg.DefaultDurationMinutes,
	}}
	queues := signup.NewManager(runner, authorizer, dispatcher, defaults, logs)
	arbiter := polls.NewArbiter(runner, authorizer, dispatcher, polls.NewMaterializer(queues), logs)

	srv := server.New(conn, queues, arbiter, hub, cfg, logs)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logs.Info("tabletop-signup listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	logs.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
