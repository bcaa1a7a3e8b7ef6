package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/tasukuchiba/message_board/internal/api"
	"github.com/tasukuchiba/message_board/internal/config"
	"github.com/tasukuchiba/message_board/internal/identity"
	"github.com/tasukuchiba/message_board/internal/ledger"
	"github.com/tasukuchiba/message_board/internal/storage"
	"github.com/tasukuchiba/message_board/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()

	// run の defer でストレージを閉じてから終了する
	if err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}

// run はサーバーを起動し、ctx が終了するかサーバーが失敗するまで戻らない
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ストレージの初期化
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init %s storage: %w", cfg.StorageType, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing storage")
		}
	}()

	// 台帳の復元
	board, err := ledger.New(ctx, store, ledger.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info().Int("messages", board.Count()).Msg("ledger restored")

	nonces, closeNonces, err := initNonceStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer closeNonces()
	verifier := identity.NewVerifier(nonces, cfg.SignatureWindow, logger)

	// WebSocket Hubの初期化と起動
	hub := websocket.NewHub(board, logger)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(logger, board, hub, verifier),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("storage", cfg.StorageType).
			Msg("starting message board server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

// initStorage は設定に基づいてストレージを初期化する
func initStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (storage.Storage, error) {
	switch cfg.StorageType {
	case config.StoragePostgres:
		store, err := storage.NewPostgresStorage(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("using PostgreSQL storage")
		return store, nil

	case config.StorageBadger:
		store, err := storage.NewBadgerStorage(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.BadgerPath).Msg("using Badger storage")
		return store, nil

	default:
		logger.Info().Msg("using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
}

// initNonceStore はREDIS_URLがあればRedis、なければメモリのnonceストアを返す
func initNonceStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (identity.NonceStore, func(), error) {
	if cfg.RedisURL == "" {
		return identity.NewMemoryNonceStore(), func() {}, nil
	}

	nonces, err := identity.NewRedisNonceStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to Redis")
	return nonces, func() {
		if err := nonces.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis connection")
		}
	}, nil
}
