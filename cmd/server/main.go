package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chatbackend/internal/config"
	"chatbackend/internal/domain"
	"chatbackend/internal/httpserver"
	"chatbackend/internal/presence"
	"chatbackend/internal/security"
	"chatbackend/internal/service"
	"chatbackend/internal/store/postgres"
	"chatbackend/internal/store/sqlite"
	"chatbackend/internal/ws"
)

// @title           Chat Backend API
// @version         1.0
// @description     REST surface of the realtime chat backend. Realtime events are served on /ws.

// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

type repositories struct {
	users    domain.UserRepository
	convs    domain.ConversationRepository
	groups   domain.GroupRepository
	messages domain.MessageRepository
}

func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.PostgresURL())
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:    postgres.NewUserRepo(db),
			convs:    postgres.NewConversationRepo(db),
			groups:   postgres.NewGroupRepo(db),
			messages: postgres.NewMessageRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:    sqlite.NewUserRepo(db),
			convs:    sqlite.NewConversationRepo(db),
			groups:   sqlite.NewGroupRepo(db),
			messages: sqlite.NewMessageRepo(db),
		}, nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("app", cfg.AppName, "env", cfg.Env)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, repos, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	defer db.Close()

	tokens := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL)
	hasher := security.NewPasswordHasher(0)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyFernetKeys)
	if err != nil {
		return fmt.Errorf("init encryptor: %w", err)
	}

	authSvc := service.NewAuthService(repos.users, tokens, hasher)
	userSvc := service.NewUserService(repos.users)
	roomSvc := service.NewConversationService(repos.convs, repos.groups, repos.messages, repos.users, encryptor, log)
	msgSvc := service.NewMessageService(repos.messages, roomSvc, encryptor, log)

	hub := ws.NewHub(log)
	registry := presence.NewMemory(cfg.PresenceGrace,
		presence.WithListener(hub),
		presence.WithLogger(log),
	)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}

		mirror := presence.NewRedisMirror(rdb, presence.DefaultMirrorKey, log)
		registry.AddListener(mirror)
		go mirror.Run(ctx)
		log.Info("presence mirror enabled", "key", presence.DefaultMirrorKey)
	}

	relay := ws.NewRelay(hub, msgSvc, log)
	realtime := ws.MakeHandler(ws.HandlerConfig{
		Auth:            authSvc,
		Rooms:           roomSvc,
		Relay:           relay,
		Hub:             hub,
		Presence:        registry,
		Log:             log,
		AllowedOrigins:  cfg.CORSOrigins,
		SendBuffer:      cfg.WSSendBuffer,
		EventsPerSecond: cfg.WSEventsPerSecond,
		EventBurst:      cfg.WSEventBurst,
	})

	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Log:      log,
		Auth:     authSvc,
		Users:    userSvc,
		Rooms:    roomSvc,
		Messages: msgSvc,
		Relay:    relay,
		Presence: registry,
		Realtime: realtime,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr(), "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
