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

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/Vasu1712/gatherhub/internal/api/events"
	"github.com/Vasu1712/gatherhub/internal/api/health"
	"github.com/Vasu1712/gatherhub/internal/api/realtime"
	"github.com/Vasu1712/gatherhub/internal/api/tasks"
	"github.com/Vasu1712/gatherhub/internal/api/voting"
	"github.com/Vasu1712/gatherhub/internal/auth"
	"github.com/Vasu1712/gatherhub/internal/config"
	"github.com/Vasu1712/gatherhub/internal/fabric"
	"github.com/Vasu1712/gatherhub/internal/gathering"
	"github.com/Vasu1712/gatherhub/internal/middleware"
	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/notify"
	"github.com/Vasu1712/gatherhub/internal/storage/memory"
	"github.com/Vasu1712/gatherhub/internal/storage/postgres"
	"github.com/Vasu1712/gatherhub/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// store is what the server needs from either backend.
type store interface {
	gathering.Store
	auth.UserRecorder
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store, func(), error) {
	if cfg.Store != "postgres" {
		return memory.NewStore(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger.With().Str("component", "postgres").Logger())
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func openFabric(cfg *config.Config, logger zerolog.Logger) (fabric.Fabric, error) {
	if cfg.Fabric == "valkey" {
		return fabric.DialValkey(cfg.ValkeyAddr, cfg.ValkeyChannelPrefix, logger.With().Str("component", "valkey").Logger())
	}
	return fabric.NewLocal(), nil
}

// checkOrigin accepts requests without an Origin header and those from the
// configured origins.
func checkOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(origins, "*") || lo.Contains(origins, origin)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger

	// 1. Storage
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	// 2. Rooms and cross-process fan-out
	hub := ws.NewHub(logger.With().Str("component", "hub").Logger(), cfg.RoomQueue)
	fab, err := openFabric(cfg, logger)
	if err != nil {
		return err
	}
	defer fab.Close()
	if local, ok := fab.(*fabric.Local); ok {
		local.Attach(hub)
	}

	errChan := make(chan error, 2)
	go func() {
		if err := fab.Run(ctx, hub); err != nil {
			logger.Error().Err(err).Msg("fabric stopped")
		}
	}()

	notifier := notify.New(fab, logger.With().Str("component", "notify").Logger(), notify.Options{
		QueueSize:      cfg.NotifyQueue,
		PublishTimeout: cfg.PublishTimeout,
	})
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("notifier: %w", err)
		}
	}()

	// 3. Service and transports
	svc := gathering.New(st, notifier, logger.With().Str("component", "gathering").Logger())
	authenticator := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, auth.WithRecorder(st))

	origins := cfg.Origins()
	sockets := realtime.NewHandler(hub, svc, authenticator, logger.With().Str("component", "realtime").Logger(), realtime.Options{
		AuthTimeout:    cfg.AuthTimeout,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		CheckOrigin:    checkOrigin(origins),
	})
	defer sockets.Close()

	apiLog := logger.With().Str("component", "api").Logger()
	router := mux.NewRouter()
	router.Use(middleware.Logging(apiLog), middleware.SecurityHeaders, middleware.CORS(origins, apiLog))

	health.RegisterHealthRoutes(router, &health.HealthHandler{
		Rooms: hub, Sessions: sockets, Deliveries: notifier, Fabric: fab, Started: time.Now(),
	})
	realtime.RegisterRoutes(router, sockets)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BodyLimit(cfg.MaxBodySize), middleware.RequireAuth(authenticator, apiLog))
	if cfg.RateLimitEnabled {
		api.Use(middleware.RateLimit(middleware.RateLimits{
			Window:  cfg.RateLimitWindow,
			General: cfg.RateLimitGeneral,
			Voting:  cfg.RateLimitVoting,
			Tasks:   cfg.RateLimitTasks,
		}, apiLog))
	}
	events.RegisterEventRoutes(api, &events.EventHandler{Service: svc, Log: apiLog})
	voting.RegisterVoteRoutes(api, &voting.VoteHandler{Service: svc, Log: apiLog})
	tasks.RegisterTaskRoutes(api, &tasks.TaskHandler{Service: svc, Log: apiLog})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("address", server.Addr).Str("store", cfg.Store).Str("fabric", cfg.Fabric).Msg("server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 4. Wait for stop or error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sockets.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().
		Int64("broadcasts_published", notifier.Published()).
		Int64("broadcasts_missed", notifier.Missed()).
		Msg("server stopped")
	return nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Store != "postgres" {
		return errors.New("migrate needs STORE=postgres")
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL, log.Logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("schema applied")
	return nil
}

// issueToken signs a dev token. With the postgres store the user row is
// written too so lookups by id resolve the name.
func issueToken(ctx context.Context, cfg *config.Config, userID int64, name, email string, ttl time.Duration) (string, error) {
	if name == "" {
		name = fmt.Sprintf("user-%d", userID)
	}
	u := models.User{ID: userID, Name: name, Email: email, IsActive: true}
	if cfg.Store == "postgres" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, log.Logger)
		if err != nil {
			return "", err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return "", err
		}
		if err := pg.PutUser(ctx, u); err != nil {
			return "", fmt.Errorf("save user: %w", err)
		}
	}
	return auth.IssueToken(cfg.JWTSecret, cfg.JWTIssuer, u, ttl)
}
