package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/estoqueflow/sessiongate/config"
	"github.com/estoqueflow/sessiongate/internal/adapters/devauth"
	"github.com/estoqueflow/sessiongate/internal/adapters/gotrue"
	"github.com/estoqueflow/sessiongate/internal/adapters/postgres"
	redisadapter "github.com/estoqueflow/sessiongate/internal/adapters/redis"
	"github.com/estoqueflow/sessiongate/internal/ports"
	"github.com/estoqueflow/sessiongate/internal/service"
)

// ServiceContainer holds the session reconciliation services.
type ServiceContainer struct {
	Provider    ports.AuthProvider
	Coordinator *service.Coordinator
	Guard       *service.Guard

	// closeProvider shuts the auth provider down, when it owns background
	// work (token rotation timers). Nil for the mock provider.
	closeProvider func()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires the auth provider, profile fetch orchestrator, session
// coordinator and route guard from shared infrastructure.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	store := &postgres.ProfileStore{DB: deps.DB}

	provider, closeProvider, err := newAuthProvider(cfg, deps.RedisClient, logger)
	if err != nil {
		return nil, err
	}

	fetcher, err := service.NewProfileFetcher(service.ProfileFetcherOptions{
		Store:  store,
		Config: cfg.Session,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build profile fetcher: %w", err)
	}

	coordinator, err := service.NewCoordinator(service.CoordinatorOptions{
		Provider:         provider,
		Store:            store,
		Fetcher:          fetcher,
		Config:           cfg.Session,
		Logger:           logger,
		ResetRedirectURL: resetRedirectURL(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("build session coordinator: %w", err)
	}

	guard, err := service.NewGuard(service.GuardOptions{
		Coordinator: coordinator,
		Config:      cfg.Session,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build route guard: %w", err)
	}

	return &ServiceContainer{
		Provider:      provider,
		Coordinator:   coordinator,
		Guard:         guard,
		closeProvider: closeProvider,
	}, nil
}

// newAuthProvider selects the auth provider from AUTH_MODE.
//
//nolint:ireturn // the caller only needs the ports.AuthProvider surface.
func newAuthProvider(
	cfg *config.AppConfig,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
) (ports.AuthProvider, func(), error) {
	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		provider, err := devauth.NewProvider(devauth.Config{
			UserID: cfg.Auth.Dev.UserID,
			Email:  cfg.Auth.Dev.Email,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build mock auth provider: %w", err)
		}
		logger.Warn("using mock auth provider", "user_id", cfg.Auth.Dev.UserID)
		return provider, nil, nil

	case config.AuthModeGoTrue:
		tokens, err := redisadapter.NewTokenStore(redisadapter.TokenStoreOptions{
			Client: redisClient,
			TTL:    cfg.Redis.TokenTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build token store: %w", err)
		}

		provider, err := gotrue.NewProvider(gotrue.Config{
			URL:              cfg.Auth.GoTrue.URL,
			AnonKey:          cfg.Auth.GoTrue.AnonKey,
			JWTSecret:        cfg.Auth.GoTrue.JWTSecret,
			JWKSURL:          jwksURL(cfg.Auth.GoTrue),
			ResetRedirectURL: cfg.Auth.GoTrue.ResetRedirectURL,
			Tokens:           tokens,
			Logger:           logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build gotrue auth provider: %w", err)
		}
		return provider, provider.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

// jwksURL resolves the JWKS endpoint. When neither a shared secret nor an
// explicit JWKS URL is configured, fall back to the well-known path so RS256
// deployments work out of the box.
func jwksURL(cfg config.GoTrueConfig) string {
	if cfg.JWKSURL != "" || cfg.JWTSecret != "" {
		return cfg.JWKSURL
	}
	return strings.TrimSuffix(cfg.URL, "/") + "/.well-known/jwks.json"
}

func resetRedirectURL(cfg *config.AppConfig) string {
	if cfg.Auth.GoTrue.ResetRedirectURL != "" {
		return cfg.Auth.GoTrue.ResetRedirectURL
	}
	return strings.TrimSuffix(cfg.HTTP.BaseURL, "/") + "/reset-password"
}

// Close stops the coordinator and the provider's background work.
func (s *ServiceContainer) Close() {
	if s == nil {
		return
	}
	if s.Coordinator != nil {
		s.Coordinator.Close()
	}
	if s.closeProvider != nil {
		s.closeProvider()
	}
}

// ServiceOrchestrationConfig groups everything RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the session coordinator and the HTTP server
// and blocks until a shutdown signal is received or a component fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Services.Coordinator.Start(); err != nil {
		return fmt.Errorf("start session coordinator: %w", err)
	}
	defer cfg.Services.Close()

	server := StartHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: cfg.Services,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down services...")
		return ShutdownHTTPServer(ShutdownConfig{
			Context: context.Background(),
			Server:  server,
			Logger:  logger,
		})
	})
	g.Go(func() error {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}
