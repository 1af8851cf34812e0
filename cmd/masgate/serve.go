package main

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/agent/backends"
	"github.com/gosuda/masgate/internal/api/ws"
	"github.com/gosuda/masgate/internal/config"
	"github.com/gosuda/masgate/internal/domain"
	"github.com/gosuda/masgate/internal/server"
	"github.com/gosuda/masgate/internal/serving"
	"github.com/gosuda/masgate/internal/store/postgres"
	redisstore "github.com/gosuda/masgate/internal/store/redis"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var traces domain.TraceRepository
	if cfg.Database.Enabled() {
		if cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}

		store, storeErr := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if storeErr != nil {
			return storeErr
		}
		defer store.Close()

		if cfg.Database.Migrate {
			if migrateErr := store.Migrate(ctx); migrateErr != nil {
				return migrateErr
			}
		}
		traces = store.Traces()
		log.Info().Str("host", cfg.Database.Host).Msg("trace persistence enabled")
	}

	var (
		publisher  agent.PubSubPublisher
		subscriber ws.Subscriber
	)
	if cfg.Redis.Enabled() {
		pubsub, redisErr := redisstore.New(ctx, cfg.Redis)
		if redisErr != nil {
			return redisErr
		}
		defer pubsub.Close()

		publisher, subscriber = pubsub, pubsub
		log.Info().Str("addr", cfg.Redis.Addr).Msg("live trace follow enabled")
	}

	catalog, err := loadCatalog(cfg.Agents)
	if err != nil {
		return err
	}

	creds, err := credentialProvider(ctx, cfg.Serving)
	if err != nil {
		return err
	}

	registry := newRegistry()
	client := serving.NewClient(creds, &http.Client{Timeout: cfg.Serving.Timeout})
	orchestrator := agent.NewOrchestrator(catalog, registry, client, traces, publisher)

	if preflightErr := orchestrator.Preflight(); preflightErr != nil {
		log.Warn().Err(preflightErr).Msg("some agents are misconfigured and will fail on use")
	}

	var assets fs.FS
	if cfg.Server.StaticDir != "" {
		assets = os.DirFS(cfg.Server.StaticDir)
	}

	srv := server.New(ctx, cfg, server.Options{
		Invoker:  orchestrator,
		Catalog:  catalog,
		Registry: registry,
		Traces:   traces,
		PubSub:   subscriber,
		Assets:   assets,
	})

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Int("agents", catalog.Len()).
			Str("default_agent", catalog.DefaultID()).
			Str("credential_mode", cfg.Serving.CredentialMode).
			Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

func newRegistry() *agent.Registry {
	registry := agent.NewRegistry()
	registry.Register(domain.DeploymentAgentBricksMAS, backends.NewMASHandler)
	registry.Register(domain.DeploymentDatabricksEndpoint, backends.NewEndpointHandler)
	return registry
}

// loadCatalog reads the catalog file and applies the configured default.
func loadCatalog(cfg config.AgentsConfig) (*agent.Catalog, error) {
	catalog, err := agent.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if cfg.DefaultID == "" {
		return catalog, nil
	}
	return agent.NewCatalog(catalog.List(), cfg.DefaultID)
}

// credentialProvider builds the upstream credential chain for mode.
func credentialProvider(ctx context.Context, cfg config.ServingConfig) (serving.CredentialProvider, error) {
	env := serving.EnvCredentials{Host: cfg.Host, Token: cfg.Token}

	switch cfg.CredentialMode {
	case config.CredentialModeEnv:
		return env, nil
	case config.CredentialModeForwarded:
		return serving.ChainCredentials{serving.ForwardedTokenCredentials{Host: cfg.Host}, env}, nil
	case config.CredentialModeOAuth:
		return serving.ChainCredentials{
			serving.NewOAuthCredentials(ctx, cfg.Host, cfg.ClientID, cfg.ClientSecret),
			env,
		}, nil
	default:
		return nil, fmt.Errorf("unknown credential mode %q", cfg.CredentialMode)
	}
}
