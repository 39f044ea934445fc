// Command linkd runs the identity-linking service: the OAuth verification
// workflow, the task creation workflow, the query API and the optional
// chain-submit reconciler, over a SQLite status store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deidlabs/linkd/internal/attest"
	"github.com/deidlabs/linkd/internal/audit"
	"github.com/deidlabs/linkd/internal/cache"
	"github.com/deidlabs/linkd/internal/config"
	"github.com/deidlabs/linkd/internal/gateway"
	"github.com/deidlabs/linkd/internal/identity"
	"github.com/deidlabs/linkd/internal/persistence"
	"github.com/deidlabs/linkd/internal/query"
	"github.com/deidlabs/linkd/internal/reconcile"
	"github.com/deidlabs/linkd/internal/saga"
	"github.com/deidlabs/linkd/internal/telemetry"
	"github.com/deidlabs/linkd/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "linkd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.SigningKeyHex == "" {
		return fmt.Errorf("signing_key is required (config.yaml or LINKD_SIGNING_KEY)")
	}

	log, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()

	if err := audit.Init(cfg.HomeDir); err != nil {
		return fmt.Errorf("init audit trail: %w", err)
	}
	defer audit.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProvider, err := telemetry.Init(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()

	metrics, err := telemetry.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	verifierCache := cache.New(cfg.Cache)
	defer verifierCache.Close()
	if err := verifierCache.Ping(ctx); err != nil {
		log.Warn("redis unreachable at startup, PKCE flows will fail until it recovers", "error", err)
	}

	producer, err := attest.NewProducer(cfg.SigningKeyHex)
	if err != nil {
		return fmt.Errorf("init attestation producer: %w", err)
	}
	log.Info("attestation signer ready", "address", producer.Address())

	registry := upstream.Registry{
		identity.PlatformDiscord:  upstream.NewDiscord(cfg.OAuth.Discord),
		identity.PlatformGitHub:   upstream.NewGitHub(cfg.OAuth.GitHub),
		identity.PlatformGoogle:   upstream.NewGoogle(cfg.OAuth.Google),
		identity.PlatformFacebook: upstream.NewFacebook(cfg.OAuth.Facebook),
		identity.PlatformTwitter:  upstream.NewX(cfg.OAuth.X),
	}
	publisher := upstream.NewContentStore(cfg.ContentStore)
	chain := upstream.NewRPCChain(cfg.Chain)

	verifier := saga.NewVerifier(store, registry, verifierCache, producer, chain,
		log, otelProvider.Tracer, metrics)
	creator := saga.NewCreator(store, publisher, chain, producer,
		log, otelProvider.Tracer, metrics)

	reconciler := reconcile.New(cfg.Reconciler, store, creator, log)
	if err := reconciler.Start(); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer reconciler.Stop()

	server := gateway.New(verifier, creator, query.New(store), log, metrics, cfg.AuthToken)
	log.Info("linkd starting", "version", telemetry.Version, "db", cfg.DBPath)
	return server.Serve(ctx, cfg.BindAddr)
}
