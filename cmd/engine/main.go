// Command engine runs the content acquisition and orchestration service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"contentengine/internal/api"
	"contentengine/internal/auth"
	"contentengine/internal/breaker"
	"contentengine/internal/classifier"
	"contentengine/internal/config"
	configfile "contentengine/internal/config/file"
	configmemory "contentengine/internal/config/memory"
	configpostgres "contentengine/internal/config/postgres"
	"contentengine/internal/control"
	"contentengine/internal/coordinator"
	"contentengine/internal/harvester"
	"contentengine/internal/harvester/demo"
	"contentengine/internal/keypool"
	"contentengine/internal/logging"
	"contentengine/internal/model"
	"contentengine/internal/observability"
	"contentengine/internal/runner"
	"contentengine/internal/scheduler"
	"contentengine/internal/storage"
	storagemem "contentengine/internal/storage/memory"
	storagepostgres "contentengine/internal/storage/postgres"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "engine",
		Short: "Content acquisition and orchestration engine",
	}
	root.PersistentFlags().String("addr", "http://localhost:8080", "control surface address, for trigger/stats")
	root.PersistentFlags().String("token", "", "admin bearer token (or ENGINE_TOKEN env)")

	root.AddCommand(newServeCmd(logger), newTriggerCmd(), newStatsCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func newServeCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine: scheduler, control surface, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, _ := cmd.Flags().GetString("listen")
			postgresDSN, _ := cmd.Flags().GetString("postgres-dsn")
			bootstrap, _ := cmd.Flags().GetBool("bootstrap")
			overridePath, _ := cmd.Flags().GetString("override-file")
			allowedOrigin, _ := cmd.Flags().GetString("allowed-origin")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return runServe(ctx, logger, serveOptions{
				listenAddr:    listenAddr,
				postgresDSN:   postgresDSN,
				bootstrap:     bootstrap,
				overridePath:  overridePath,
				allowedOrigin: allowedOrigin,
			})
		},
	}
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().String("postgres-dsn", "", "Postgres DSN for config and storage; empty uses in-memory backends")
	cmd.Flags().Bool("bootstrap", false, "bootstrap default configuration if none exists")
	cmd.Flags().String("override-file", "", "optional local JSON file of key/source overrides, read at startup; changes reported by fsnotify are logged and need a restart")
	cmd.Flags().String("allowed-origin", "*", "CORS origin allowed to call the control surface")
	return cmd
}

type serveOptions struct {
	listenAddr    string
	postgresDSN   string
	bootstrap     bool
	overridePath  string
	allowedOrigin string
}

// runServe wires every component (leaves first) into the running service
// and blocks until ctx is cancelled, then drains in-flight jobs before
// returning.
func runServe(ctx context.Context, logger *slog.Logger, opts serveOptions) error {
	cfgStore, closeStore, err := openConfigStore(ctx, opts.postgresDSN)
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer closeStore()

	cfg, err := cfgStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		if !opts.bootstrap {
			return fmt.Errorf("no configuration found; pass --bootstrap to seed the default demo configuration")
		}
		logger.Info("no config found, bootstrapping default configuration")
		if err := config.Bootstrap(ctx, cfgStore); err != nil {
			return fmt.Errorf("bootstrap config: %w", err)
		}
		cfg, err = cfgStore.Load(ctx)
		if err != nil {
			return fmt.Errorf("load bootstrapped config: %w", err)
		}
	}

	if opts.overridePath != "" {
		if overrides, err := configfile.Load(opts.overridePath); err != nil {
			logger.Error("failed to load override file", "path", opts.overridePath, "error", err)
		} else if overrides != nil {
			cfg.Keys = append(cfg.Keys, overrides.Keys...)
			cfg.Sources = append(cfg.Sources, overrides.Sources...)
		}
	}

	logger.Info("loaded config", "sources", len(cfg.Sources), "keys", len(cfg.Keys))

	store, closeGateway, err := openStorageGateway(ctx, opts.postgresDSN, logger)
	if err != nil {
		return fmt.Errorf("open storage gateway: %w", err)
	}
	defer closeGateway()

	sourcesByName := make(map[string]config.SourceConfig, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sourcesByName[s.Name] = s
	}

	registry := harvester.NewRegistry(buildHarvesterFactories(cfg.Sources))

	breakerRegistry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
		Logger:           logger,
	})

	keyPools := buildKeyPools(cfg.Keys, logger)

	dispatchers, err := buildClassifierDispatchers(cfg.ClassifierEndpoints, logger)
	if err != nil {
		return fmt.Errorf("build classifier dispatchers: %w", err)
	}

	r := runner.New(runner.Config{
		Harvesters:  registry,
		Storage:     store,
		Breaker:     breakerRegistry,
		KeyPools:    keyPools,
		Classifiers: dispatchers,
		Logger:      logger,
	})

	co := coordinator.New(coordinator.Config{Runner: r, MaxConcurrent: 4, Logger: logger})

	sched, err := scheduler.New(scheduler.Config{Coordinator: co, Logger: logger})
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	if cfg.ArticleJob != nil {
		if err := sched.AddJob(toJobConfig("articles", *cfg.ArticleJob, sourcesByName)); err != nil {
			return fmt.Errorf("add articles job: %w", err)
		}
	}
	if cfg.VideoJob != nil {
		if err := sched.AddJob(toJobConfig("videos", *cfg.VideoJob, sourcesByName)); err != nil {
			return fmt.Errorf("add videos job: %w", err)
		}
	}

	metrics := observability.New()
	health := &observability.Health{Scheduler: sched, Storage: store, Breaker: breakerRegistry, KeyPools: keyPools}

	ctl := control.New(control.Config{
		Scheduler: sched,
		Runner:    r,
		Storage:   store,
		Breaker:   breakerRegistry,
		KeyPools:  keyPools,
		Health:    health,
		Metrics:   metrics,
		Logger:    logger,
	})

	tokens := auth.NewTokenService(adminSecret(logger), 24*time.Hour)

	if opts.overridePath != "" {
		watcher, err := configfile.NewWatcher(opts.overridePath, logger, func(o configfile.Overrides) {
			logger.Info("override file changed; restart to pick up new sources", "keys", len(o.Keys), "sources", len(o.Sources))
		})
		if err != nil {
			logger.Error("failed to start override file watcher", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	handler := api.NewRouter(api.Config{
		Control:       ctl,
		Tokens:        tokens,
		Metrics:       metrics,
		AllowedOrigin: opts.allowedOrigin,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              opts.listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info("control surface listening", "addr", opts.listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- err
		}
	}()

	select {
	case err := <-serveErrs:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := sched.StopAndWait(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}
	return nil
}

func openConfigStore(ctx context.Context, postgresDSN string) (config.Store, func(), error) {
	if postgresDSN == "" {
		return configmemory.NewStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect config postgres: %w", err)
	}
	store, err := configpostgres.New(configpostgres.Config{Pool: pool})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func openStorageGateway(ctx context.Context, postgresDSN string, logger *slog.Logger) (storage.Gateway, func(), error) {
	if postgresDSN == "" {
		return storagemem.New(storagemem.Config{Logger: logger}), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect storage postgres: %w", err)
	}
	gw, err := storagepostgres.New(storagepostgres.Config{Pool: pool, Logger: logger})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return gw, func() { gw.Close() }, nil
}

// buildHarvesterFactories registers a demo harvester for every configured
// source named "demo"; real per-publisher harvester adapters are outside
// this repository's scope (spec.md §2: "per-source harvester adapters are
// out of scope").
func buildHarvesterFactories(sources []config.SourceConfig) map[string]harvester.Factory {
	factories := make(map[string]harvester.Factory, len(sources))
	for _, s := range sources {
		if s.Name != "demo" {
			continue
		}
		kind := demo.KindArticle
		if s.Kind == model.SourceVideo {
			kind = demo.KindVideo
		}
		factories[s.Name] = func(source string, logger *slog.Logger) (harvester.Harvester, error) {
			return demo.New(source, kind, logger)
		}
	}
	return factories
}

// buildClassifierDispatchers builds one Dispatcher per configured endpoint,
// keyed by content kind: spec.md §6 describes two independent classifier
// endpoints, one per kind, so an article run must never be dispatched to the
// video endpoint or vice versa.
func buildClassifierDispatchers(endpoints []config.ClassifierEndpointConfig, logger *slog.Logger) (map[model.SourceKind]*classifier.Dispatcher, error) {
	dispatchers := make(map[model.SourceKind]*classifier.Dispatcher, len(endpoints))
	for _, e := range endpoints {
		d, err := classifier.New(classifier.Config{Endpoint: e.Endpoint, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("endpoint for kind %s: %w", e.Kind, err)
		}
		dispatchers[e.Kind] = d
	}
	return dispatchers, nil
}

func buildKeyPools(keys []config.KeyConfig, logger *slog.Logger) map[string]*keypool.Pool {
	bySource := make(map[string][]string)
	for _, k := range keys {
		bySource[k.Source] = append(bySource[k.Source], k.Credential)
	}
	pools := make(map[string]*keypool.Pool, len(bySource))
	for source, creds := range bySource {
		pools[source] = keypool.New(keypool.Config{Credentials: creds, Logger: logger})
	}
	return pools
}

func toJobConfig(name string, jc config.JobConfig, sources map[string]config.SourceConfig) scheduler.JobConfig {
	queries := make([]coordinator.SourceQuery, 0, len(jc.Queries))
	for _, q := range jc.Queries {
		src := sources[q.Source]
		queries = append(queries, coordinator.SourceQuery{
			Source:     q.Source,
			Kind:       src.Kind,
			SourceType: src.SourceType,
			Platform:   src.Platform,
			Query: model.Query{
				Keyword:            q.Keyword,
				Page:               q.Page,
				Size:               q.Size,
				Limit:              q.Limit,
				Since:              q.Since,
				Until:              q.Until,
				Hashtags:           q.Hashtags,
				IncludeComments:    q.IncludeComments,
				IncludeTranscripts: q.IncludeTranscripts,
				MinDurationSeconds: q.MinDurationSeconds,
				MaxDurationSeconds: q.MaxDurationSeconds,
			},
		})
	}
	return scheduler.JobConfig{
		Name:         name,
		Queries:      queries,
		Interval:     jc.Interval,
		MaxInstances: jc.MaxInstances,
		Coalesce:     jc.Coalesce,
		MisfireGrace: jc.MisfireGrace,
		Jitter:       jc.Jitter,
		StartDelay:   jc.StartDelay,
	}
}

// adminSecret returns ENGINE_ADMIN_SECRET if set, otherwise mints a random
// one for the life of this process and logs it once so an operator can
// issue themselves a token out of band.
func adminSecret(logger *slog.Logger) []byte {
	if v := os.Getenv("ENGINE_ADMIN_SECRET"); v != "" {
		return []byte(v)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Error("failed to generate admin secret", "error", err)
	}
	secret := hex.EncodeToString(buf)
	logger.Warn("ENGINE_ADMIN_SECRET not set; generated an ephemeral secret for this process", "secret", secret)
	return []byte(secret)
}
