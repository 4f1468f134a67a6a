package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/client"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/engine"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/halo"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/identity"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/logging"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/metrics"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/pagination"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/stats"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/token"
)

var (
	flagTokenCache    string
	flagPoolSize      int
	flagRedisAddr     string
	flagLogLevel      string
	flagPretty        bool
	flagMetricsListen string
)

var rootCmd = &cobra.Command{
	Use:   "halo-stats",
	Short: "Halo match history aggregation",
	Long:  "Aggregate Halo match histories into per-player and per-server statistics.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Optional; environment may be configured directly.
		_ = godotenv.Load()

		logging.Setup(logging.Config{
			Level:  logging.LogLevel(flagLogLevel),
			Pretty: flagPretty,
		})

		if flagMetricsListen != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			go func() {
				_ = http.ListenAndServe(flagMetricsListen, mux)
			}()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagTokenCache, "token-cache", "token_cache.json", "path to the spartan token cache file")
	rootCmd.PersistentFlags().IntVar(&flagPoolSize, "pool", 50, "maximum concurrent API requests")
	rootCmd.PersistentFlags().StringVar(&flagRedisAddr, "redis", os.Getenv("REDIS_ADDR"), "redis address for identity persistence (empty disables)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagPretty, "pretty", false, "human-readable log output")
	rootCmd.PersistentFlags().StringVar(&flagMetricsListen, "metrics-listen", "", "listen address for the /metrics endpoint (empty disables)")

	rootCmd.AddCommand(fullCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(populateCmd)
}

// app bundles the wired-up engine with its shutdown hooks.
type app struct {
	engine *engine.Engine
	cache  *identity.Cache
}

// newApp wires token provider, fetch client, API client, cache, walker and
// processor into an engine, restoring the identity cache when a store is
// configured.
func newApp(ctx context.Context) (*app, error) {
	cfg := client.DefaultConfig(token.NewFileProvider(flagTokenCache))
	if flagPoolSize > 0 {
		cfg.MaxConcurrency = flagPoolSize
	}
	fetcher, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create fetch client: %w", err)
	}

	api, err := halo.NewClient(fetcher, halo.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	var store identity.Store
	if flagRedisAddr != "" {
		store = identity.NewRedisStore(redis.NewClient(&redis.Options{Addr: flagRedisAddr}))
	}

	cache := identity.NewCache(api, store)
	if err := cache.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore identity cache: %w", err)
	}

	walker := pagination.NewWalker(api, pagination.DefaultConfig())
	processor := stats.NewProcessor(api, stats.DefaultConfig())

	eng, err := engine.New(cache, walker, processor, api, engine.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return &app{engine: eng, cache: cache}, nil
}

// shutdown persists the identity cache. Uses a fresh context so persistence
// still runs after the run context was cancelled.
func (a *app) shutdown() {
	if err := a.cache.Persist(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "persist identity cache: %v\n", err)
	}
}

// runContext returns a context cancelled on SIGINT/SIGTERM.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
