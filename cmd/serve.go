package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/movegrid/movegrid/core/chain"
	"github.com/movegrid/movegrid/core/config"
	"github.com/movegrid/movegrid/core/conversation"
	"github.com/movegrid/movegrid/core/identity"
	"github.com/movegrid/movegrid/core/janitor"
	"github.com/movegrid/movegrid/core/providers"
	"github.com/movegrid/movegrid/core/ratelimit"
	"github.com/movegrid/movegrid/core/registry"
	"github.com/movegrid/movegrid/core/router"
	"github.com/movegrid/movegrid/core/runtime"
	"github.com/movegrid/movegrid/core/server"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the movegrid HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to config YAML")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	manager := config.NewManager(serveConfigPath, logger)
	if err := manager.Load(); err != nil {
		return err
	}
	if err := manager.Watch(); err != nil {
		return err
	}
	defer manager.Close()
	cfg := manager.Get()

	store, err := openConversationStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := registry.New(identity.UUIDGenerator{}, store, logger)

	chainRuntime, err := chain.NewAptosRuntime(cfg.Chain.Network, cfg.Chain.NodeURL)
	if err != nil {
		return err
	}

	builder, err := providers.NewRuntimeBuilder(providers.Config{
		Type:          providers.ProviderType(cfg.Provider.Type),
		APIKey:        cfg.APIKey(),
		BaseURL:       cfg.Provider.BaseURL,
		Model:         cfg.Provider.Model,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
		Timeout:       cfg.Provider.Timeout,
		SystemPrompt:  cfg.Provider.SystemPrompt,
		MaxToolRounds: cfg.Provider.MaxToolRounds,
	})
	if err != nil {
		return err
	}

	balances, err := chain.NewBalanceCache(chain.BalanceCacheConfig{})
	if err != nil {
		return err
	}
	defer balances.Close()

	binder := runtime.New(chainRuntime, builder, balances)
	rt := router.New(reg, binder, store, router.Config{
		HistoryWindow: cfg.Conversation.HistoryWindow,
		Logger:        logger,
	})

	jan := janitor.New(reg, janitor.Config{
		MaxAge:   cfg.Janitor.MaxAge,
		Interval: cfg.Janitor.Interval,
		Logger:   logger,
	})

	// Hot-reload the tunables a running server can absorb: the history
	// window applies on the next turn, the janitor threshold on the next
	// interval sweep. Address, provider, and chain changes need a restart.
	manager.OnChange(func(next *config.Config) {
		rt.SetHistoryWindow(next.Conversation.HistoryWindow)
		jan.SetMaxAge(next.Janitor.MaxAge)
	})

	limiter, err := ratelimit.New(ratelimit.Config{
		RequestsPerSecond:          cfg.RateLimit.RequestsPerSecond,
		Burst:                      cfg.RateLimit.Burst,
		SensitiveRequestsPerSecond: cfg.RateLimit.SensitiveRequestsPerSecond,
		SensitiveBurst:             cfg.RateLimit.SensitiveBurst,
		MaxKeys:                    cfg.RateLimit.MaxKeys,
	})
	if err != nil {
		return err
	}

	srv := server.New(reg, rt, binder, jan, limiter, server.Config{
		Addr:              cfg.Server.Addr,
		CORSOrigin:        cfg.Server.CORSOrigin,
		DevFallbackSecret: cfg.FallbackSecret(),
		Logger:            logger,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go jan.Run(ctx)

	logger.Info("starting movegrid",
		"addr", cfg.Server.Addr,
		"provider", cfg.Provider.Type,
		"network", cfg.Chain.Network,
		"dev_mode", cfg.Dev.Enabled)
	return srv.Run(ctx)
}

func openConversationStore(cfg *config.Config, logger *slog.Logger) (conversation.Store, error) {
	if cfg.Conversation.StorePath == "" {
		logger.Warn("no store_path configured, conversations are in-memory only")
		return conversation.NewMemoryStore(), nil
	}
	return conversation.OpenSQLite(cfg.Conversation.StorePath)
}
