package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/rarity"
	"goflare.io/rarity/internal/config"
	"goflare.io/rarity/internal/server"
)

type serveFlags struct {
	configPath     string
	marketplaceURL string
	addr           string
	ttl            time.Duration
	refreshTimeout time.Duration
	redisAddr      string
	ipfsGateway    string
	staleOnError   bool
	warmKey        string
	warmTokens     []string
	dev            bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
// Errors before the zap logger exists are written to stderr.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	root := rootCmd(ctx)
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "rarityd: %v\n", err)
		return 1
	}
	return 0
}

func rootCmd(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "rarityd",
		Short:         "NFT collection rarity service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(ctx))
	return root
}

func serveCmd(ctx context.Context) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /collection-rarity and /nft-images over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&f.marketplaceURL, "marketplace-url", "", "marketplace NFT listing endpoint")
	flags.StringVar(&f.addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&f.ttl, "ttl", 0, "snapshot freshness window for both caches")
	flags.DurationVar(&f.refreshTimeout, "refresh-timeout", 0, "upper bound for one shared snapshot refresh")
	flags.StringVar(&f.redisAddr, "redis-addr", "", "enable the shared Redis tier at this address")
	flags.StringVar(&f.ipfsGateway, "ipfs-gateway", "", "rewrite ipfs:// images through this gateway")
	flags.BoolVar(&f.staleOnError, "serve-stale-on-error", false, "serve the last snapshot when a refresh fails")
	flags.StringVar(&f.warmKey, "warm-apikey", os.Getenv("RARITY_WARM_APIKEY"), "api key used to warm up collections")
	flags.StringSliceVar(&f.warmTokens, "warm", nil, "collection tokens to load before serving")
	flags.BoolVar(&f.dev, "dev", false, "human readable debug logging")
	return cmd
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig reads the config file, then lets explicitly set flags override it.
func loadConfig(cmd *cobra.Command, f serveFlags, logger *zap.Logger) (*config.Config, error) {
	opts := []config.Option{config.WithLogger(logger)}
	changed := cmd.Flags().Changed

	if changed("marketplace-url") {
		opts = append(opts, config.WithMarketplaceURL(f.marketplaceURL))
	}
	if changed("ttl") {
		opts = append(opts, config.WithTTL(f.ttl))
	}
	if changed("refresh-timeout") {
		opts = append(opts, config.WithRefreshTimeout(f.refreshTimeout))
	}
	if changed("redis-addr") {
		opts = append(opts, config.WithRedis(f.redisAddr, "", 0))
	}
	if changed("ipfs-gateway") {
		opts = append(opts, config.WithIPFSGateway(f.ipfsGateway))
	}
	if changed("serve-stale-on-error") {
		opts = append(opts, config.WithServeStaleOnError(f.staleOnError))
	}

	cfg, err := config.Load(f.configPath, opts...)
	if err != nil {
		return nil, err
	}
	if changed("addr") {
		cfg.ServerConfig.Addr = f.addr
	}
	if len(f.warmTokens) > 0 {
		cfg.CacheBehaviorConfig.WarmupTokens = f.warmTokens
	}
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cobra.Command, f serveFlags) error {
	logger, err := newLogger(f.dev)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(cmd, f, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := rarity.New(ctx, rarity.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("Failed to close engine", zap.Error(err))
		}
	}()

	if tokens := cfg.CacheBehaviorConfig.WarmupTokens; len(tokens) > 0 {
		if f.warmKey == "" {
			logger.Warn("Skipping warmup, no api key given")
		} else if err := engine.Warmup(ctx, f.warmKey, tokens); err != nil {
			logger.Warn("Warmup incomplete", zap.Error(err))
		}
	}

	srv := server.New(engine, server.Options{
		Config:       cfg.ServerConfig,
		DefaultLimit: cfg.DefaultLimit,
		Stats:        func() any { return engine.Stats() },
		Metrics:      engine.Metrics(),
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}
