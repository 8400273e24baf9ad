package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/net/netutil"

	"mystra/config"
	"mystra/core/events"
	"mystra/core/host"
	"mystra/crypto"
	"mystra/native/market"
	"mystra/observability/logging"
	"mystra/observability/metrics"
	telemetry "mystra/observability/otel"
	"mystra/rpc"
	"mystra/services/indexer"
	"mystra/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "marketd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to marketd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("MYSTRA_ENV"))
	logger := logging.Setup(logging.Options{
		Service:    "marketd",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "marketd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	pkg, err := packageIdentity(cfg)
	if err != nil {
		return err
	}
	marketHost, err := host.New(db, host.Options{
		PackageIdentity: pkg,
		Params: market.Params{
			AntiSnipeWindow:    cfg.Market.AntiSnipeWindowMinutes * market.MillisecondsInMinute,
			AntiSnipeExtension: cfg.Market.AntiSnipeExtensionMinutes * market.MillisecondsInMinute,
		},
		Devnet: cfg.Devnet.Enabled,
	})
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	marketMetrics := metrics.Market()
	marketHost.SetLogger(logger)
	marketHost.SetMetrics(marketMetrics)

	server, err := rpc.NewServer(marketHost, rpc.ServerConfig{TrustedProxies: cfg.RateLimit.TrustedProxies})
	if err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	server.SetLogger(logger)
	server.SetMetrics(marketMetrics)
	server.SetRateLimiter(rpc.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

	secret, err := cfg.Auth.ResolveJWTSecret()
	if err != nil && !cfg.Auth.AllowDevCaller {
		logger.Warn("no JWT secret configured; authenticated methods will reject every caller")
	}
	logger.Info("rpc auth configured",
		slog.String("issuer", cfg.Auth.Issuer),
		slog.String("jwtSecret", logging.MaskValue(secret)),
		slog.Bool("devCaller", cfg.Auth.AllowDevCaller))
	server.SetAuthenticator(rpc.NewAuthenticator(rpc.AuthConfig{
		HMACSecret:     secret,
		Issuer:         cfg.Auth.Issuer,
		AllowDevCaller: cfg.Auth.AllowDevCaller,
	}))

	fanout := events.NewMulti(server.Hub())
	if cfg.Indexer.Driver != "" {
		gormDB, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		idx, err := indexer.New(gormDB, logger)
		if err != nil {
			return err
		}
		defer idx.Close()
		fanout.Add(idx)
		server.SetEventQuerier(idx)
	}
	marketHost.SetEmitter(fanout)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("marketd listening",
			slog.String("address", listener.Addr().String()),
			slog.String("network", cfg.NetworkName),
			slog.String("storage", cfg.Storage.Backend),
			slog.Int("maxConnections", cfg.MaxConnections),
			slog.Bool("devnet", cfg.Devnet.Enabled))
		errs <- httpServer.Serve(listener)
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		logger.Info("marketd shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		return storage.NewLevelDB(cfg.Path)
	case config.BackendBolt:
		return storage.NewBoltDB(cfg.Path)
	default:
		return storage.NewMemDB(), nil
	}
}

// packageIdentity returns the configured marketplace identity, or one derived
// from the network name.
func packageIdentity(cfg *config.Config) (crypto.Identity, error) {
	if raw := strings.TrimSpace(cfg.Market.PackageIdentity); raw != "" {
		return crypto.ParseIdentity(raw)
	}
	digest := ethcrypto.Keccak256([]byte("mystra/package:" + cfg.NetworkName))
	return crypto.IdentityFromBytes(digest[:crypto.IdentityLength])
}
