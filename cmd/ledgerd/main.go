package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/paywall/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/paywall/internal/ledgerrpc"
	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/MarkoPoloResearchLab/paywall/internal/pricefeed"
	"github.com/MarkoPoloResearchLab/paywall/internal/receiptverifier"
	"github.com/MarkoPoloResearchLab/paywall/internal/scheduler"
	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	flagDatabaseURL        = "database-url"
	flagStoreDriver        = "store-driver"
	flagListenAddr         = "listen-addr"
	flagMetricsAddr        = "metrics-addr"
	flagPriceAPIURL        = "price-api-url"
	flagReceiptVerifierURL = "receipt-verifier-url"
	flagReceiptRate        = "receipt-rate"
	flagRateRefreshCron    = "rate-refresh-cron"
	flagRatePairs          = "rate-pairs"

	configKeyDatabaseURL        = "database_url"
	configKeyStoreDriver        = "store_driver"
	configKeyListenAddr         = "listen_addr"
	configKeyMetricsAddr        = "metrics_addr"
	configKeyPriceAPIURL        = "price_api_url"
	configKeyReceiptVerifierURL = "receipt_verifier_url"
	configKeyReceiptRate        = "receipt_rate"
	configKeyRateRefreshCron    = "rate_refresh_cron"
	configKeyRatePairs          = "rate_pairs"

	defaultDatabaseURL     = "sqlite:///tmp/paywall.db"
	defaultStoreDriver     = storeDriverGorm
	defaultGRPCListenAddr  = ":7000"
	defaultMetricsAddr     = ":9100"
	defaultReceiptRate     = 5.0
	defaultRateRefreshCron = "0 */5 * * * *"
	defaultRatePairs       = "XRP:USD"
	receiptBurst           = 5
)

type runtimeConfig struct {
	DatabaseURL        string
	StoreDriver        string
	ListenAddr         string
	MetricsAddr        string
	PriceAPIURL        string
	ReceiptVerifierURL string
	ReceiptRate        float64
	RateRefreshCron    string
	RatePairs          []scheduler.RatePair
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Video monetization ledger gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, viper.New(), cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "sqlite:// path or postgres:// connection string")
	cmd.Flags().String(flagStoreDriver, defaultStoreDriver, "store implementation: gorm or pgx (pgx needs postgres)")
	cmd.Flags().String(flagListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagMetricsAddr, defaultMetricsAddr, "Prometheus metrics listen address (empty disables)")
	cmd.Flags().String(flagPriceAPIURL, pricefeed.DefaultBaseURL, "CoinGecko API base URL")
	cmd.Flags().String(flagReceiptVerifierURL, receiptverifier.DefaultURL, "receipt verifier endpoint (empty disables verification)")
	cmd.Flags().Float64(flagReceiptRate, defaultReceiptRate, "receipt verification requests per second")
	cmd.Flags().String(flagRateRefreshCron, defaultRateRefreshCron, "cron spec with seconds for exchange rate warming (empty disables)")
	cmd.Flags().String(flagRatePairs, defaultRatePairs, "comma-separated BASE:QUOTE pairs to keep warm")

	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, cfg *runtimeConfig) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:        "DATABASE_URL",
		configKeyStoreDriver:        "STORE_DRIVER",
		configKeyListenAddr:         "GRPC_LISTEN_ADDR",
		configKeyMetricsAddr:        "METRICS_ADDR",
		configKeyPriceAPIURL:        "PRICE_API_URL",
		configKeyReceiptVerifierURL: "RECEIPT_VERIFIER_URL",
		configKeyReceiptRate:        "RECEIPT_RATE",
		configKeyRateRefreshCron:    "RATE_REFRESH_CRON",
		configKeyRatePairs:          "RATE_PAIRS",
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	flagBindings := map[string]string{
		configKeyDatabaseURL:        flagDatabaseURL,
		configKeyStoreDriver:        flagStoreDriver,
		configKeyListenAddr:         flagListenAddr,
		configKeyMetricsAddr:        flagMetricsAddr,
		configKeyPriceAPIURL:        flagPriceAPIURL,
		configKeyReceiptVerifierURL: flagReceiptVerifierURL,
		configKeyReceiptRate:        flagReceiptRate,
		configKeyRateRefreshCron:    flagRateRefreshCron,
		configKeyRatePairs:          flagRatePairs,
	}
	for key, flagName := range flagBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(configKeyDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(configKeyStoreDriver)))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaultStoreDriver
	}
	cfg.ListenAddr = strings.TrimSpace(v.GetString(configKeyListenAddr))
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultGRPCListenAddr
	}
	cfg.MetricsAddr = strings.TrimSpace(v.GetString(configKeyMetricsAddr))
	cfg.PriceAPIURL = strings.TrimSpace(v.GetString(configKeyPriceAPIURL))
	if cfg.PriceAPIURL == "" {
		cfg.PriceAPIURL = pricefeed.DefaultBaseURL
	}
	cfg.ReceiptVerifierURL = strings.TrimSpace(v.GetString(configKeyReceiptVerifierURL))
	cfg.ReceiptRate = v.GetFloat64(configKeyReceiptRate)
	cfg.RateRefreshCron = strings.TrimSpace(v.GetString(configKeyRateRefreshCron))

	if cfg.StoreDriver != storeDriverGorm && cfg.StoreDriver != storeDriverPgx {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.ReceiptRate <= 0 {
		return fmt.Errorf("receipt rate must be positive")
	}
	pairs, err := scheduler.ParseRatePairs(v.GetString(configKeyRatePairs))
	if err != nil {
		return err
	}
	cfg.RatePairs = pairs
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	priceClient, err := pricefeed.NewClient(cfg.PriceAPIURL, pricefeed.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("price feed init: %w", err)
	}
	exchange, err := ledger.NewExchange(priceClient, ledger.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("exchange init: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	serviceOptions := []monetization.ServiceOption{
		monetization.WithLogger(logger),
		monetization.WithOperationLogger(monetization.NewZapOperationLogger(logger)),
		monetization.WithMetrics(monetization.NewMetrics(registry)),
	}
	if cfg.ReceiptVerifierURL != "" {
		verifier, err := receiptverifier.NewClient(cfg.ReceiptVerifierURL,
			receiptverifier.WithLogger(logger),
			receiptverifier.WithRateLimit(cfg.ReceiptRate, receiptBurst),
		)
		if err != nil {
			return fmt.Errorf("receipt verifier init: %w", err)
		}
		serviceOptions = append(serviceOptions, monetization.WithVerifier(verifier))
	}
	monetizationService, err := monetization.NewService(store, store, exchange, serviceOptions...)
	if err != nil {
		return fmt.Errorf("monetization service init: %w", err)
	}

	if cfg.RateRefreshCron != "" && len(cfg.RatePairs) > 0 {
		rateScheduler, err := scheduler.New(ctx, exchange, cfg.RatePairs, scheduler.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("scheduler init: %w", err)
		}
		if err := rateScheduler.Register(cfg.RateRefreshCron); err != nil {
			return err
		}
		rateScheduler.Start()
		defer rateScheduler.Stop()
		go rateScheduler.WarmNow()
	}

	if cfg.MetricsAddr != "" {
		metricsServer := startMetricsServer(cfg.MetricsAddr, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	ledgerrpc.RegisterLedgerServer(grpcServer, grpcserver.NewLedgerServer(monetizationService))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.ListenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && serveErr != grpc.ErrServerStopped {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if serveErr == grpc.ErrServerStopped {
			return nil
		}
		return serveErr
	}
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server starting", zap.String("metrics_addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return server
}
