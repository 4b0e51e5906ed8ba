package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payhub/config"
	"payhub/hub"
	"payhub/ledger"
	"payhub/native/token"
	"payhub/observability/logging"
	"payhub/ratefeed"
	"payhub/rpc"
	"payhub/storage"
)

func main() {
	configFile := flag.String("config", "./payhub.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PAYHUB_ENV"))
	logger := logging.Setup("payhubd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer func() { _ = db.Close() }()

	opts := hub.Options{
		Archive:        hub.NewStorageSink(db),
		ServiceAccount: cfg.ServiceAccount,
		Logger:         logger,
	}
	if strings.TrimSpace(cfg.LedgerGatewayURL) != "" {
		gateway := ledger.NewGatewayClient(nil, cfg.LedgerGatewayURL)
		opts.Ledger = gateway
		opts.Transfers = gateway
	}
	if strings.TrimSpace(cfg.RateFeedURL) != "" {
		feed, err := ratefeed.NewHTTPFetcher(nil, cfg.RateFeedURL, cfg.RateFeedAPIKey)
		if err != nil {
			panic(fmt.Sprintf("Failed to build rate feed: %v", err))
		}
		opts.Feed = feed
	}

	service, err := hub.Load(db, opts)
	switch {
	case errors.Is(err, hub.ErrNoState):
		service, err = hub.New(opts)
		if err != nil {
			panic(fmt.Sprintf("Failed to create hub: %v", err))
		}
		if err := seedHub(service); err != nil {
			panic(fmt.Sprintf("Failed to seed hub: %v", err))
		}
		logger.Info("initialised fresh state")
	case err != nil:
		panic(fmt.Sprintf("Failed to restore hub state: %v", err))
	default:
		logger.Info("restored persisted state")
	}

	if err := applyTokenConfig(service, cfg.Tokens); err != nil {
		panic(fmt.Sprintf("Failed to register tokens: %v", err))
	}
	if collector := strings.TrimSpace(cfg.FeeCollector); collector != "" {
		service.SetFeeCollector(&ledger.Account{Owner: collector})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := hub.NewScheduler(service, hub.SchedulerConfig{
		RateRefreshInterval: cfg.RateRefreshDuration(),
		ExpirySweepInterval: cfg.ExpirySweepDuration(),
		ArchiveInterval:     cfg.ArchiveDuration(),
		ArchiveBatchSize:    cfg.ArchiveBatchSize,
	})
	scheduler.Start(ctx)

	go func() {
		logger.Info("metrics listener starting", "addr", cfg.MetricsAddress)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics listener stopped", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("rpc listener starting", "addr", cfg.RPCAddress)
		if err := rpc.NewServer(service).Start(cfg.RPCAddress); err != nil {
			logger.Error("rpc listener stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	scheduler.Wait()
	if err := service.Save(db); err != nil {
		logger.Error("failed to persist state on shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("state persisted, goodbye")
}

// seedHub gives a fresh hub its identifier entropy.
func seedHub(service *hub.Hub) error {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return err
	}
	service.SeedIdentifiers(seed)
	return nil
}

func applyTokenConfig(service *hub.Hub, tokens []config.TokenConfig) error {
	for _, tc := range tokens {
		fee, ok := new(big.Int).SetString(strings.TrimSpace(tc.Fee), 10)
		if !ok || fee.Sign() < 0 {
			return fmt.Errorf("token %s: invalid fee %q", tc.Ticker, tc.Fee)
		}
		err := service.AddToken(token.Token{
			AssetID:  tc.AssetID,
			Ticker:   tc.Ticker,
			Decimals: tc.Decimals,
			Fee:      fee,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
