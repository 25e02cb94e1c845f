// Command dealer runs the autonomous trading engine: a task scheduler for
// user-defined triggers and a dealer loop that trades on oracle decisions.
//
// Usage:
//
//	dealer --setup             (interactive configuration wizard)
//	dealer --config config.yaml
//	dealer                      (uses CLI arguments)
//
// The signing key password is read from DEALER_KEY_PASSWORD, falling back
// to an interactive prompt.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adshao/go-binance/v2"
	"github.com/charmbracelet/huh"
	bybit "github.com/hirokisan/bybit/v2"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/config"
	"github.com/quantfold/dealer/internal/clients"
	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/internal/market"
	"github.com/quantfold/dealer/internal/services/dealer"
	"github.com/quantfold/dealer/internal/services/evaluator"
	"github.com/quantfold/dealer/internal/services/reconciler"
	"github.com/quantfold/dealer/internal/services/scheduler"
	"github.com/quantfold/dealer/internal/setup"
	"github.com/quantfold/dealer/internal/storage/cyclehistory"
	"github.com/quantfold/dealer/internal/storage/tasks"
	"github.com/quantfold/dealer/internal/wallet"
	"github.com/quantfold/dealer/internal/web"
)

const dealerType = "perps"

func main() {
	setupFlag := flag.Bool("setup", false, "run the interactive configuration wizard")

	cfg, err := loadConfig(setupFlag)
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dealer exited with error", zap.Error(err))
	}
}

func loadConfig(setupFlag *bool) (*config.Config, error) {
	// config.Get parses the shared flag set, picking up -setup too.
	cfg, err := config.Get()
	if err != nil {
		return nil, err
	}
	if !*setupFlag {
		return cfg, nil
	}

	if err := setup.RunTUI(); err != nil {
		return nil, err
	}
	return config.FromFile("config.gen.yaml")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	source, err := candleSource(cfg)
	if err != nil {
		return err
	}
	provider, err := market.NewProvider(source, logger)
	if err != nil {
		return err
	}

	key, err := signingKey(cfg)
	if err != nil {
		return err
	}

	venue, err := clients.NewHyperliquidClient(key, cfg.HyperliquidURL)
	if err != nil {
		return err
	}
	venueRecon := reconciler.New(venue, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		vault      scheduler.VaultVenue
		vaultRecon *reconciler.Reconciler
	)
	if cfg.VaultRPCURL != "" {
		vaultClient, err := clients.NewVaultClient(ctx, cfg.VaultRPCURL, cfg.VaultAddress, key)
		if err != nil {
			return err
		}
		defer vaultClient.Close()
		vault = vaultClient
		vaultRecon = reconciler.New(vaultClient, logger)
	}

	journal, err := tasks.NewWALStore(filepath.Join(cfg.WALDir, "tasks"))
	if err != nil {
		return err
	}
	store, err := scheduler.NewTaskStore(journal, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := cyclehistory.NewWALStore(filepath.Join(cfg.WALDir, "cycles"))
	if err != nil {
		return err
	}
	defer history.Close()

	oracle, err := decisionOracle(cfg)
	if err != nil {
		return err
	}

	eval := evaluator.New(provider, logger)
	sched := scheduler.New(store, eval, vault, venue, vaultRecon, venueRecon, logger,
		scheduler.WithTickInterval(cfg.TickInterval),
		scheduler.WithCooldownWindow(cfg.CooldownWindow))

	dlr := dealer.New(dealer.Config{
		DealerType:     dealerType,
		Assets:         cfg.Assets,
		Timeframe:      cfg.Timeframe,
		MacroTimeframe: cfg.MacroTimeframe,
		StrategyText:   cfg.StrategyText,
		Risk: domain.RiskSettings{
			MaxPositionSizeUSDC: cfg.MaxPositionSizeUSDC,
			MaxOpenPositions:    cfg.MaxOpenPositions,
			MaxTradesPerCycle:   cfg.MaxTradesPerCycle,
			DefaultLeverage:     cfg.DefaultLeverage,
			Aggressive:          cfg.Aggressive,
		},
		Interval:              cfg.DealerInterval,
		PortfolioSyncInterval: cfg.PortfolioSyncInterval,
	}, provider, oracle, venue, venueRecon, history, logger)

	sched.Start(ctx)
	dlr.Start(ctx)

	if cfg.WebAddr != "" {
		srv := web.NewServer(cfg.WebAddr, dealerType, dlr, store, history, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("telemetry server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("dealer engine running",
		zap.String("platform", cfg.Platform),
		zap.Strings("assets", cfg.Assets),
		zap.String("account", venue.AccountAddress()))

	<-ctx.Done()

	dlr.Stop()
	sched.Stop()
	return nil
}

func candleSource(cfg *config.Config) (market.CandleSource, error) {
	switch cfg.Platform {
	case "binance":
		client := binance.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
		return market.NewBinanceCandleSource(client), nil
	case "bybit":
		client := bybit.NewClient().WithAuth(os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET"))
		return market.NewBybitCandleSource(client), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", cfg.Platform)
	}
}

func decisionOracle(cfg *config.Config) (dealer.Oracle, error) {
	apiKey := cfg.OracleAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ORACLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("oracle API key is not set (config or ORACLE_API_KEY)")
	}

	switch cfg.OracleBackend {
	case "anthropic":
		return clients.NewAnthropicOracleClient(apiKey, cfg.OracleModel), nil
	case "openai":
		return clients.NewOpenAIOracleClient(cfg.OracleAPIURL, apiKey, cfg.OracleModel), nil
	default:
		return nil, fmt.Errorf("unsupported oracle backend: %s", cfg.OracleBackend)
	}
}

func signingKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("key_file is not configured, run with --setup first")
	}
	secret, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	password := os.Getenv("DEALER_KEY_PASSWORD")
	if password == "" {
		if err := promptPassword(&password); err != nil {
			return nil, err
		}
	}

	key, err := wallet.Decrypt(secret, password)
	if errors.Is(err, domain.ErrWrongPassword) {
		return nil, fmt.Errorf("wrong key password")
	}
	return key, err
}

func promptPassword(password *string) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Signing Key Password").
				Value(password).
				EchoMode(huh.EchoModePassword),
		),
	).Run()
}
