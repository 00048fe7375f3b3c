package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"auctionhouse/cmd/internal/passphrase"
	"auctionhouse/config"
	"auctionhouse/core/events"
	"auctionhouse/core/house"
	"auctionhouse/core/outbox"
	"auctionhouse/crypto"
	"auctionhouse/observability"
	"auctionhouse/observability/logging"
	telemetry "auctionhouse/observability/otel"
	"auctionhouse/rpc"
	"auctionhouse/rpc/middleware"
	"auctionhouse/storage"
)

const serviceName = "auctiond"

func main() {
	configFile := flag.String("config", "./auctiond.toml", "Path to the configuration file")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *allowMigrateFlag); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("auctiond stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string, allowMigrate bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := logging.Setup(serviceName, cfg.Environment, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   true,
	})

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	h, err := house.Open(db, allowMigrate || cfg.AllowMigrate)
	if err != nil {
		return err
	}
	stream := events.NewBroadcaster()
	h.SetLogger(logger)
	h.SetEmitter(stream)
	h.SetMetrics(observability.Auction())

	if err := ensureDeployed(ctx, h, cfg, logger); err != nil {
		return err
	}
	if height, err := h.Height(); err == nil {
		observability.Auction().SetHeight(height)
	}

	journal, err := outbox.OpenJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()
	executor := house.NewExecutor(h, journal)
	logger.Info("outbox executor ready", slog.String("run_id", executor.RunID()))

	server := rpc.NewServer(h, stream, serverConfig(cfg), logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return h.RunBlockProducer(groupCtx, cfg.BlockInterval()) })
	group.Go(func() error { return executor.Run(groupCtx, cfg.ExecutorInterval()) })
	group.Go(func() error { return server.Start(groupCtx, cfg.ListenAddress) })

	err = group.Wait()
	logger.Info("auctiond shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ensureDeployed runs the one-time construction on a fresh store.
func ensureDeployed(ctx context.Context, h *house.House, cfg *config.Config, logger *slog.Logger) error {
	if _, err := h.Settings(); err == nil {
		return nil
	} else if !errors.Is(err, house.ErrNotInitialized) {
		return err
	}

	custodianKey, err := loadCustodianKey(cfg, logger)
	if err != nil {
		return err
	}
	genesis, err := config.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		return err
	}
	allocations, err := genesis.Resolve()
	if err != nil {
		return err
	}
	houseCfg, err := buildHouseConfig(cfg, custodianKey, allocations)
	if err != nil {
		return err
	}
	return h.Deploy(ctx, houseCfg)
}

func loadCustodianKey(cfg *config.Config, logger *slog.Logger) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(cfg.CustodianKeystore) == "" {
		return nil, nil
	}
	source := passphrase.NewSource(cfg.CustodianPassphraseEnv, "custodian keystore")
	pass, err := source.Get()
	if err != nil {
		return nil, err
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.CustodianKeystore, pass)
	if err != nil {
		return nil, fmt.Errorf("custodian keystore: %w", err)
	}
	if created {
		logger.Info("generated custodian keystore",
			slog.String("path", cfg.CustodianKeystore),
			slog.String("custodian", key.PubKey().Address().String()))
	}
	return key, nil
}

// buildHouseConfig resolves the deployment input. Without an explicit
// Custodian the keystore's own account holds escrowed capabilities.
func buildHouseConfig(cfg *config.Config, custodianKey *crypto.PrivateKey, allocations []config.ResolvedAccount) (house.Config, error) {
	var out house.Config
	admin, err := crypto.ParseIdentity(cfg.Admin)
	if err != nil {
		return out, fmt.Errorf("admin: %w", err)
	}
	houseAccount, err := crypto.ParseIdentity(cfg.HouseAccount)
	if err != nil {
		return out, fmt.Errorf("house account: %w", err)
	}
	amounts, err := cfg.ParseAmounts()
	if err != nil {
		return out, err
	}
	out = house.Config{
		Admin:              admin,
		HouseAccount:       houseAccount,
		DefaultCloseOffset: cfg.DefaultCloseOffset,
		RecallAllowance:    amounts.RecallAllowance,
		ListingFee:         amounts.ListingFee,
		CallCost:           amounts.CallCost,
	}
	if strings.TrimSpace(cfg.Custodian) != "" {
		if out.Custodian, err = crypto.ParseIdentity(cfg.Custodian); err != nil {
			return out, fmt.Errorf("custodian: %w", err)
		}
	}
	if custodianKey != nil {
		out.CustodianCredential = custodianKey.PubKey().Credential()
		if out.Custodian == ([20]byte{}) {
			out.Custodian = custodianKey.PubKey().Address().Raw()
		}
	}
	for _, alloc := range allocations {
		out.Genesis = append(out.Genesis, house.Genesis{
			Address: alloc.Address,
			Balance: alloc.Balance,
			Keys:    alloc.Keys,
		})
	}
	return out, nil
}

func serverConfig(cfg *config.Config) rpc.ServerConfig {
	out := rpc.ServerConfig{
		MaxBodyBytes: cfg.RPC.MaxBodyBytes,
		ReadTimeout:  time.Duration(cfg.RPC.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.RPC.WriteTimeoutSecs) * time.Second,
		RateLimit: middleware.RateLimit{
			RatePerSecond: cfg.RPC.RateLimitPerSec,
			Burst:         cfg.RPC.RateLimitBurst,
		},
		LogRequests: cfg.Environment == "dev",
	}
	if env := strings.TrimSpace(cfg.RPC.JWTSecretEnv); env != "" {
		out.Auth = middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: os.Getenv(env),
			Issuer:     cfg.RPC.JWTIssuer,
			Audience:   cfg.RPC.JWTAudience,
		}
	}
	return out
}
