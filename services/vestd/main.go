package vestd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vestvault/config"
	"vestvault/crypto"
	nativecommon "vestvault/native/common"
	"vestvault/native/facility"
	"vestvault/native/sale"
	"vestvault/native/token"
	"vestvault/native/vault"
	"vestvault/observability/logging"
	telemetry "vestvault/observability/otel"
	"vestvault/services/vestd/recon"
	"vestvault/services/vestd/registry"
	"vestvault/storage"
)

// Main initialises and runs the custody daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vestd/config.yaml", "path to vestd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var fileCfg *logging.FileConfig
	if cfg.Log.FilePath != "" {
		fileCfg = &logging.FileConfig{
			Path:       cfg.Log.FilePath,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger := logging.Setup("vestd", cfg.Environment, fileCfg)

	if cfg.Telemetry.Endpoint != "" {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "vestd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	deployment, err := config.Load(cfg.DeploymentPath)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	engineCfg, err := deployment.EngineConfig()
	if err != nil {
		return fmt.Errorf("deployment: %w", err)
	}

	db, err := openDatabase(deployment.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	kv := storage.NewAtomic(db)

	ledger := token.NewLedger(kv)
	if err := registerTokens(ledger, deployment, engineCfg); err != nil {
		return fmt.Errorf("register tokens: %w", err)
	}

	vaultAddr, err := decodeAddr(deployment.VaultAddress)
	if err != nil {
		return fmt.Errorf("vault address: %w", err)
	}
	facilityAddr, err := decodeAddr(deployment.FacilityAddr)
	if err != nil {
		return fmt.Errorf("facility address: %w", err)
	}
	vlt := vault.New(ledger, vault.Config{
		AssetSymbol: engineCfg.RewardSymbol,
		ShareSymbol: deployment.ShareSymbol,
		Address:     vaultAddr,
	})
	if err := vlt.Init(); err != nil {
		return fmt.Errorf("init vault: %w", err)
	}
	fac := facility.New(ledger, kv, facility.Config{
		PaymentSymbol: engineCfg.PaymentSymbol,
		Address:       facilityAddr,
		Borrower:      engineCfg.Borrower,
	})
	pauses := nativecommon.NewPauses(kv)

	hub := NewEventHub()
	engine, err := sale.NewEngine(engineCfg)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	engine.SetState(sale.NewState(kv))
	engine.SetLedger(ledger)
	engine.SetVault(vlt)
	engine.SetFacility(fac)
	engine.SetPauses(pauses)
	engine.SetAtomic(kv)
	engine.SetEmitter(hub)
	if err := engine.Initialize(); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	journal, err := OpenJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	reg, err := registry.Open(cfg.Registry.Driver, cfg.Registry.DSN)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	reporter := recon.NewReporter(cfg.Recon.OutputDir)

	auth := NewAuthenticator(cfg.Auth)
	server := NewServer(engine, ledger, pauses, journal, hub, auth, cfg.RateLimit, logger)
	server.AttachRegistry(reg)
	server.AttachReporter(reporter)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vestd listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "leveldb":
		return storage.NewLevelDB(cfg.Path)
	case "bolt":
		return storage.NewBoltDB(cfg.Path)
	case "memory":
		return storage.NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// registerTokens creates the three ledger tokens on first start and is a
// no-op on restart.
func registerTokens(ledger *token.Ledger, deployment *config.Config, engineCfg sale.Config) error {
	tokens := []token.Metadata{
		{Symbol: engineCfg.PaymentSymbol, Name: engineCfg.PaymentSymbol, Decimals: 18},
		{Symbol: engineCfg.RewardSymbol, Name: engineCfg.RewardSymbol, Decimals: 18},
		{
			Symbol:             engineCfg.ReceiptSymbol,
			Name:               engineCfg.ReceiptSymbol,
			Decimals:           18,
			TransferRestricted: engineCfg.Policy == sale.PolicyAllocationDraw,
			Authority:          engineCfg.ModuleAddress,
		},
	}
	for _, meta := range tokens {
		exists, err := ledger.Registered(meta.Symbol)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := ledger.Register(meta); err != nil {
			return err
		}
	}
	return nil
}

func decodeAddr(bech string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(bech)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}
