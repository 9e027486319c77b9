package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/janvault/janvault/internal/alert"
	"github.com/janvault/janvault/internal/backfill"
	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/config"
	"github.com/janvault/janvault/internal/gates"
	"github.com/janvault/janvault/internal/hash"
	"github.com/janvault/janvault/internal/ledger"
	"github.com/janvault/janvault/internal/processor"
	"github.com/janvault/janvault/internal/scheme"
	"github.com/janvault/janvault/internal/server"
	"github.com/janvault/janvault/internal/status"
	"github.com/janvault/janvault/internal/storage"
	"github.com/janvault/janvault/internal/storage/postgres"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "janvault",
	Short: "Janvault - Tamper-Evident Welfare Disbursement Ledger",
	Long:  `A hash-chained disbursement ledger with gated approval for welfare scheme payments`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "janvault.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(importCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("janvault v0.1.0")
		fmt.Println("Tamper-Evident Welfare Disbursement Ledger")
	},
}

// app bundles the wired core for one command invocation.
type app struct {
	cfg       *config.Config
	catalog   *scheme.Catalog
	status    *status.Holder
	ledger    *ledger.Ledger
	registry  *citizen.Registry
	processor *processor.Processor
	close     func()

	ledgerStore  ledger.Store
	citizenStore citizen.Store
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	var (
		ledgerStore  ledger.Store
		citizenStore citizen.Store
		closeStore   func()
	)

	switch cfg.Storage.Backend {
	case "postgres":
		store, err := postgres.New(context.Background(), cfg.Database.ConnectionString())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		ledgerStore, citizenStore, closeStore = store, store, store.Close
	default:
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.New(filepath.Join(cfg.Storage.DataDir, "janvault.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		ledgerStore, citizenStore, closeStore = store, store, func() { store.Close() }
	}

	catalog := scheme.NewCatalog(cfg.SchemeAmounts())
	st := status.NewHolder()
	led := ledger.New(ledgerStore)
	registry := citizen.NewRegistry(citizenStore, catalog)

	budget := decimal.NewFromFloat(cfg.Budget.Initial)
	pipeline := gates.NewPipeline(catalog, func(ctx context.Context) (decimal.Decimal, error) {
		return led.RemainingBudget(ctx, budget)
	}, st, gates.Policy{
		ClaimCeiling: cfg.Policy.ClaimCeiling,
		CooldownDays: cfg.Policy.CooldownDays,
	})

	proc := processor.New(led, registry, pipeline, st, budget, logger)
	if cfg.Alerts.Enabled {
		proc.SetAlertManager(alert.NewManager(true, cfg.Alerts.SlackWebhook))
	}

	return &app{
		cfg:          cfg,
		catalog:      catalog,
		status:       st,
		ledger:       led,
		registry:     registry,
		processor:    proc,
		close:        closeStore,
		ledgerStore:  ledgerStore,
		citizenStore: citizenStore,
	}, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zcfg.OutputPaths = []string{"stdout"}
	return zcfg.Build()
}

// runBackfills imports the configured external ledger log and registry CSV.
// Both imports are idempotent, so running them on every boot is safe.
func runBackfills(ctx context.Context, a *app, logger *zap.Logger) error {
	if path := a.cfg.Backfill.LedgerFile; path != "" {
		if _, err := os.Stat(path); err == nil {
			imported, err := backfill.Ledger(ctx, a.ledgerStore, path, logger)
			if err != nil {
				return fmt.Errorf("ledger backfill failed: %w", err)
			}
			fmt.Printf("Ledger backfill: %d entries imported from %s\n", imported, path)
		}
	}

	if path := a.cfg.Backfill.RegistryCSV; path != "" {
		if _, err := os.Stat(path); err == nil {
			imported, err := backfill.Citizens(ctx, a.registry, path, logger)
			if err != nil {
				return fmt.Errorf("registry backfill failed: %w", err)
			}
			fmt.Printf("Registry backfill: %d citizens imported from %s\n", imported, path)
		}
	}

	return nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the janvault data store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		a, err := buildApp(cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer a.close()

		seed, _ := cmd.Flags().GetBool("seed")
		if seed {
			if err := seedCitizens(cmd.Context(), a.registry); err != nil {
				return fmt.Errorf("failed to seed citizens: %w", err)
			}
			fmt.Println("Seeded sample citizen registry")
		}

		fmt.Printf("Initialized janvault store (backend: %s)\n", cfg.Storage.Backend)
		if cfg.Storage.Backend == "bolt" {
			fmt.Printf("Database path: %s\n", filepath.Join(cfg.Storage.DataDir, "janvault.db"))
		}

		return nil
	},
}

func init() {
	initCmd.Flags().Bool("seed", false, "seed the registry with sample citizens")
}

func seedCitizens(ctx context.Context, registry *citizen.Registry) error {
	today := time.Now()
	samples := []citizen.Record{
		{CitizenID: "123456789012", Name: "Rahul Sharma", AccountStatus: "Active", AadhaarLinked: true,
			SchemeEligibility: "Health_Scheme", SchemeAmount: decimal.NewFromInt(5000), ClaimCount: 2,
			LastClaimDate: today.AddDate(0, 0, -45).Format(citizen.DateFormat)},
		{CitizenID: "987654321098", Name: "Priya Patel", AccountStatus: "Active", AadhaarLinked: true,
			SchemeEligibility: "Education_Scheme", SchemeAmount: decimal.NewFromInt(10000), ClaimCount: 1,
			LastClaimDate: today.AddDate(0, 0, -60).Format(citizen.DateFormat)},
		{CitizenID: "555566667777", Name: "Amit Kumar", AccountStatus: "Inactive", AadhaarLinked: true,
			SchemeEligibility: "Health_Scheme", SchemeAmount: decimal.NewFromInt(5000), ClaimCount: 5,
			LastClaimDate: today.AddDate(0, 0, -10).Format(citizen.DateFormat)},
		{CitizenID: "111122223333", Name: "Sita Devi", AccountStatus: "Active", AadhaarLinked: false,
			SchemeEligibility: "Health_Scheme", SchemeAmount: decimal.NewFromInt(5000), ClaimCount: 0,
			LastClaimDate: today.AddDate(0, 0, -90).Format(citizen.DateFormat)},
	}

	for i := range samples {
		if err := registry.Upsert(ctx, &samples[i]); err != nil {
			return err
		}
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the disbursement API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := buildLogger(cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := runBackfills(ctx, a, logger); err != nil {
			return err
		}

		// Startup integrity check: a tampered ledger refuses to serve
		// approvals from the first request on.
		if err := a.ledger.Verify(ctx); err != nil {
			if !ledger.IsTamperError(err) {
				return err
			}
			a.status.MarkFrozen()
			logger.Error("startup integrity check failed, system frozen", zap.Error(err))
		} else {
			logger.Info("startup integrity check passed")
		}

		srv := server.New(a.processor, a.registry, a.ledger, a.catalog, logger)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: srv.Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("http server failed: %w", err)
		case <-sigCh:
		}

		fmt.Println("\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop http server: %w", err)
		}

		fmt.Println("Janvault stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		a, err := buildApp(cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer a.close()

		st, err := a.processor.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("System Status:    %s\n", st.State)
		fmt.Printf("Remaining Budget: Rs.%s\n", st.RemainingBudget.String())
		if st.LedgerIntegrity {
			fmt.Println("Ledger Integrity: ✅ OK")
		} else {
			fmt.Println("Ledger Integrity: ❌ TAMPERED")
		}

		tail, err := a.ledgerStore.LastEntry(cmd.Context())
		if err != nil {
			return err
		}
		if tail == nil {
			fmt.Println("Ledger:           empty")
		} else {
			fmt.Printf("Ledger Tail:      seq=%d hash=%s\n", tail.Sequence, hash.Truncate(tail.CurrentHash, 16))
		}

		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify ledger hash chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		a, err := buildApp(cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Println("Verifying ledger hash chain...")
		if err := a.ledger.Verify(cmd.Context()); err != nil {
			fmt.Printf("  ❌ FAILED: %v\n", err)
			return nil
		}
		fmt.Println("  ✅ OK: Hash chain is intact")

		return nil
	},
}

var processCmd = &cobra.Command{
	Use:   "process <citizen-id> <scheme>",
	Short: "Process a single disbursement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		a, err := buildApp(cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer a.close()

		citizenID, schemeID := args[0], args[1]
		amount, ok := a.catalog.AuthorizedAmount(schemeID)
		if !ok {
			return fmt.Errorf("unsupported scheme: %s (valid options: %v)", schemeID, a.catalog.IDs())
		}

		result, err := a.processor.Submit(cmd.Context(), citizenID, schemeID, amount)
		if err != nil {
			return err
		}

		if result.Approved {
			fmt.Printf("Transaction Approved [SUCCESS] | Remaining Budget: Rs.%s\n", result.RemainingBudget.String())
			fmt.Printf("Transaction Hash: %s\n", result.EntryHash)
		} else {
			fmt.Printf("Transaction Denied [%s]: %s\n", result.Gate, result.Message)
		}

		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Backfill the ledger and citizen registry from external files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if ledgerFile, _ := cmd.Flags().GetString("ledger"); ledgerFile != "" {
			cfg.Backfill.LedgerFile = ledgerFile
		}
		if registryCSV, _ := cmd.Flags().GetString("registry"); registryCSV != "" {
			cfg.Backfill.RegistryCSV = registryCSV
		}
		if cfg.Backfill.LedgerFile == "" && cfg.Backfill.RegistryCSV == "" {
			return fmt.Errorf("nothing to import: set backfill paths in config or pass --ledger/--registry")
		}

		// Skipped-row warnings are the operator's main feedback here, so the
		// importers get a real logger.
		logger, err := buildLogger(cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		return runBackfills(cmd.Context(), a, logger)
	},
}

func init() {
	importCmd.Flags().String("ledger", "", "pipe-delimited ledger log to import")
	importCmd.Flags().String("registry", "", "citizen registry CSV to import")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
