package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/api"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/bridge"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/config"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/health"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/inventory"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/log"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/maintenance"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/server"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/vault"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aqmd",
	Short:   "aqmd runs the Amortized Quantum Messaging coin lifecycle service",
	Long:    "aqmd serves the coin upload/fetch/count HTTP API, runs the maintenance sweeps for the vault, inventory and server, and exposes health and metrics endpoints.",
	Version: Version,
	RunE:    runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Top up one contact's cached coins to its priority caps",
	Long:  "sync computes the per-tier deficit between a contact's cached coins and its priority-derived budget caps, then claims exactly that many coins from the coin server and caches them locally.",
	RunE:  runSync,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("aqmd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file overriding the defaults")
	cobra.OnInitialize(initLogging)

	syncCmd.Flags().String("contact-id", "", "Local contact whose cache to top up (required)")
	syncCmd.Flags().String("target-user-id", "", "User whose published coins to claim (required)")
	syncCmd.Flags().String("requester-id", "", "Requester identity recorded on claimed coins (required)")
	_ = syncCmd.MarkFlagRequired("contact-id")
	_ = syncCmd.MarkFlagRequired("target-user-id")
	_ = syncCmd.MarkFlagRequired("requester-id")
	rootCmd.AddCommand(syncCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	return config.Load(configPath)
}

func newInventoryClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Inventory.RedisAddr,
		DB:          cfg.Inventory.RedisDB,
		Password:    cfg.Inventory.RedisPassword,
		DialTimeout: cfg.Inventory.DialTimeout,
	})
}

func newServerPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.Server.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	pgCfg.MinConns = cfg.Server.PoolMinConns
	pgCfg.MaxConns = cfg.Server.PoolMaxConns
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, &aqmerrors.ConnectionPoolError{Err: err}
	}
	return pool, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vaultClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Vault.RedisAddr,
		DB:          cfg.Vault.RedisDB,
		Password:    cfg.Vault.RedisPassword,
		DialTimeout: cfg.Vault.DialTimeout,
	})
	defer vaultClient.Close()

	inventoryClient := newInventoryClient(cfg)
	defer inventoryClient.Close()

	pool, err := newServerPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	vlt := vault.New(vaultClient, vault.Config{
		KeyTTL:    cfg.Vault.KeyTTL,
		BurnGrace: cfg.Vault.BurnGrace,
	})
	inv := inventory.New(inventoryClient, inventory.Config{
		OptimisticLockRetries: cfg.Inventory.OptimisticLockRetry,
		MaxStorageBytes:       cfg.Inventory.MaxStorageBytes,
	})
	srv := server.New(pool)

	runner := maintenance.New(inv, vlt, srv, maintenance.Config{
		InventoryGCInterval:   cfg.Maintenance.InventoryGCInterval,
		InventoryGCInactive:   cfg.Inventory.GCInactiveAfter,
		VaultPurgeInterval:    cfg.Maintenance.VaultPurgeInterval,
		VaultPurgeMaxAge:      cfg.Vault.PurgeMaxAge,
		ServerPurgeInterval:   cfg.Maintenance.ServerPurgeInterval,
		ServerPurgeMaxAge:     cfg.Server.PurgeStaleAfter,
		ServerHardDeleteGrace: cfg.Server.HardDeleteGrace,
	})
	runner.Start(ctx)
	defer runner.Stop()

	checkers := []health.Checker{
		health.NewRedisChecker("vault", vaultClient),
		health.NewRedisChecker("inventory", inventoryClient),
		health.NewPostgresChecker(pool),
	}
	apiServer := api.NewServer(srv, checkers)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	contactID, _ := cmd.Flags().GetString("contact-id")
	targetUserID, _ := cmd.Flags().GetString("target-user-id")
	requesterID, _ := cmd.Flags().GetString("requester-id")

	ctx := context.Background()

	inventoryClient := newInventoryClient(cfg)
	defer inventoryClient.Close()

	pool, err := newServerPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	inv := inventory.New(inventoryClient, inventory.Config{
		OptimisticLockRetries: cfg.Inventory.OptimisticLockRetry,
		MaxStorageBytes:       cfg.Inventory.MaxStorageBytes,
	})
	srv := server.New(pool)
	b := bridge.New(srv, inv)

	fetched, err := b.SyncInventory(ctx, contactID, targetUserID, requesterID)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Synced %s:\n", contactID)
	for _, tier := range catalog.Tiers {
		fmt.Printf("  %-6s %d fetched\n", tier, fetched[tier])
	}
	return nil
}
