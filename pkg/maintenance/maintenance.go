// Package maintenance drives the three periodic sweeps: inventory garbage
// collection of inactive contacts, vault purge of aged keys, and server
// retention (purge-stale plus hard-delete-fetched). Each sweep runs on its
// own ticker; the three have unrelated cadences and failure domains.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/inventory"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/log"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/metrics"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/server"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/vault"
)

// Config controls each sweep's interval and its domain parameter.
type Config struct {
	InventoryGCInterval time.Duration
	InventoryGCInactive time.Duration

	VaultPurgeInterval time.Duration
	VaultPurgeMaxAge   time.Duration

	ServerPurgeInterval   time.Duration
	ServerPurgeMaxAge     time.Duration
	ServerHardDeleteGrace time.Duration
}

// Runner drives all three maintenance sweeps on independent tickers.
type Runner struct {
	inv    *inventory.Inventory
	vlt    *vault.Vault
	srv    *server.Server
	cfg    Config
	logger zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Runner over the three components it sweeps.
func New(inv *inventory.Inventory, vlt *vault.Vault, srv *server.Server, cfg Config) *Runner {
	return &Runner{
		inv:    inv,
		vlt:    vlt,
		srv:    srv,
		cfg:    cfg,
		logger: log.WithComponent("maintenance"),
		stopCh: make(chan struct{}),
	}
}

// Start launches one goroutine per sweep. Each tick is timed and logged
// independently of the others; a failure in one sweep never blocks another.
func (r *Runner) Start(ctx context.Context) {
	r.startLoop(ctx, "inventory_gc", r.cfg.InventoryGCInterval, r.runInventoryGC)
	r.startLoop(ctx, "vault_purge", r.cfg.VaultPurgeInterval, r.runVaultPurge)
	r.startLoop(ctx, "server_retention", r.cfg.ServerPurgeInterval, r.runServerRetention)
	r.logger.Info().Msg("maintenance runner started")
}

// Stop signals every sweep loop to exit and waits for them to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info().Msg("maintenance runner stopped")
}

func (r *Runner) startLoop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) error) {
	if interval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runSweep(ctx, name, sweep)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Runner) runSweep(ctx context.Context, name string, sweep func(context.Context) error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.MaintenanceRunDuration, name)

	if err := sweep(ctx); err != nil {
		r.logger.Error().Err(err).Str("sweep", name).Msg("maintenance sweep failed")
		return
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(name).Inc()
}

func (r *Runner) runInventoryGC(ctx context.Context) error {
	result, err := r.inv.GarbageCollect(ctx, r.cfg.InventoryGCInactive, false)
	if err != nil {
		return err
	}
	metrics.MaintenanceBytesFreedTotal.Add(float64(result.BytesFreed))
	if result.ContactsCleaned > 0 {
		r.logger.Info().
			Int("contacts_cleaned", result.ContactsCleaned).
			Int("keys_deleted", result.KeysDeleted).
			Int64("bytes_freed", result.BytesFreed).
			Msg("inventory gc swept inactive contacts")
	}
	return nil
}

func (r *Runner) runVaultPurge(ctx context.Context) error {
	purged, err := r.vlt.PurgeExpired(ctx, r.cfg.VaultPurgeMaxAge)
	if err != nil {
		return err
	}
	if purged > 0 {
		r.logger.Info().Int("purged", purged).Msg("vault purge removed expired entries")
	}
	return nil
}

func (r *Runner) runServerRetention(ctx context.Context) error {
	stale, err := r.srv.PurgeStale(ctx, r.cfg.ServerPurgeMaxAge)
	if err != nil {
		return err
	}
	hardDeleted, err := r.srv.HardDeleteFetched(ctx, r.cfg.ServerHardDeleteGrace)
	if err != nil {
		return err
	}
	if stale > 0 || hardDeleted > 0 {
		r.logger.Info().
			Int("stale_purged", stale).
			Int("hard_deleted", hardDeleted).
			Msg("server retention sweep completed")
	}
	return nil
}
