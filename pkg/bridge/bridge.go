// Package bridge moves coins from the Coin Inventory Server into a peer's
// Smart Inventory under budget discipline, and tops up a contact's cache to
// its priority-derived caps.
package bridge

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/inventory"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/log"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/metrics"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/server"
)

// CoinSource is the narrow view of the Coin Inventory Server the bridge
// depends on, so tests can substitute a fake without a real Postgres.
type CoinSource interface {
	FetchCoins(ctx context.Context, targetUserID, requesterID string, category catalog.Tier, count int) ([]server.CoinRow, error)
	UploadCoins(ctx context.Context, userID string, coins []server.UploadCoin) (int, error)
}

// CoinSink is the narrow view of the Smart Inventory the bridge depends on.
type CoinSink interface {
	StoreKey(ctx context.Context, e inventory.Entry) error
	GetContactMeta(ctx context.Context, contactID string) (*inventory.ContactMeta, error)
	GetInventory(ctx context.Context, contactID string) (*inventory.Summary, error)
}

// Bridge composes a CoinSource and CoinSink to move coins across the
// server/inventory boundary under budget discipline.
type Bridge struct {
	source CoinSource
	sink   CoinSink
	logger zerolog.Logger
}

// New constructs a Bridge over a server and an inventory.
func New(source CoinSource, sink CoinSink) *Bridge {
	return &Bridge{source: source, sink: sink, logger: log.WithComponent("bridge")}
}

// FetchAndCache claims up to count coins of category from the server on
// behalf of contactID and stores each into the local inventory in order. If
// a store fails with BudgetExceeded the loop stops immediately; coins
// already claimed on the server past that point cannot be un-claimed and
// are lost, which BridgeLostClaimsTotal makes visible. It returns the
// prefix of entries that were successfully cached.
func (b *Bridge) FetchAndCache(ctx context.Context, contactID, targetUserID, requesterID string, category catalog.Tier, count int) ([]inventory.Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BridgeFetchAndCacheDuration)

	if count <= 0 {
		return nil, nil
	}

	rows, err := b.source.FetchCoins(ctx, targetUserID, requesterID, category, count)
	if err != nil {
		return nil, err
	}

	cached := make([]inventory.Entry, 0, len(rows))
	for _, row := range rows {
		entry := inventory.Entry{
			ContactID: contactID,
			KeyID:     row.KeyID,
			Category:  catalog.Tier(row.Category),
			PublicKey: row.PublicKey,
			Signature: row.Signature,
		}
		if err := b.sink.StoreKey(ctx, entry); err != nil {
			var budgetErr *aqmerrors.BudgetExceededError
			if errors.As(err, &budgetErr) {
				lost := len(rows) - len(cached)
				metrics.BridgeLostClaimsTotal.Add(float64(lost))
				b.logger.Warn().
					Str("contact_id", contactID).
					Str("coin_category", string(category)).
					Int("lost_claims", lost).
					Msg("budget exceeded mid-fetch, stopping and accepting claimed-coin loss")
				return cached, nil
			}
			return cached, err
		}
		cached = append(cached, entry)
	}
	return cached, nil
}

// UploadCoins publishes a batch of public coins straight through to the
// server on behalf of userID.
func (b *Bridge) UploadCoins(ctx context.Context, userID string, coins []server.UploadCoin) (int, error) {
	return b.source.UploadCoins(ctx, userID, coins)
}

// SyncInventory tops up contactID's cache to its priority's per-tier caps.
// For each tier it computes deficit = max(0, cap - current) and, if
// positive, calls FetchAndCache for exactly that many coins. It returns the
// number of coins fetched per tier. An unregistered contact yields all
// zeros.
func (b *Bridge) SyncInventory(ctx context.Context, contactID, targetUserID, requesterID string) (map[catalog.Tier]int, error) {
	result := map[catalog.Tier]int{catalog.Gold: 0, catalog.Silver: 0, catalog.Bronze: 0}

	meta, err := b.sink.GetContactMeta(ctx, contactID)
	if err != nil {
		return result, err
	}
	if meta == nil {
		return result, nil
	}

	summary, err := b.sink.GetInventory(ctx, contactID)
	if err != nil {
		return result, err
	}

	for _, tier := range catalog.Tiers {
		capFor := catalog.CapFor(meta.Priority, tier)
		current := summary.CountFor(tier)
		deficit := capFor - current
		if deficit <= 0 {
			continue
		}
		cached, err := b.FetchAndCache(ctx, contactID, targetUserID, requesterID, tier, deficit)
		if err != nil {
			return result, err
		}
		result[tier] = len(cached)
	}
	return result, nil
}
