package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/log"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/metrics"
)

// errBudgetExceeded is a sentinel used inside the optimistic-locking
// transaction to distinguish "cap reached" (stop, do not retry) from a
// concurrent WATCH invalidation (retry).
var errBudgetExceeded = errors.New("inventory: budget exceeded")

// Config controls the inventory's concurrency and storage-accounting knobs.
type Config struct {
	OptimisticLockRetries int
	MaxStorageBytes       int64
}

// Inventory is a Redis-backed Smart Inventory.
type Inventory struct {
	client *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// New wraps an existing Redis client (pointed at the inventory's logical
// database) as an Inventory.
func New(client *redis.Client, cfg Config) *Inventory {
	if cfg.OptimisticLockRetries <= 0 {
		cfg.OptimisticLockRetries = 3
	}
	return &Inventory{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("inventory"),
	}
}

func wrapUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &aqmerrors.InventoryUnavailableError{Op: op, Err: err}
}

// RegisterContact creates contact meta if absent. It returns false without
// mutating anything if the contact is already registered.
func (inv *Inventory) RegisterContact(ctx context.Context, contactID string, priority catalog.Priority, displayName string) (bool, error) {
	if !priority.Valid() {
		return false, &aqmerrors.InvalidPriorityError{Priority: string(priority)}
	}

	key := metaKey(contactID)
	n, err := inv.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapUnavailable("register_contact", err)
	}
	if n > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	err = inv.client.HSet(ctx, key, map[string]interface{}{
		"contact_id":   contactID,
		"priority":     string(priority),
		"last_msg_at":  strconv.FormatInt(now.UnixMilli(), 10),
		"display_name": displayName,
	}).Err()
	if err != nil {
		return false, wrapUnavailable("register_contact", err)
	}
	inv.logger.Debug().Str("contact_id", contactID).Str("priority", string(priority)).Msg("registered contact")
	return true, nil
}

// SetContactPriority updates a contact's priority, trimming the cache on
// downgrade.
func (inv *Inventory) SetContactPriority(ctx context.Context, contactID string, newPriority catalog.Priority) (bool, error) {
	if !newPriority.Valid() {
		return false, &aqmerrors.InvalidPriorityError{Priority: string(newPriority)}
	}

	meta, err := inv.GetContactMeta(ctx, contactID)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return false, &aqmerrors.ContactNotRegisteredError{ContactID: contactID}
	}
	if meta.Priority == newPriority {
		return true, nil
	}

	oldPriority := meta.Priority
	if err := inv.client.HSet(ctx, metaKey(contactID), "priority", string(newPriority)).Err(); err != nil {
		return false, wrapUnavailable("set_contact_priority", err)
	}

	if newPriority.Rank() > oldPriority.Rank() {
		if err := inv.trimExcess(ctx, contactID, newPriority); err != nil {
			return false, err
		}
	}
	return true, nil
}

// GetContactMeta returns meta for a contact, or nil if unregistered.
func (inv *Inventory) GetContactMeta(ctx context.Context, contactID string) (*ContactMeta, error) {
	m, err := inv.client.HGetAll(ctx, metaKey(contactID)).Result()
	if err != nil {
		return nil, wrapUnavailable("get_contact_meta", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	lastMsgMs, _ := strconv.ParseInt(m["last_msg_at"], 10, 64)
	return &ContactMeta{
		ContactID:   m["contact_id"],
		Priority:    catalog.Priority(m["priority"]),
		LastMsgAt:   time.UnixMilli(lastMsgMs).UTC(),
		DisplayName: m["display_name"],
	}, nil
}

// StoreKey caches a public coin under the observed budget cap using an
// optimistic transaction (observe → conditional commit → retry).
func (inv *Inventory) StoreKey(ctx context.Context, e Entry) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.InventoryOperationDuration, "store_key")

	if !e.Category.Valid() {
		return &aqmerrors.InvalidCoinCategoryError{Category: string(e.Category)}
	}

	meta, err := inv.GetContactMeta(ctx, e.ContactID)
	if err != nil {
		return err
	}
	if meta == nil {
		return &aqmerrors.ContactNotRegisteredError{ContactID: e.ContactID}
	}

	budgetCap := catalog.CapFor(meta.Priority, e.Category)
	if budgetCap == 0 {
		metrics.InventoryBudgetExceededTotal.WithLabelValues(string(meta.Priority), string(e.Category)).Inc()
		return &aqmerrors.BudgetExceededError{ContactID: e.ContactID, Tier: string(e.Category), Current: 0, Cap: 0}
	}

	idx := idxKey(e.ContactID, string(e.Category))
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now().UTC()
	}
	key := entryKey(e.ContactID, e.KeyID)

	for attempt := 0; attempt < inv.cfg.OptimisticLockRetries; attempt++ {
		txErr := inv.client.Watch(ctx, func(tx *redis.Tx) error {
			card, err := tx.ZCard(ctx, idx).Result()
			if err != nil {
				return err
			}
			if card >= int64(budgetCap) {
				return errBudgetExceeded
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZAdd(ctx, idx, redis.Z{Score: float64(e.FetchedAt.UnixMilli()), Member: e.KeyID})
				pipe.HSet(ctx, key, map[string]interface{}{
					"contact_id":    e.ContactID,
					"key_id":        e.KeyID,
					"coin_category": string(e.Category),
					"public_key":    e.PublicKey,
					"signature":     e.Signature,
					"fetched_at":    strconv.FormatInt(e.FetchedAt.UnixMilli(), 10),
				})
				return nil
			})
			return err
		}, idx)

		if txErr == nil {
			metrics.InventoryCachedKeys.WithLabelValues(string(meta.Priority), string(e.Category)).Inc()
			inv.logger.Debug().Str("contact_id", e.ContactID).Str("key_id", e.KeyID).Msg("cached coin")
			return nil
		}
		if errors.Is(txErr, errBudgetExceeded) {
			current, _ := inv.client.ZCard(ctx, idx).Result()
			metrics.InventoryBudgetExceededTotal.WithLabelValues(string(meta.Priority), string(e.Category)).Inc()
			return &aqmerrors.BudgetExceededError{ContactID: e.ContactID, Tier: string(e.Category), Current: int(current), Cap: budgetCap}
		}
		if errors.Is(txErr, redis.TxFailedErr) {
			metrics.InventoryConcurrencyRetriesTotal.Inc()
			continue
		}
		return wrapUnavailable("store_key", txErr)
	}

	return &aqmerrors.ConcurrencyError{Op: "store_key"}
}

// SelectCoin pops the oldest cached coin for desired_tier, falling back to
// progressively lower tiers. Returns (nil, nil) if every tried tier is
// empty.
func (inv *Inventory) SelectCoin(ctx context.Context, contactID string, desiredTier catalog.Tier) (*Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.InventoryOperationDuration, "select_coin")

	if !desiredTier.Valid() {
		return nil, &aqmerrors.InvalidCoinCategoryError{Category: string(desiredTier)}
	}
	meta, err := inv.GetContactMeta(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, &aqmerrors.ContactNotRegisteredError{ContactID: contactID}
	}

	for _, tier := range catalog.SelectionOrder(desiredTier) {
		idx := idxKey(contactID, string(tier))
		popped, err := inv.client.ZPopMin(ctx, idx, 1).Result()
		if err != nil {
			return nil, wrapUnavailable("select_coin", err)
		}
		if len(popped) == 0 {
			continue
		}
		keyID := fmt.Sprint(popped[0].Member)
		key := entryKey(contactID, keyID)
		m, err := inv.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, wrapUnavailable("select_coin", err)
		}
		if err := inv.client.Del(ctx, key).Err(); err != nil {
			return nil, wrapUnavailable("select_coin", err)
		}
		if len(m) == 0 {
			continue
		}

		entry, err := deserializeEntry(m)
		if err != nil {
			return nil, err
		}

		if err := inv.client.HSet(ctx, metaKey(contactID), "last_msg_at", strconv.FormatInt(time.Now().UnixMilli(), 10)).Err(); err != nil {
			return nil, wrapUnavailable("select_coin", err)
		}
		metrics.InventoryCachedKeys.WithLabelValues(string(meta.Priority), string(tier)).Dec()
		return entry, nil
	}
	return nil, nil
}

func deserializeEntry(m map[string]string) (*Entry, error) {
	fetchedMs, err := strconv.ParseInt(m["fetched_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("inventory: malformed fetched_at for %s: %w", m["key_id"], err)
	}
	return &Entry{
		ContactID: m["contact_id"],
		KeyID:     m["key_id"],
		Category:  catalog.Tier(m["coin_category"]),
		PublicKey: []byte(m["public_key"]),
		Signature: []byte(m["signature"]),
		FetchedAt: time.UnixMilli(fetchedMs).UTC(),
	}, nil
}

// ConsumeKey deletes a specific cached coin, removing both the entry record
// and its index membership by key_id. Unlike SelectCoin it never falls back
// across tiers and does not touch last_msg_at.
func (inv *Inventory) ConsumeKey(ctx context.Context, contactID, keyID string) (bool, error) {
	key := entryKey(contactID, keyID)
	m, err := inv.client.HGetAll(ctx, key).Result()
	if err != nil {
		return false, wrapUnavailable("consume_key", err)
	}
	if len(m) == 0 {
		return false, nil
	}
	idx := idxKey(contactID, m["coin_category"])

	_, err = inv.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, idx, keyID)
		return nil
	})
	if err != nil {
		return false, wrapUnavailable("consume_key", err)
	}
	return true, nil
}

// GetInventory returns a per-tier summary for one contact.
func (inv *Inventory) GetInventory(ctx context.Context, contactID string) (*Summary, error) {
	meta, err := inv.GetContactMeta(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, &aqmerrors.ContactNotRegisteredError{ContactID: contactID}
	}
	return inv.summaryFor(ctx, contactID, meta.Priority)
}

func (inv *Inventory) summaryFor(ctx context.Context, contactID string, priority catalog.Priority) (*Summary, error) {
	s := &Summary{ContactID: contactID, Priority: priority}
	for _, tier := range catalog.Tiers {
		card, err := inv.client.ZCard(ctx, idxKey(contactID, string(tier))).Result()
		if err != nil {
			return nil, wrapUnavailable("get_inventory", err)
		}
		switch tier {
		case catalog.Gold:
			s.Gold = int(card)
		case catalog.Silver:
			s.Silver = int(card)
		case catalog.Bronze:
			s.Bronze = int(card)
		}
	}
	return s, nil
}

// GetAllInventory returns a summary for every registered contact.
func (inv *Inventory) GetAllInventory(ctx context.Context) (map[string]*Summary, error) {
	contactIDs, err := inv.scanContactIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Summary, len(contactIDs))
	for _, id := range contactIDs {
		meta, err := inv.GetContactMeta(ctx, id)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		summary, err := inv.summaryFor(ctx, id, meta.Priority)
		if err != nil {
			return nil, err
		}
		out[id] = summary
	}
	return out, nil
}

// HasKeysFor reports whether a contact has any cached coin in any tier.
func (inv *Inventory) HasKeysFor(ctx context.Context, contactID string) (bool, error) {
	summary, err := inv.GetInventory(ctx, contactID)
	if err != nil {
		return false, err
	}
	return summary.Gold+summary.Silver+summary.Bronze > 0, nil
}

// GetAvailableTiers returns the tiers with at least one cached coin.
func (inv *Inventory) GetAvailableTiers(ctx context.Context, contactID string) ([]catalog.Tier, error) {
	summary, err := inv.GetInventory(ctx, contactID)
	if err != nil {
		return nil, err
	}
	var tiers []catalog.Tier
	for _, tier := range catalog.Tiers {
		if summary.CountFor(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	return tiers, nil
}

// trimExcess evicts the newest-scored entries per tier down to new_priority's
// caps. Eviction is newest-first so the FIFO-by-age guarantee is preserved
// for survivors.
func (inv *Inventory) trimExcess(ctx context.Context, contactID string, newPriority catalog.Priority) error {
	for _, tier := range catalog.Tiers {
		idx := idxKey(contactID, string(tier))
		card, err := inv.client.ZCard(ctx, idx).Result()
		if err != nil {
			return wrapUnavailable("trim_excess", err)
		}
		newCap := catalog.CapFor(newPriority, tier)
		excess := card - int64(newCap)
		if excess <= 0 {
			continue
		}
		popped, err := inv.client.ZPopMax(ctx, idx, excess).Result()
		if err != nil {
			return wrapUnavailable("trim_excess", err)
		}
		for _, z := range popped {
			keyID := fmt.Sprint(z.Member)
			if err := inv.client.Del(ctx, entryKey(contactID, keyID)).Err(); err != nil {
				return wrapUnavailable("trim_excess", err)
			}
		}
		metrics.InventoryCachedKeys.WithLabelValues(string(newPriority), string(tier)).Sub(float64(len(popped)))
	}
	return nil
}

// GetStorageReport computes cached bytes against the configured storage
// budget. An empty contactID reports across all contacts.
func (inv *Inventory) GetStorageReport(ctx context.Context, contactID string) (*StorageReport, error) {
	report := &StorageReport{PerContact: map[string]int64{}, BudgetBytes: inv.cfg.MaxStorageBytes}

	var contactIDs []string
	if contactID != "" {
		contactIDs = []string{contactID}
	} else {
		ids, err := inv.scanContactIDs(ctx)
		if err != nil {
			return nil, err
		}
		contactIDs = ids
	}

	for _, id := range contactIDs {
		meta, err := inv.GetContactMeta(ctx, id)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		summary, err := inv.summaryFor(ctx, id, meta.Priority)
		if err != nil {
			return nil, err
		}
		var bytes int64
		bytes += int64(summary.Gold) * int64(catalog.CoinSizeBytes[catalog.Gold])
		bytes += int64(summary.Silver) * int64(catalog.CoinSizeBytes[catalog.Silver])
		bytes += int64(summary.Bronze) * int64(catalog.CoinSizeBytes[catalog.Bronze])
		report.PerContact[id] = bytes
		report.TotalBytes += bytes
	}

	if report.BudgetBytes > 0 {
		report.UtilizationPct = float64(report.TotalBytes) / float64(report.BudgetBytes) * 100
	}
	return report, nil
}

func (inv *Inventory) scanContactIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := inv.client.Scan(ctx, cursor, "inv:v1:meta:*", 200).Result()
		if err != nil {
			return nil, wrapUnavailable("scan_contacts", err)
		}
		for _, key := range keys {
			ids = append(ids, key[len("inv:v1:meta:"):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}
