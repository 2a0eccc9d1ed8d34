package vault

import (
	"context"
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

const statsKey = "vault:v1:stats"

func entryKey(keyID string) string {
	return "vault:v1:key:" + keyID
}

// Config controls the vault's TTL and grace-window behavior.
type Config struct {
	KeyTTL    time.Duration
	BurnGrace time.Duration
}

// Vault is a Redis-backed Secure Vault.
type Vault struct {
	client *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// New wraps an existing Redis client (pointed at the vault's logical
// database) as a Vault.
func New(client *redis.Client, cfg Config) *Vault {
	return &Vault{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("vault"),
	}
}

func wrapUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &aqmerrors.VaultUnavailableError{Op: op, Err: err}
}

// StoreKey persists a new private coin record. It fails with
// InvalidCoinCategoryError if category is unrecognized and with
// KeyAlreadyExistsError if key_id is already present.
func (v *Vault) StoreKey(ctx context.Context, e Entry) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VaultOperationDuration, "store_key")

	if !e.Category.Valid() {
		return &aqmerrors.InvalidCoinCategoryError{Category: string(e.Category)}
	}

	key := entryKey(e.KeyID)
	n, err := v.client.Exists(ctx, key).Result()
	if err != nil {
		return wrapUnavailable("store_key", err)
	}
	if n > 0 {
		return &aqmerrors.KeyAlreadyExistsError{KeyID: e.KeyID}
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"key_id":         e.KeyID,
			"coin_category":  string(e.Category),
			"encrypted_blob": e.EncryptedBlob,
			"encryption_iv":  e.EncryptionIV,
			"auth_tag":       e.AuthTag,
			"coin_version":   e.CoinVersion,
			"status":         string(catalog.Active),
			"created_at":     strconv.FormatInt(e.CreatedAt.UnixMilli(), 10),
		})
		pipe.Expire(ctx, key, v.cfg.KeyTTL)
		pipe.HIncrBy(ctx, statsKey, activeField(e.Category), 1)
		return nil
	})
	if err != nil {
		return wrapUnavailable("store_key", err)
	}

	metrics.VaultActiveKeys.WithLabelValues(string(e.Category)).Inc()
	v.logger.Debug().Str("key_id", e.KeyID).Str("tier", string(e.Category)).Msg("stored vault entry")
	return nil
}

// BurnKey transitions a key from ACTIVE to BURNED. It fails with
// KeyNotFoundError if the key does not exist and KeyAlreadyBurnedError if it
// is already burned; burn is deliberately non-idempotent.
func (v *Vault) BurnKey(ctx context.Context, keyID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VaultOperationDuration, "burn_key")

	key := entryKey(keyID)
	vals, err := v.client.HMGet(ctx, key, "status", "coin_category").Result()
	if err != nil {
		return wrapUnavailable("burn_key", err)
	}
	if vals[0] == nil {
		return &aqmerrors.KeyNotFoundError{KeyID: keyID}
	}
	status := catalog.Status(fmt.Sprint(vals[0]))
	if status == catalog.Burned {
		return &aqmerrors.KeyAlreadyBurnedError{KeyID: keyID}
	}
	tier := catalog.Tier(fmt.Sprint(vals[1]))

	_, err = v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "status", string(catalog.Burned))
		pipe.Expire(ctx, key, v.cfg.BurnGrace)
		pipe.HIncrBy(ctx, statsKey, activeField(tier), -1)
		pipe.HIncrBy(ctx, statsKey, "total_burned", 1)
		return nil
	})
	if err != nil {
		return wrapUnavailable("burn_key", err)
	}

	metrics.VaultActiveKeys.WithLabelValues(string(tier)).Dec()
	metrics.VaultBurnsTotal.Inc()
	v.logger.Debug().Str("key_id", keyID).Msg("burned vault entry")
	return nil
}

// FetchKey returns the entry iff it exists and is ACTIVE. A BURNED or absent
// key_id returns (nil, nil); the grace window is not observable here.
func (v *Vault) FetchKey(ctx context.Context, keyID string) (*Entry, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VaultOperationDuration, "fetch_key")

	m, err := v.client.HGetAll(ctx, entryKey(keyID)).Result()
	if err != nil {
		return nil, wrapUnavailable("fetch_key", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	if catalog.Status(m["status"]) != catalog.Active {
		return nil, nil
	}
	return deserializeEntry(m)
}

func deserializeEntry(m map[string]string) (*Entry, error) {
	createdMs, err := strconv.ParseInt(m["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("vault: malformed created_at for %s: %w", m["key_id"], err)
	}
	return &Entry{
		KeyID:         m["key_id"],
		Category:      catalog.Tier(m["coin_category"]),
		EncryptedBlob: []byte(m["encrypted_blob"]),
		EncryptionIV:  []byte(m["encryption_iv"]),
		AuthTag:       []byte(m["auth_tag"]),
		CoinVersion:   m["coin_version"],
		Status:        catalog.Status(m["status"]),
		CreatedAt:     time.UnixMilli(createdMs).UTC(),
	}, nil
}

// Exists reports whether key_id has a record, independent of status.
func (v *Vault) Exists(ctx context.Context, keyID string) (bool, error) {
	n, err := v.client.Exists(ctx, entryKey(keyID)).Result()
	if err != nil {
		return false, wrapUnavailable("exists", err)
	}
	return n > 0, nil
}

// CountActive reads the active-entry counters. A nil tier sums all three.
func (v *Vault) CountActive(ctx context.Context, tier *catalog.Tier) (int64, error) {
	stats, err := v.GetStats(ctx)
	if err != nil {
		return 0, err
	}
	if tier == nil {
		return stats.ActiveGold + stats.ActiveSilver + stats.ActiveBronze, nil
	}
	switch *tier {
	case catalog.Gold:
		return stats.ActiveGold, nil
	case catalog.Silver:
		return stats.ActiveSilver, nil
	case catalog.Bronze:
		return stats.ActiveBronze, nil
	default:
		return 0, &aqmerrors.InvalidCoinCategoryError{Category: string(*tier)}
	}
}

// GetAllActiveIDs enumerates active key_ids, optionally filtered by tier. It
// scans under bounded batches to stay nonblocking.
func (v *Vault) GetAllActiveIDs(ctx context.Context, tier *catalog.Tier) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := v.client.Scan(ctx, cursor, "vault:v1:key:*", 200).Result()
		if err != nil {
			return nil, wrapUnavailable("get_all_active_ids", err)
		}
		for _, key := range keys {
			m, err := v.client.HMGet(ctx, key, "key_id", "status", "coin_category").Result()
			if err != nil {
				return nil, wrapUnavailable("get_all_active_ids", err)
			}
			if m[0] == nil || catalog.Status(fmt.Sprint(m[1])) != catalog.Active {
				continue
			}
			if tier != nil && catalog.Tier(fmt.Sprint(m[2])) != *tier {
				continue
			}
			ids = append(ids, fmt.Sprint(m[0]))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// PurgeExpired deletes ACTIVE entries older than max_age and reconciles the
// active/expired counters atomically per entry.
func (v *Vault) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.VaultOperationDuration, "purge_expired")

	cutoff := time.Now().Add(-maxAge)
	purged := 0
	var cursor uint64
	for {
		keys, next, err := v.client.Scan(ctx, cursor, "vault:v1:key:*", 200).Result()
		if err != nil {
			return purged, wrapUnavailable("purge_expired", err)
		}
		for _, key := range keys {
			m, err := v.client.HMGet(ctx, key, "status", "coin_category", "created_at").Result()
			if err != nil {
				return purged, wrapUnavailable("purge_expired", err)
			}
			if m[0] == nil || catalog.Status(fmt.Sprint(m[0])) != catalog.Active {
				continue
			}
			createdMs, err := strconv.ParseInt(fmt.Sprint(m[2]), 10, 64)
			if err != nil {
				continue
			}
			if time.UnixMilli(createdMs).After(cutoff) {
				continue
			}
			tier := catalog.Tier(fmt.Sprint(m[1]))
			_, err = v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.HIncrBy(ctx, statsKey, activeField(tier), -1)
				pipe.HIncrBy(ctx, statsKey, "total_expired", 1)
				return nil
			})
			if err != nil {
				return purged, wrapUnavailable("purge_expired", err)
			}
			metrics.VaultActiveKeys.WithLabelValues(string(tier)).Dec()
			metrics.VaultExpiredTotal.Inc()
			purged++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	v.logger.Debug().Int("purged", purged).Msg("purged expired vault entries")
	return purged, nil
}

// GetStats returns a snapshot of the vault's counters.
func (v *Vault) GetStats(ctx context.Context) (*Stats, error) {
	m, err := v.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, wrapUnavailable("get_stats", err)
	}
	get := func(field string) int64 {
		n, _ := strconv.ParseInt(m[field], 10, 64)
		return n
	}
	return &Stats{
		ActiveGold:   get("active_gold"),
		ActiveSilver: get("active_silver"),
		ActiveBronze: get("active_bronze"),
		TotalBurned:  get("total_burned"),
		TotalExpired: get("total_expired"),
	}, nil
}
