package inventory

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
)

// GarbageCollect clears every contact whose last_msg_at is older than
// inactiveAfter: it deletes every cached entry across all tiers, clears the
// tier indexes, and resets priority to STRANGER. dryRun performs the same
// scan and accounting without mutating anything.
func (inv *Inventory) GarbageCollect(ctx context.Context, inactiveAfter time.Duration, dryRun bool) (GCResult, error) {
	cutoff := time.Now().Add(-inactiveAfter)
	contactIDs, err := inv.scanContactIDs(ctx)
	if err != nil {
		return GCResult{}, err
	}

	var result GCResult
	for _, id := range contactIDs {
		meta, err := inv.GetContactMeta(ctx, id)
		if err != nil {
			return GCResult{}, err
		}
		if meta == nil || meta.LastMsgAt.After(cutoff) {
			continue
		}
		cleaned, err := inv.clearContact(ctx, id, dryRun)
		if err != nil {
			return GCResult{}, err
		}
		result.ContactsCleaned++
		result.KeysDeleted += cleaned.KeysDeleted
		result.BytesFreed += cleaned.BytesFreed
	}
	return result, nil
}

// CollectSingleContact clears one contact's cache regardless of activity. It
// fails with ContactNotRegisteredError if the contact is unknown.
func (inv *Inventory) CollectSingleContact(ctx context.Context, contactID string) (GCResult, error) {
	meta, err := inv.GetContactMeta(ctx, contactID)
	if err != nil {
		return GCResult{}, err
	}
	if meta == nil {
		return GCResult{}, &aqmerrors.ContactNotRegisteredError{ContactID: contactID}
	}
	cleaned, err := inv.clearContact(ctx, contactID, false)
	if err != nil {
		return GCResult{}, err
	}
	cleaned.ContactsCleaned = 1
	return cleaned, nil
}

// clearContact deletes every cached entry for contactID across all tiers and
// (unless dryRun) resets its priority to STRANGER. It returns the keys
// deleted and bytes freed regardless of dryRun, for reporting.
func (inv *Inventory) clearContact(ctx context.Context, contactID string, dryRun bool) (GCResult, error) {
	var result GCResult
	for _, tier := range catalog.Tiers {
		idx := idxKey(contactID, string(tier))
		members, err := inv.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return GCResult{}, wrapUnavailable("garbage_collect", err)
		}
		if len(members) == 0 {
			continue
		}
		result.KeysDeleted += len(members)
		result.BytesFreed += int64(len(members)) * int64(catalog.CoinSizeBytes[tier])

		if dryRun {
			continue
		}

		_, err = inv.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, idx)
			for _, keyID := range members {
				pipe.Del(ctx, entryKey(contactID, keyID))
			}
			return nil
		})
		if err != nil {
			return GCResult{}, wrapUnavailable("garbage_collect", err)
		}
	}

	if !dryRun {
		if err := inv.client.HSet(ctx, metaKey(contactID), "priority", string(catalog.Stranger)).Err(); err != nil {
			return GCResult{}, wrapUnavailable("garbage_collect", err)
		}
	}
	return result, nil
}
