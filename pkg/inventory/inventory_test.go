package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// A retry budget above the production default keeps the concurrent
	// cap-enforcement test from exhausting retries under contention.
	return New(client, Config{OptimisticLockRetries: 10, MaxStorageBytes: 65536})
}

func TestRegisterContactIsIdempotent(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()

	created, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)
	require.True(t, created)

	created, err = inv.RegisterContact(ctx, "bob", catalog.Mate, "Bob")
	require.NoError(t, err)
	require.False(t, created)

	meta, err := inv.GetContactMeta(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, catalog.Bestie, meta.Priority)
}

func TestStoreKeyRejectsUnregisteredContact(t *testing.T) {
	inv := newTestInventory(t)
	err := inv.StoreKey(context.Background(), Entry{ContactID: "ghost", KeyID: "k1", Category: catalog.Gold})
	require.Error(t, err)
	var want *aqmerrors.ContactNotRegisteredError
	require.ErrorAs(t, err, &want)
}

func TestStoreKeyZeroCapAlwaysFails(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "stranger", catalog.Stranger, "")
	require.NoError(t, err)

	err = inv.StoreKey(ctx, Entry{ContactID: "stranger", KeyID: "k1", Category: catalog.Gold})
	require.Error(t, err)
	var budgetErr *aqmerrors.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	require.Equal(t, 0, budgetErr.Cap)
}

// TestConcurrentCapEnforcement is Scenario A: exactly cap-many concurrent
// store_key calls succeed for a GOLD-capped BESTIE contact.
func TestConcurrentCapEnforcement(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, budgetErrors := 0, 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := inv.StoreKey(ctx, Entry{
				ContactID: "bob",
				KeyID:     fmt.Sprintf("gold-%d", i),
				Category:  catalog.Gold,
				PublicKey: []byte("pk"),
				Signature: []byte("sig"),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				var budgetErr *aqmerrors.BudgetExceededError
				if errors.As(err, &budgetErr) {
					budgetErrors++
				}
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 5, successes)
	require.Equal(t, 5, budgetErrors)

	summary, err := inv.GetInventory(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 5, summary.Gold)
}

// TestSelectCoinFallback is Scenario C: fallback substitutes downward only,
// never upward.
func TestSelectCoinFallback(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)

	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "s1", Category: catalog.Silver, PublicKey: []byte("pk"), Signature: []byte("sig")}))

	entry, err := inv.SelectCoin(ctx, "bob", catalog.Gold)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "s1", entry.KeyID)
	require.Equal(t, catalog.Silver, entry.Category)

	entry, err = inv.SelectCoin(ctx, "bob", catalog.Bronze)
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestSelectCoinOrdersByFetchedAt(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "s-new", Category: catalog.Silver, FetchedAt: now.Add(time.Second)}))
	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "s-old", Category: catalog.Silver, FetchedAt: now}))

	first, err := inv.SelectCoin(ctx, "bob", catalog.Silver)
	require.NoError(t, err)
	require.Equal(t, "s-old", first.KeyID)

	second, err := inv.SelectCoin(ctx, "bob", catalog.Silver)
	require.NoError(t, err)
	require.Equal(t, "s-new", second.KeyID)
}

func TestConsumeKeyRemovesByKeyID(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)
	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "g1", Category: catalog.Gold}))

	ok, err := inv.ConsumeKey(ctx, "bob", "g1")
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := inv.GetInventory(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 0, summary.Gold)

	ok, err = inv.ConsumeKey(ctx, "bob", "g1")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestPriorityDowngradeTrimsToNewCap downgrades BESTIE to STRANGER, whose
// SILVER cap is 0, so every cached SILVER coin is trimmed. Which end of the
// index is evicted is not observable with a cap of 0.
func TestPriorityDowngradeTrimsToNewCap(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, inv.StoreKey(ctx, Entry{
			ContactID: "bob",
			KeyID:     fmt.Sprintf("s%d", i),
			Category:  catalog.Silver,
			FetchedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	ok, err := inv.SetContactPriority(ctx, "bob", catalog.Stranger)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := inv.GetInventory(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 0, summary.Silver)
}

// TestInactiveGarbageCollect is Scenario F.
func TestInactiveGarbageCollect(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: fmt.Sprintf("s%d", i), Category: catalog.Silver}))
	}

	require.NoError(t, inv.client.HSet(ctx, metaKey("bob"), "last_msg_at",
		timeToMillisString(time.Now().Add(-31*24*time.Hour))).Err())

	result, err := inv.GarbageCollect(ctx, 30*24*time.Hour, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.ContactsCleaned)
	require.Equal(t, 3, result.KeysDeleted)
	require.EqualValues(t, 3*catalog.CoinSizeBytes[catalog.Silver], result.BytesFreed)

	meta, err := inv.GetContactMeta(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, catalog.Stranger, meta.Priority)

	has, err := inv.HasKeysFor(ctx, "bob")
	require.NoError(t, err)
	require.False(t, has)
}

func TestGarbageCollectDryRunDoesNotMutate(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)
	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "s1", Category: catalog.Silver}))
	require.NoError(t, inv.client.HSet(ctx, metaKey("bob"), "last_msg_at",
		timeToMillisString(time.Now().Add(-31*24*time.Hour))).Err())

	result, err := inv.GarbageCollect(ctx, 30*24*time.Hour, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.KeysDeleted)

	has, err := inv.HasKeysFor(ctx, "bob")
	require.NoError(t, err)
	require.True(t, has)

	meta, err := inv.GetContactMeta(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, catalog.Bestie, meta.Priority)
}

func TestGetAvailableTiers(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)

	tiers, err := inv.GetAvailableTiers(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, tiers)

	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "g1", Category: catalog.Gold}))
	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "b1", Category: catalog.Bronze}))

	tiers, err = inv.GetAvailableTiers(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, []catalog.Tier{catalog.Gold, catalog.Bronze}, tiers)
}

func TestStorageReportAccountsCachedBytes(t *testing.T) {
	inv := newTestInventory(t)
	ctx := context.Background()
	_, err := inv.RegisterContact(ctx, "bob", catalog.Bestie, "Bob")
	require.NoError(t, err)
	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "g1", Category: catalog.Gold}))
	require.NoError(t, inv.StoreKey(ctx, Entry{ContactID: "bob", KeyID: "s1", Category: catalog.Silver}))

	report, err := inv.GetStorageReport(ctx, "")
	require.NoError(t, err)
	want := int64(catalog.CoinSizeBytes[catalog.Gold] + catalog.CoinSizeBytes[catalog.Silver])
	require.Equal(t, want, report.TotalBytes)
	require.Equal(t, want, report.PerContact["bob"])
	require.EqualValues(t, 65536, report.BudgetBytes)
	require.InDelta(t, float64(want)/65536*100, report.UtilizationPct, 0.01)
}

func TestCollectSingleContactUnknown(t *testing.T) {
	inv := newTestInventory(t)
	_, err := inv.CollectSingleContact(context.Background(), "ghost")
	require.Error(t, err)
	var want *aqmerrors.ContactNotRegisteredError
	require.ErrorAs(t, err, &want)
}

func timeToMillisString(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}
