package vault

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, Config{
		KeyTTL:    30 * 24 * time.Hour,
		BurnGrace: 60 * time.Second,
	})
}

func TestStoreKeyRejectsInvalidCategory(t *testing.T) {
	v := newTestVault(t)
	err := v.StoreKey(context.Background(), Entry{KeyID: "k1", Category: catalog.Tier("PLATINUM")})
	require.Error(t, err)
	var want *aqmerrors.InvalidCoinCategoryError
	require.ErrorAs(t, err, &want)
}

func TestStoreKeyRejectsDuplicate(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	entry := Entry{KeyID: "k1", Category: catalog.Gold, EncryptedBlob: []byte("blob")}

	require.NoError(t, v.StoreKey(ctx, entry))
	err := v.StoreKey(ctx, entry)
	require.Error(t, err)
	var want *aqmerrors.KeyAlreadyExistsError
	require.ErrorAs(t, err, &want)
}

// TestBurnLifecycle exercises Scenario D from the testable-properties suite.
func TestBurnLifecycle(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.StoreKey(ctx, Entry{KeyID: "k1", Category: catalog.Gold, EncryptedBlob: []byte("blob")}))

	gold := catalog.Gold
	active, err := v.CountActive(ctx, &gold)
	require.NoError(t, err)
	require.EqualValues(t, 1, active)

	require.NoError(t, v.BurnKey(ctx, "k1"))

	err = v.BurnKey(ctx, "k1")
	require.Error(t, err)
	var alreadyBurned *aqmerrors.KeyAlreadyBurnedError
	require.ErrorAs(t, err, &alreadyBurned)

	entry, err := v.FetchKey(ctx, "k1")
	require.NoError(t, err)
	require.Nil(t, entry)

	active, err = v.CountActive(ctx, &gold)
	require.NoError(t, err)
	require.EqualValues(t, 0, active)

	stats, err := v.GetStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalBurned)
}

func TestBurnKeyNotFound(t *testing.T) {
	v := newTestVault(t)
	err := v.BurnKey(context.Background(), "ghost")
	require.Error(t, err)
	var notFound *aqmerrors.KeyNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestFetchKeyRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	entry := Entry{
		KeyID:         "k1",
		Category:      catalog.Silver,
		EncryptedBlob: []byte("secret-blob"),
		EncryptionIV:  []byte("iv-bytes"),
		AuthTag:       []byte("tag-bytes"),
		CoinVersion:   "v1",
	}
	require.NoError(t, v.StoreKey(ctx, entry))

	got, err := v.FetchKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, entry.EncryptedBlob, got.EncryptedBlob)
	require.Equal(t, entry.EncryptionIV, got.EncryptionIV)
	require.Equal(t, entry.AuthTag, got.AuthTag)
	require.Equal(t, catalog.Active, got.Status)
}

func TestExists(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	ok, err := v.Exists(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, v.StoreKey(ctx, Entry{KeyID: "k1", Category: catalog.Bronze}))
	ok, err = v.Exists(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	// Existence survives a burn, unlike FetchKey.
	require.NoError(t, v.BurnKey(ctx, "k1"))
	ok, err = v.Exists(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetAllActiveIDsFiltersBurnedAndTier(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.StoreKey(ctx, Entry{KeyID: "g1", Category: catalog.Gold}))
	require.NoError(t, v.StoreKey(ctx, Entry{KeyID: "g2", Category: catalog.Gold}))
	require.NoError(t, v.StoreKey(ctx, Entry{KeyID: "s1", Category: catalog.Silver}))
	require.NoError(t, v.BurnKey(ctx, "g2"))

	gold := catalog.Gold
	ids, err := v.GetAllActiveIDs(ctx, &gold)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"g1"}, ids)

	all, err := v.GetAllActiveIDs(ctx, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"g1", "s1"}, all)
}

func TestPurgeExpired(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	old := Entry{
		KeyID:     "old",
		Category:  catalog.Gold,
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	}
	fresh := Entry{KeyID: "fresh", Category: catalog.Gold}

	require.NoError(t, v.StoreKey(ctx, old))
	require.NoError(t, v.StoreKey(ctx, fresh))

	purged, err := v.PurgeExpired(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	gold := catalog.Gold
	active, err := v.CountActive(ctx, &gold)
	require.NoError(t, err)
	require.EqualValues(t, 1, active)

	stats, err := v.GetStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalExpired)
}
