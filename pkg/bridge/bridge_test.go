package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/inventory"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/server"
)

// fakeSource is a stub CoinSource returning a fixed batch of rows.
type fakeSource struct {
	rows     []server.CoinRow
	err      error
	uploaded []server.UploadCoin
}

func (f *fakeSource) FetchCoins(ctx context.Context, targetUserID, requesterID string, category catalog.Tier, count int) ([]server.CoinRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	if count < len(f.rows) {
		return f.rows[:count], nil
	}
	return f.rows, nil
}

func (f *fakeSource) UploadCoins(ctx context.Context, userID string, coins []server.UploadCoin) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.uploaded = append(f.uploaded, coins...)
	return len(coins), nil
}

// fakeSink is a stub CoinSink that rejects stores once cap entries have been
// stored, counting all tiers together.
type fakeSink struct {
	meta    *inventory.ContactMeta
	summary *inventory.Summary
	cap     int
	stored  []inventory.Entry
}

func (f *fakeSink) StoreKey(ctx context.Context, e inventory.Entry) error {
	if len(f.stored) >= f.cap {
		return &aqmerrors.BudgetExceededError{ContactID: e.ContactID, Tier: string(e.Category), Current: len(f.stored), Cap: f.cap}
	}
	f.stored = append(f.stored, e)
	return nil
}

func (f *fakeSink) GetContactMeta(ctx context.Context, contactID string) (*inventory.ContactMeta, error) {
	return f.meta, nil
}

func (f *fakeSink) GetInventory(ctx context.Context, contactID string) (*inventory.Summary, error) {
	return f.summary, nil
}

func rowsFor(n int, category string) []server.CoinRow {
	rows := make([]server.CoinRow, n)
	for i := range rows {
		rows[i] = server.CoinRow{
			KeyID:     string(rune('a' + i)),
			Category:  category,
			PublicKey: []byte("pk"),
			Signature: []byte("sig"),
		}
	}
	return rows
}

func TestFetchAndCacheStopsOnBudgetExceeded(t *testing.T) {
	source := &fakeSource{rows: rowsFor(5, "SILVER")}
	sink := &fakeSink{cap: 2}

	b := New(source, sink)
	cached, err := b.FetchAndCache(context.Background(), "bob", "bob-user", "alice-user", catalog.Silver, 5)

	require.NoError(t, err)
	require.Len(t, cached, 2)
	require.Len(t, sink.stored, 2)
}

func TestFetchAndCacheZeroCountIsNoop(t *testing.T) {
	source := &fakeSource{rows: rowsFor(3, "GOLD")}
	sink := &fakeSink{cap: 10}

	b := New(source, sink)
	cached, err := b.FetchAndCache(context.Background(), "bob", "bob-user", "alice-user", catalog.Gold, 0)

	require.NoError(t, err)
	require.Nil(t, cached)
	require.Empty(t, sink.stored)
}

func TestFetchAndCachePropagatesSourceError(t *testing.T) {
	source := &fakeSource{err: &aqmerrors.FetchError{Err: context.DeadlineExceeded}}
	sink := &fakeSink{cap: 10}

	b := New(source, sink)
	_, err := b.FetchAndCache(context.Background(), "bob", "bob-user", "alice-user", catalog.Gold, 1)

	require.Error(t, err)
}

func TestSyncInventoryFetchesOnlyTheDeficit(t *testing.T) {
	source := &fakeSource{rows: rowsFor(10, "SILVER")}
	sink := &fakeSink{
		cap:     10,
		meta:    &inventory.ContactMeta{ContactID: "bob", Priority: catalog.Mate},
		summary: &inventory.Summary{ContactID: "bob", Priority: catalog.Mate, Silver: 4},
	}

	b := New(source, sink)
	result, err := b.SyncInventory(context.Background(), "bob", "bob-user", "alice-user")

	require.NoError(t, err)
	// MATE's SILVER cap is 6 (catalog.BudgetCaps); 4 already cached, so the
	// bridge should fetch exactly 2 more.
	require.Equal(t, 2, result[catalog.Silver])
	require.Equal(t, 0, result[catalog.Gold])
}

func TestUploadCoinsPassesThroughToServer(t *testing.T) {
	source := &fakeSource{}
	sink := &fakeSink{cap: 10}

	b := New(source, sink)
	inserted, err := b.UploadCoins(context.Background(), "bob-user", []server.UploadCoin{
		{KeyID: "k1", Category: "GOLD", PublicKey: []byte("pk"), Signature: []byte("sig")},
		{KeyID: "k2", Category: "SILVER", PublicKey: []byte("pk"), Signature: []byte("sig")},
	})

	require.NoError(t, err)
	require.Equal(t, 2, inserted)
	require.Len(t, source.uploaded, 2)
}

func TestSyncInventoryUnregisteredContactReturnsZeros(t *testing.T) {
	source := &fakeSource{rows: rowsFor(5, "GOLD")}
	sink := &fakeSink{cap: 10, meta: nil}

	b := New(source, sink)
	result, err := b.SyncInventory(context.Background(), "ghost", "ghost-user", "alice-user")

	require.NoError(t, err)
	require.Equal(t, 0, result[catalog.Gold])
	require.Equal(t, 0, result[catalog.Silver])
	require.Equal(t, 0, result[catalog.Bronze])
}
