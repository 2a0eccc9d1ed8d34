// Package server implements the Coin Inventory Server: a centralized
// PostgreSQL-backed pool of public coins keyed by (user_id, key_id),
// offering atomic claim-on-fetch with single-delivery guarantees across
// concurrent requesters.
package server

// UploadCoin is one public coin offered to upload_coins.
type UploadCoin struct {
	KeyID     string
	Category  string
	PublicKey []byte
	Signature []byte
}

// CoinRow is one claimed row returned by fetch_coins.
type CoinRow struct {
	KeyID     string
	Category  string
	PublicKey []byte
	Signature []byte
}

// InventoryCount is the per-tier unfetched-row count for one user.
type InventoryCount struct {
	Gold   int
	Silver int
	Bronze int
}
