// Package vault implements the Secure Vault: an owner-local store of private
// coin halves with an explicit ACTIVE/BURNED status machine, per-tier
// counters, TTL-based passive expiry and a short post-burn grace window.
package vault

import (
	"time"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
)

// Entry is one private coin record.
type Entry struct {
	KeyID         string
	Category      catalog.Tier
	EncryptedBlob []byte
	EncryptionIV  []byte
	AuthTag       []byte
	CoinVersion   string
	Status        catalog.Status
	CreatedAt     time.Time
}

// Stats is the process-shared counter set maintained alongside vault entries.
type Stats struct {
	ActiveGold   int64
	ActiveSilver int64
	ActiveBronze int64
	TotalBurned  int64
	TotalExpired int64
}

// activeField returns the stats-hash counter field name for tier t.
func activeField(t catalog.Tier) string {
	switch t {
	case catalog.Gold:
		return "active_gold"
	case catalog.Silver:
		return "active_silver"
	case catalog.Bronze:
		return "active_bronze"
	default:
		return ""
	}
}
