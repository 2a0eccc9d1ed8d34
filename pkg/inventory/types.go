// Package inventory implements the Smart Inventory: a per-contact cache of
// fetched public coins enforcing priority-derived budget caps, tiered FIFO
// selection with downward fallback, optimistic-concurrency writes and
// priority-downgrade trimming.
package inventory

import (
	"time"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
)

// ContactMeta describes one registered contact.
type ContactMeta struct {
	ContactID   string
	Priority    catalog.Priority
	LastMsgAt   time.Time
	DisplayName string
}

// Entry is one cached public coin.
type Entry struct {
	ContactID string
	KeyID     string
	Category  catalog.Tier
	PublicKey []byte
	Signature []byte
	FetchedAt time.Time
}

// Summary is the derived per-contact view over the cache.
type Summary struct {
	ContactID string
	Priority  catalog.Priority
	Gold      int
	Silver    int
	Bronze    int
}

// CountFor returns the cached count for tier t.
func (s Summary) CountFor(t catalog.Tier) int {
	switch t {
	case catalog.Gold:
		return s.Gold
	case catalog.Silver:
		return s.Silver
	case catalog.Bronze:
		return s.Bronze
	default:
		return 0
	}
}

// StorageReport accounts cached bytes against the configured storage budget.
type StorageReport struct {
	TotalBytes     int64
	PerContact     map[string]int64
	BudgetBytes    int64
	UtilizationPct float64
}

// GCResult summarizes one garbage-collection sweep.
type GCResult struct {
	ContactsCleaned int
	KeysDeleted     int
	BytesFreed      int64
}
