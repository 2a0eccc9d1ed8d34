// Package errors defines the typed error taxonomy surfaced by the vault,
// inventory, server and bridge components. Validation errors are raised
// eagerly and are never retried; backing-store outages are wrapped with the
// failing operation name and are a caller concern to retry.
package errors

import "fmt"

// InvalidCoinCategoryError reports a coin_category outside {GOLD, SILVER, BRONZE}.
type InvalidCoinCategoryError struct{ Category string }

func (e *InvalidCoinCategoryError) Error() string {
	return fmt.Sprintf("invalid coin category %q", e.Category)
}

// InvalidPriorityError reports a priority outside {BESTIE, MATE, STRANGER}.
type InvalidPriorityError struct{ Priority string }

func (e *InvalidPriorityError) Error() string {
	return fmt.Sprintf("invalid priority %q", e.Priority)
}

// KeyAlreadyExistsError reports that store_key was called with a key_id
// already present in the vault.
type KeyAlreadyExistsError struct{ KeyID string }

func (e *KeyAlreadyExistsError) Error() string {
	return fmt.Sprintf("key %q already exists", e.KeyID)
}

// KeyNotFoundError reports that a vault operation targeted an absent key_id.
type KeyNotFoundError struct{ KeyID string }

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key %q not found", e.KeyID)
}

// KeyAlreadyBurnedError reports a second burn_key call against the same
// key_id. Burn is deliberately non-idempotent so duplicates are visible.
type KeyAlreadyBurnedError struct{ KeyID string }

func (e *KeyAlreadyBurnedError) Error() string {
	return fmt.Sprintf("key %q already burned", e.KeyID)
}

// ContactNotRegisteredError reports an inventory lookup against a contact
// that never called register_contact.
type ContactNotRegisteredError struct{ ContactID string }

func (e *ContactNotRegisteredError) Error() string {
	return fmt.Sprintf("contact %q not registered", e.ContactID)
}

// BudgetExceededError reports that caching one more coin would push a
// contact's (tier) cache past its priority-derived cap.
type BudgetExceededError struct {
	ContactID string
	Tier      string
	Current   int
	Cap       int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s/%s: %d/%d", e.ContactID, e.Tier, e.Current, e.Cap)
}

// ConcurrencyError reports that an optimistic-locking operation exhausted
// its configured retry budget without committing.
type ConcurrencyError struct{ Op string }

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("optimistic lock failed after max retries: %s", e.Op)
}

// VaultUnavailableError wraps a backing-store outage observed by the vault.
type VaultUnavailableError struct {
	Op  string
	Err error
}

func (e *VaultUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault unavailable during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vault unavailable during %s", e.Op)
}

func (e *VaultUnavailableError) Unwrap() error { return e.Err }

// InventoryUnavailableError wraps a backing-store outage observed by the
// inventory.
type InventoryUnavailableError struct {
	Op  string
	Err error
}

func (e *InventoryUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inventory unavailable during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("inventory unavailable during %s", e.Op)
}

func (e *InventoryUnavailableError) Unwrap() error { return e.Err }

// UploadError wraps a server-side failure during upload_coins.
type UploadError struct{ Err error }

func (e *UploadError) Error() string { return fmt.Sprintf("upload_coins failed: %v", e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// FetchError wraps a server-side failure during fetch_coins.
type FetchError struct{ Err error }

func (e *FetchError) Error() string { return fmt.Sprintf("fetch_coins failed: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ServerDatabaseError wraps any other server backing-store failure, tagged
// with the failing operation name.
type ServerDatabaseError struct {
	Op  string
	Err error
}

func (e *ServerDatabaseError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ServerDatabaseError) Unwrap() error { return e.Err }

// ConnectionPoolError reports a failure to establish or reuse the server's
// connection pool.
type ConnectionPoolError struct{ Err error }

func (e *ConnectionPoolError) Error() string {
	return fmt.Sprintf("connection pool error: %v", e.Err)
}

func (e *ConnectionPoolError) Unwrap() error { return e.Err }
