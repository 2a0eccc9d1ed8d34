package server

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/log"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/metrics"
)

// dbPool is the slice of *pgxpool.Pool the server depends on, narrowed so
// tests can swap in a pgxmock pool without touching a real database.
type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Server is a PostgreSQL-backed Coin Inventory Server.
type Server struct {
	pool   dbPool
	logger zerolog.Logger
}

// New wraps an existing pgxpool.Pool as a Server.
func New(pool *pgxpool.Pool) *Server {
	return &Server{pool: pool, logger: log.WithComponent("server")}
}

// NewWithPool wraps any dbPool implementation as a Server; used by tests to
// inject a pgxmock pool.
func NewWithPool(pool dbPool) *Server {
	return &Server{pool: pool, logger: log.WithComponent("server")}
}

// UploadCoins inserts each coin as a new row; duplicate (user_id, key_id)
// pairs are silently skipped. The whole batch commits in one transaction.
func (s *Server) UploadCoins(ctx context.Context, userID string, coins []UploadCoin) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ServerOperationDuration, "upload_coins")

	for _, c := range coins {
		if !catalog.Tier(c.Category).Valid() {
			return 0, &aqmerrors.InvalidCoinCategoryError{Category: c.Category}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &aqmerrors.UploadError{Err: err}
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, c := range coins {
		tag, err := tx.Exec(ctx, `
			INSERT INTO coin_inventory (user_id, key_id, coin_category, public_key_blob, signature_blob)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, key_id) DO NOTHING`,
			userID, c.KeyID, c.Category, c.PublicKey, c.Signature)
		if err != nil {
			return 0, &aqmerrors.UploadError{Err: err}
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &aqmerrors.UploadError{Err: err}
	}

	metrics.ServerCoinsUploadedTotal.Add(float64(inserted))
	s.logger.Debug().Str("user_id", userID).Int("inserted", inserted).Msg("uploaded coins")
	return inserted, nil
}

// FetchCoins atomically claims up to count unfetched rows for
// (target_user_id, category), ordered by uploaded_at ascending, marking them
// fetched_by = requester_id. Concurrent callers receive disjoint sets.
func (s *Server) FetchCoins(ctx context.Context, targetUserID, requesterID string, category catalog.Tier, count int) ([]CoinRow, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ServerOperationDuration, "fetch_coins")

	if !category.Valid() {
		return nil, &aqmerrors.InvalidCoinCategoryError{Category: string(category)}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, &aqmerrors.FetchError{Err: err}
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		WITH claimed AS (
			SELECT record_id
			FROM coin_inventory
			WHERE user_id = $1 AND coin_category = $2 AND fetched_by IS NULL
			ORDER BY uploaded_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE coin_inventory
		SET fetched_by = $4, fetched_at = now()
		FROM claimed
		WHERE coin_inventory.record_id = claimed.record_id
		RETURNING coin_inventory.key_id, coin_inventory.coin_category,
		          coin_inventory.public_key_blob, coin_inventory.signature_blob`,
		targetUserID, string(category), count, requesterID)
	if err != nil {
		return nil, &aqmerrors.FetchError{Err: err}
	}

	var claimed []CoinRow
	for rows.Next() {
		var row CoinRow
		if err := rows.Scan(&row.KeyID, &row.Category, &row.PublicKey, &row.Signature); err != nil {
			rows.Close()
			return nil, &aqmerrors.FetchError{Err: err}
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &aqmerrors.FetchError{Err: err}
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, &aqmerrors.FetchError{Err: err}
	}

	metrics.ServerCoinsFetchedTotal.WithLabelValues(string(category)).Add(float64(len(claimed)))
	s.logger.Debug().Str("target_user_id", targetUserID).Str("requester_id", requesterID).Int("claimed", len(claimed)).Msg("fetched coins")
	return claimed, nil
}

// GetInventoryCount returns unfetched counts per tier for one user.
func (s *Server) GetInventoryCount(ctx context.Context, userID string) (InventoryCount, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ServerOperationDuration, "get_inventory_count")

	rows, err := s.pool.Query(ctx, `
		SELECT coin_category, COUNT(*)
		FROM coin_inventory
		WHERE user_id = $1 AND fetched_by IS NULL
		GROUP BY coin_category`, userID)
	if err != nil {
		return InventoryCount{}, &aqmerrors.ServerDatabaseError{Op: "get_inventory_count", Err: err}
	}
	defer rows.Close()

	var counts InventoryCount
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return InventoryCount{}, &aqmerrors.ServerDatabaseError{Op: "get_inventory_count", Err: err}
		}
		switch catalog.Tier(category) {
		case catalog.Gold:
			counts.Gold = n
		case catalog.Silver:
			counts.Silver = n
		case catalog.Bronze:
			counts.Bronze = n
		}
	}
	if err := rows.Err(); err != nil {
		return InventoryCount{}, &aqmerrors.ServerDatabaseError{Op: "get_inventory_count", Err: err}
	}
	return counts, nil
}

// PurgeStale deletes unfetched rows older than maxAge.
func (s *Server) PurgeStale(ctx context.Context, maxAge time.Duration) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ServerOperationDuration, "purge_stale")

	// Postgres's interval parser accepts Go's duration format ("720h0m0s"),
	// so the cutoff binds as a single $1::interval rather than an
	// INTERVAL '1 day' * $1 numeric multiplier.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM coin_inventory
		WHERE fetched_by IS NULL AND uploaded_at < now() - $1::interval`,
		maxAge.String())
	if err != nil {
		return 0, &aqmerrors.ServerDatabaseError{Op: "purge_stale", Err: err}
	}
	deleted := int(tag.RowsAffected())
	s.logger.Debug().Int("deleted", deleted).Msg("purged stale coins")
	return deleted, nil
}

// HardDeleteFetched deletes fetched rows older than grace.
func (s *Server) HardDeleteFetched(ctx context.Context, grace time.Duration) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ServerOperationDuration, "hard_delete_fetched")

	// Same Go-formatted $1::interval binding as PurgeStale.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM coin_inventory
		WHERE fetched_by IS NOT NULL AND fetched_at < now() - $1::interval`,
		grace.String())
	if err != nil {
		return 0, &aqmerrors.ServerDatabaseError{Op: "hard_delete_fetched", Err: err}
	}
	deleted := int(tag.RowsAffected())
	s.logger.Debug().Int("deleted", deleted).Msg("hard-deleted fetched coins")
	return deleted, nil
}
