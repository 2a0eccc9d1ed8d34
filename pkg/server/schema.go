package server

// Schema is the idempotent DDL applied by cmd/aqm-migrate before the coin
// inventory server accepts traffic: a unique (user_id, key_id) key, a partial
// index serving the unfetched-FIFO claim query, and a partial index serving
// the hard-delete-fetched sweep.
const Schema = `
CREATE TABLE IF NOT EXISTS coin_inventory (
	record_id       BIGSERIAL PRIMARY KEY,
	user_id         UUID NOT NULL,
	key_id          TEXT NOT NULL,
	coin_category   TEXT NOT NULL,
	public_key_blob BYTEA NOT NULL,
	signature_blob  BYTEA NOT NULL,
	uploaded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	fetched_by      UUID,
	fetched_at      TIMESTAMPTZ,
	UNIQUE (user_id, key_id)
);

CREATE INDEX IF NOT EXISTS coin_inventory_unfetched_idx
	ON coin_inventory (user_id, coin_category, uploaded_at)
	WHERE fetched_by IS NULL;

CREATE INDEX IF NOT EXISTS coin_inventory_fetched_idx
	ON coin_inventory (fetched_at)
	WHERE fetched_by IS NOT NULL;
`
