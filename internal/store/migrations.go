package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// schema is applied idempotently at startup. The partial unique index on
// orders enforces at most one initiated thread per (listing, buyer).
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'user',
	default_city TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listings (
	id UUID PRIMARY KEY,
	seller_id TEXT NOT NULL,
	seller_name TEXT NOT NULL,
	title TEXT NOT NULL,
	category TEXT NOT NULL,
	face_value NUMERIC NOT NULL DEFAULT 0,
	deal_price NUMERIC NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	escrow_required BOOLEAN NOT NULL DEFAULT TRUE,
	stock INTEGER NOT NULL DEFAULT 1 CHECK (stock >= 0),
	city TEXT NOT NULL DEFAULT '',
	area TEXT NOT NULL DEFAULT '',
	pincode TEXT NOT NULL DEFAULT '',
	images TEXT[] NOT NULL DEFAULT '{}',
	digital_secret TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_listings_city ON listings (city);
CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings (seller_id);

CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	listing_id UUID NOT NULL REFERENCES listings (id),
	seller_id TEXT NOT NULL,
	seller_name TEXT NOT NULL,
	buyer_id TEXT NOT NULL,
	buyer_name TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 1),
	buyer_fee NUMERIC NOT NULL DEFAULT 0,
	seller_fee NUMERIC NOT NULL DEFAULT 0,
	state TEXT NOT NULL DEFAULT 'initiated',
	dispute_reason TEXT NOT NULL DEFAULT '',
	dispute_proofs TEXT[] NOT NULL DEFAULT '{}',
	delivery_payload TEXT NOT NULL DEFAULT '',
	delivered_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_one_initiated
	ON orders (listing_id, buyer_id) WHERE state = 'initiated';
CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_seller ON orders (seller_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_state ON orders (state);
`

// RunMigrations creates the schema on the target database.
func RunMigrations(databaseURL string) error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, schema)
	return err
}
