package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/raghavao7/lossflip/internal/models"
)

// SQLiteStore implements DataStore for single-node deployments without
// Postgres. Array fields are stored as JSON text, money as decimal text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/lossflip.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/lossflip.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		default_city TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		seller_name TEXT NOT NULL,
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		face_value TEXT NOT NULL DEFAULT '0',
		deal_price TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		escrow_required INTEGER NOT NULL DEFAULT 1,
		stock INTEGER NOT NULL DEFAULT 1 CHECK (stock >= 0),
		city TEXT NOT NULL DEFAULT '',
		area TEXT NOT NULL DEFAULT '',
		pincode TEXT NOT NULL DEFAULT '',
		images TEXT NOT NULL DEFAULT '[]',
		digital_secret TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings (id),
		seller_id TEXT NOT NULL,
		seller_name TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		buyer_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 1),
		buyer_fee TEXT NOT NULL DEFAULT '0',
		seller_fee TEXT NOT NULL DEFAULT '0',
		state TEXT NOT NULL DEFAULT 'initiated',
		dispute_reason TEXT NOT NULL DEFAULT '',
		dispute_proofs TEXT NOT NULL DEFAULT '[]',
		delivery_payload TEXT NOT NULL DEFAULT '',
		delivered_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_one_initiated
		ON orders (listing_id, buyer_id) WHERE state = 'initiated';
	CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id);
	CREATE INDEX IF NOT EXISTS idx_orders_seller ON orders (seller_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, default_city, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID.String(), u.Name, u.Email, u.PasswordHash, u.Role, u.DefaultCity, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, default_city, created_at, updated_at
		FROM users WHERE email = ?
	`, email))
}

// GetUserByID retrieves a user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, default_city, created_at, updated_at
		FROM users WHERE id = ?
	`, id.String()))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var id string
	err := row.Scan(&id, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.DefaultCity, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateListing inserts a new listing.
func (s *SQLiteStore) CreateListing(ctx context.Context, l *models.Listing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	images, err := json.Marshal(l.Images)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, seller_name, title, category, face_value,
			deal_price, description, escrow_required, stock, city, area, pincode,
			images, digital_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID.String(), l.Seller.ID, l.Seller.Name, l.Title, l.Category,
		l.FaceValue.String(), l.DealPrice.String(), l.Description, l.EscrowRequired,
		l.Stock, l.Location.City, l.Location.Area, l.Location.Pincode,
		string(images), l.DigitalSecret, l.CreatedAt, l.UpdatedAt)
	return err
}

const sqliteListingColumns = `id, seller_id, seller_name, title, category, face_value,
	deal_price, description, escrow_required, stock, city, area, pincode, images,
	digital_secret, created_at, updated_at`

// GetListing retrieves a listing by id.
func (s *SQLiteStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteListingColumns+` FROM listings WHERE id = ?`, id.String())
	l, err := scanSQLiteListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// ListListings retrieves recent listings, optionally filtered by location.
func (s *SQLiteStore) ListListings(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteListingColumns+`
		FROM listings
		WHERE (? = '' OR city = ?) AND (? = '' OR pincode = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, f.City, f.City, f.Pincode, f.Pincode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanSQLiteListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// GetListingSummaries loads the lightweight shape for a batch of ids.
func (s *SQLiteStore) GetListingSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ListingSummary, error) {
	out := make(map[uuid.UUID]models.ListingSummary, len(ids))
	for _, id := range ids {
		var sum models.ListingSummary
		var rawID string
		err := s.db.QueryRowContext(ctx, `
			SELECT id, title, category, seller_id, seller_name FROM listings WHERE id = ?
		`, id.String()).Scan(&rawID, &sum.Title, &sum.Category, &sum.Seller.ID, &sum.Seller.Name)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sum.ID = id
		out[id] = sum
	}
	return out, nil
}

// DecrementStock atomically subtracts qty from the stock counter.
func (s *SQLiteStore) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?
	`, qty, time.Now().UTC(), id.String(), qty)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		var exists bool
		qerr := s.db.QueryRowContext(ctx, `SELECT TRUE FROM listings WHERE id = ?`, id.String()).Scan(&exists)
		if errors.Is(qerr, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		if qerr != nil {
			return 0, qerr
		}
		return 0, ErrInsufficientStock
	}
	return s.currentStock(ctx, id)
}

// IncrementStock atomically adds amount to the stock counter.
func (s *SQLiteStore) IncrementStock(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings SET stock = stock + ?, updated_at = ? WHERE id = ?
	`, amount, time.Now().UTC(), id.String())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrNotFound
	}
	return s.currentStock(ctx, id)
}

func (s *SQLiteStore) currentStock(ctx context.Context, id uuid.UUID) (int, error) {
	var stock int
	err := s.db.QueryRowContext(ctx, `SELECT stock FROM listings WHERE id = ?`, id.String()).Scan(&stock)
	return stock, err
}

const sqliteOrderColumns = `id, listing_id, seller_id, seller_name, buyer_id, buyer_name,
	amount, quantity, buyer_fee, seller_fee, state, dispute_reason, dispute_proofs,
	delivery_payload, delivered_at, created_at, updated_at`

// CreateOrder inserts a new order.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *models.Order) error {
	proofs, err := json.Marshal(o.Dispute.Proofs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, listing_id, seller_id, seller_name, buyer_id, buyer_name,
			amount, quantity, buyer_fee, seller_fee, state, dispute_reason, dispute_proofs,
			delivery_payload, delivered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID.String(), o.ListingID.String(), o.Seller.ID, o.Seller.Name, o.Buyer.ID, o.Buyer.Name,
		o.Amount.String(), o.Quantity, o.Fees.BuyerFee.String(), o.Fees.SellerFee.String(),
		string(o.State), o.Dispute.Reason, string(proofs), o.Delivery.Payload,
		o.Delivery.DeliveredAt, o.CreatedAt, o.UpdatedAt)
	return err
}

// GetOrder retrieves an order by id.
func (s *SQLiteStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE id = ?`, id.String())
	o, err := scanSQLiteOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// FindInitiatedOrder finds the buyer's open thread against a listing, if any.
func (s *SQLiteStore) FindInitiatedOrder(ctx context.Context, listingID uuid.UUID, buyerID string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteOrderColumns+`
		FROM orders WHERE listing_id = ? AND buyer_id = ? AND state = 'initiated'
	`, listingID.String(), buyerID)
	o, err := scanSQLiteOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// UpdateOrder persists the mutable order fields.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	proofs, err := json.Marshal(o.Dispute.Proofs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET amount = ?, quantity = ?, buyer_fee = ?, seller_fee = ?, state = ?,
			dispute_reason = ?, dispute_proofs = ?, delivery_payload = ?,
			delivered_at = ?, updated_at = ?
		WHERE id = ?
	`, o.Amount.String(), o.Quantity, o.Fees.BuyerFee.String(), o.Fees.SellerFee.String(),
		string(o.State), o.Dispute.Reason, string(proofs), o.Delivery.Payload,
		o.Delivery.DeliveredAt, o.UpdatedAt, o.ID.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrdersByParty retrieves orders where the user is buyer or seller.
func (s *SQLiteStore) ListOrdersByParty(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteOrderColumns+`
		FROM orders WHERE buyer_id = ? OR seller_id = ?
		ORDER BY updated_at DESC LIMIT ?
	`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteOrders(rows)
}

// ListOrders retrieves orders for admin views, optionally filtered by state.
func (s *SQLiteStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteOrderColumns+`
		FROM orders WHERE (? = '' OR state = ?)
		ORDER BY updated_at DESC LIMIT ?
	`, string(f.State), string(f.State), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteOrders(rows)
}

// CountListings returns the total listing count.
func (s *SQLiteStore) CountListings(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n)
	return n, err
}

// CountActiveListings returns the count of listings with stock remaining.
func (s *SQLiteStore) CountActiveListings(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE stock > 0`).Scan(&n)
	return n, err
}

// CountOrders returns the total order count.
func (s *SQLiteStore) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

// CountOrdersByState returns order counts bucketed by state.
func (s *SQLiteStore) CountOrdersByState(ctx context.Context) ([]StateCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM orders GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StateCount
	for rows.Next() {
		var c StateCount
		var state string
		if err := rows.Scan(&state, &c.Count); err != nil {
			return nil, err
		}
		c.State = models.OrderState(state)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func scanSQLiteListing(row sqliteScanner) (*models.Listing, error) {
	l := &models.Listing{}
	var id, faceValue, dealPrice, images string
	err := row.Scan(
		&id, &l.Seller.ID, &l.Seller.Name, &l.Title, &l.Category, &faceValue,
		&dealPrice, &l.Description, &l.EscrowRequired, &l.Stock,
		&l.Location.City, &l.Location.Area, &l.Location.Pincode,
		&images, &l.DigitalSecret, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if l.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if l.FaceValue, err = decimalFromString(faceValue); err != nil {
		return nil, err
	}
	if l.DealPrice, err = decimalFromString(dealPrice); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(images), &l.Images); err != nil {
		return nil, err
	}
	return l, nil
}

func scanSQLiteOrder(row sqliteScanner) (*models.Order, error) {
	o := &models.Order{}
	var id, listingID, amount, buyerFee, sellerFee, state, proofs string
	err := row.Scan(
		&id, &listingID, &o.Seller.ID, &o.Seller.Name, &o.Buyer.ID, &o.Buyer.Name,
		&amount, &o.Quantity, &buyerFee, &sellerFee, &state,
		&o.Dispute.Reason, &proofs, &o.Delivery.Payload, &o.Delivery.DeliveredAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if o.ListingID, err = uuid.Parse(listingID); err != nil {
		return nil, err
	}
	if o.Amount, err = decimalFromString(amount); err != nil {
		return nil, err
	}
	if o.Fees.BuyerFee, err = decimalFromString(buyerFee); err != nil {
		return nil, err
	}
	if o.Fees.SellerFee, err = decimalFromString(sellerFee); err != nil {
		return nil, err
	}
	o.State = models.OrderState(state)
	if err := json.Unmarshal([]byte(proofs), &o.Dispute.Proofs); err != nil {
		return nil, err
	}
	return o, nil
}

func collectSQLiteOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
