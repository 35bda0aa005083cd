package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raghavao7/lossflip/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role, default_city)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, u.Name, u.Email, u.PasswordHash, u.Role, u.DefaultCity).Scan(
		&u.ID, &u.CreatedAt, &u.UpdatedAt,
	)
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, default_city, created_at, updated_at
		FROM users WHERE email = $1
	`, email))
}

// GetUserByID retrieves a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, default_city, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.DefaultCity, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

const listingColumns = `id, seller_id, seller_name, title, category, face_value, deal_price,
	description, escrow_required, stock, city, area, pincode, images, digital_secret,
	created_at, updated_at`

// CreateListing inserts a new listing.
func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO listings (id, seller_id, seller_name, title, category, face_value,
			deal_price, description, escrow_required, stock, city, area, pincode,
			images, digital_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, l.ID, l.Seller.ID, l.Seller.Name, l.Title, l.Category, l.FaceValue,
		l.DealPrice, l.Description, l.EscrowRequired, l.Stock,
		l.Location.City, l.Location.Area, l.Location.Pincode,
		l.Images, l.DigitalSecret, l.CreatedAt, l.UpdatedAt)
	return err
}

// GetListing retrieves a listing by id.
func (s *PostgresStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// ListListings retrieves recent listings, optionally filtered by location.
func (s *PostgresStore) ListListings(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE ($1 = '' OR city = $1) AND ($2 = '' OR pincode = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, f.City, f.Pincode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// GetListingSummaries loads the lightweight shape for a batch of ids.
func (s *PostgresStore) GetListingSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ListingSummary, error) {
	out := make(map[uuid.UUID]models.ListingSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, category, seller_id, seller_name
		FROM listings WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sum models.ListingSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Category, &sum.Seller.ID, &sum.Seller.Name); err != nil {
			return nil, err
		}
		out[sum.ID] = sum
	}
	return out, rows.Err()
}

// DecrementStock atomically subtracts qty from the stock counter, failing
// with ErrInsufficientStock when the guard would be violated. Returns the
// stock after the update.
func (s *PostgresStore) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error) {
	var stock int
	err := s.pool.QueryRow(ctx, `
		UPDATE listings
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
		RETURNING stock
	`, id, qty).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	// Distinguish missing listing from insufficient stock.
	var exists bool
	if qerr := s.pool.QueryRow(ctx, `SELECT TRUE FROM listings WHERE id = $1`, id).Scan(&exists); qerr != nil {
		if errors.Is(qerr, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, qerr
	}
	return 0, ErrInsufficientStock
}

// IncrementStock atomically adds amount to the stock counter.
func (s *PostgresStore) IncrementStock(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	var stock int
	err := s.pool.QueryRow(ctx, `
		UPDATE listings
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING stock
	`, id, amount).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return stock, nil
}

const orderColumns = `id, listing_id, seller_id, seller_name, buyer_id, buyer_name,
	amount, quantity, buyer_fee, seller_fee, state, dispute_reason, dispute_proofs,
	delivery_payload, delivered_at, created_at, updated_at`

// CreateOrder inserts a new order.
func (s *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, listing_id, seller_id, seller_name, buyer_id, buyer_name,
			amount, quantity, buyer_fee, seller_fee, state, dispute_reason, dispute_proofs,
			delivery_payload, delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, o.ID, o.ListingID, o.Seller.ID, o.Seller.Name, o.Buyer.ID, o.Buyer.Name,
		o.Amount, o.Quantity, o.Fees.BuyerFee, o.Fees.SellerFee, o.State,
		o.Dispute.Reason, o.Dispute.Proofs, o.Delivery.Payload, o.Delivery.DeliveredAt,
		o.CreatedAt, o.UpdatedAt)
	return err
}

// GetOrder retrieves an order by id.
func (s *PostgresStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// FindInitiatedOrder finds the buyer's open thread against a listing, if any.
func (s *PostgresStore) FindInitiatedOrder(ctx context.Context, listingID uuid.UUID, buyerID string) (*models.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE listing_id = $1 AND buyer_id = $2 AND state = 'initiated'
	`, listingID, buyerID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// UpdateOrder persists the mutable order fields.
func (s *PostgresStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET amount = $2, quantity = $3, buyer_fee = $4, seller_fee = $5, state = $6,
			dispute_reason = $7, dispute_proofs = $8, delivery_payload = $9,
			delivered_at = $10, updated_at = $11
		WHERE id = $1
	`, o.ID, o.Amount, o.Quantity, o.Fees.BuyerFee, o.Fees.SellerFee, o.State,
		o.Dispute.Reason, o.Dispute.Proofs, o.Delivery.Payload, o.Delivery.DeliveredAt,
		o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrdersByParty retrieves orders where the user is buyer or seller,
// most recently updated first.
func (s *PostgresStore) ListOrdersByParty(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOrders retrieves orders for admin views, optionally filtered by state.
func (s *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR state = $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, string(f.State), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// CountListings returns the total listing count.
func (s *PostgresStore) CountListings(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n)
	return n, err
}

// CountActiveListings returns the count of listings with stock remaining.
func (s *PostgresStore) CountActiveListings(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE stock > 0`).Scan(&n)
	return n, err
}

// CountOrders returns the total order count.
func (s *PostgresStore) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

// CountOrdersByState returns order counts bucketed by state.
func (s *PostgresStore) CountOrdersByState(ctx context.Context) ([]StateCount, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM orders GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StateCount
	for rows.Next() {
		var c StateCount
		if err := rows.Scan(&c.State, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	l := &models.Listing{}
	err := row.Scan(
		&l.ID, &l.Seller.ID, &l.Seller.Name, &l.Title, &l.Category,
		&l.FaceValue, &l.DealPrice, &l.Description, &l.EscrowRequired, &l.Stock,
		&l.Location.City, &l.Location.Area, &l.Location.Pincode,
		&l.Images, &l.DigitalSecret, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID, &o.ListingID, &o.Seller.ID, &o.Seller.Name, &o.Buyer.ID, &o.Buyer.Name,
		&o.Amount, &o.Quantity, &o.Fees.BuyerFee, &o.Fees.SellerFee, &o.State,
		&o.Dispute.Reason, &o.Dispute.Proofs, &o.Delivery.Payload, &o.Delivery.DeliveredAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
