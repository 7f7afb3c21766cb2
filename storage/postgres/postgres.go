// Package postgres provides a PostgreSQL implementation of the stripefire.Store
// interface. Records are stored as JSONB documents keyed by their natural IDs,
// with the columns queries actually filter on (stripe_id, status) lifted out.
// Merge semantics use the JSONB concatenation operator so partial writes
// behave like Firestore merge writes.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/stripefire/pkg/stripefire"
)

// Store implements stripefire.Store using PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store adapter
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the mirror tables when they do not exist yet.
// Deployments with their own migration tooling can skip it.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stripe_customers (
			uid        TEXT PRIMARY KEY,
			stripe_id  TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS stripe_customers_stripe_id_idx
			ON stripe_customers (stripe_id)`,
		`CREATE TABLE IF NOT EXISTS stripe_products (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS stripe_prices (
			id         TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS stripe_tax_rates (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS stripe_subscriptions (
			uid        TEXT NOT NULL,
			id         TEXT NOT NULL,
			status     TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (uid, id)
		)`,
		`CREATE TABLE IF NOT EXISTS stripe_invoices (
			uid             TEXT NOT NULL,
			id              TEXT NOT NULL,
			subscription_id TEXT NOT NULL,
			doc             JSONB NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (uid, id)
		)`,
		`CREATE TABLE IF NOT EXISTS stripe_payments (
			uid        TEXT NOT NULL,
			id         TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (uid, id)
		)`,
		`CREATE TABLE IF NOT EXISTS stripe_checkout_sessions (
			uid        TEXT NOT NULL,
			doc_id     TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (uid, doc_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// GetCustomer implements stripefire.Store
func (s *Store) GetCustomer(ctx context.Context, uid string) (*stripefire.Customer, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM stripe_customers WHERE uid = $1`, uid).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, stripefire.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	var c stripefire.Customer
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("failed to decode customer: %w", err)
	}
	c.UID = uid
	return &c, nil
}

// SetCustomer implements stripefire.Store
func (s *Store) SetCustomer(ctx context.Context, c *stripefire.Customer) error {
	if c == nil || c.UID == "" {
		return fmt.Errorf("invalid customer")
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode customer: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_customers (uid, stripe_id, doc, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (uid) DO UPDATE SET
				stripe_id = EXCLUDED.stripe_id,
				doc = stripe_customers.doc || EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		c.UID, c.StripeID, doc, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set customer: %w", err)
	}
	return nil
}

// FindCustomerUIDs implements stripefire.Store
func (s *Store) FindCustomerUIDs(ctx context.Context, stripeCustomerID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT uid FROM stripe_customers WHERE stripe_id = $1`, stripeCustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan customer row: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// DeleteCustomer implements stripefire.Store
func (s *Store) DeleteCustomer(ctx context.Context, uid string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM stripe_customers WHERE uid = $1`, uid); err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return nil
}

// SetProduct implements stripefire.Store
func (s *Store) SetProduct(ctx context.Context, p *stripefire.Product) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid product")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_products (id, doc, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				doc = stripe_products.doc || EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		p.ID, doc, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set product: %w", err)
	}
	return nil
}

// DeleteProduct implements stripefire.Store
func (s *Store) DeleteProduct(ctx context.Context, productID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM stripe_products WHERE id = $1`, productID); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// SetPrice implements stripefire.Store
func (s *Store) SetPrice(ctx context.Context, p *stripefire.Price) error {
	if p == nil || p.ID == "" || p.ProductID == "" {
		return fmt.Errorf("invalid price")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode price: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_prices (id, product_id, doc, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				product_id = EXCLUDED.product_id,
				doc = stripe_prices.doc || EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		p.ID, p.ProductID, doc, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set price: %w", err)
	}
	return nil
}

// DeletePrice implements stripefire.Store
func (s *Store) DeletePrice(ctx context.Context, productID, priceID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM stripe_prices WHERE id = $1 AND product_id = $2`,
		priceID, productID); err != nil {
		return fmt.Errorf("failed to delete price: %w", err)
	}
	return nil
}

// SetTaxRate implements stripefire.Store
func (s *Store) SetTaxRate(ctx context.Context, t *stripefire.TaxRate) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("invalid tax rate")
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode tax rate: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_tax_rates (id, doc, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				doc = stripe_tax_rates.doc || EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		t.ID, doc, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set tax rate: %w", err)
	}
	return nil
}

// GetSubscription implements stripefire.Store
func (s *Store) GetSubscription(ctx context.Context, uid, subscriptionID string) (*stripefire.Subscription, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM stripe_subscriptions WHERE uid = $1 AND id = $2`,
		uid, subscriptionID).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, stripefire.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var sub stripefire.Subscription
	if err := json.Unmarshal(doc, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return &sub, nil
}

// SetSubscription implements stripefire.Store
func (s *Store) SetSubscription(ctx context.Context, uid string, sub *stripefire.Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("invalid subscription")
	}
	doc, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	// Full overwrite, not a JSONB merge: the record is a rebuild and stale
	// fields must not survive.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_subscriptions (uid, id, status, doc, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (uid, id) DO UPDATE SET
				status = EXCLUDED.status,
				doc = EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		uid, sub.ID, sub.Status, doc, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// ListSubscriptions implements stripefire.Store
func (s *Store) ListSubscriptions(ctx context.Context, uid string) ([]*stripefire.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM stripe_subscriptions WHERE uid = $1`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*stripefire.Subscription
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		var sub stripefire.Subscription
		if err := json.Unmarshal(doc, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// MarkSubscriptionsCanceled implements stripefire.Store
func (s *Store) MarkSubscriptionsCanceled(ctx context.Context, uid string, endedAt time.Time) (int, error) {
	patch, err := json.Marshal(map[string]interface{}{
		"status":      "canceled",
		"canceled_at": endedAt,
		"ended_at":    endedAt,
		"updated_at":  endedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode cancellation patch: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE stripe_subscriptions
			SET status = 'canceled', doc = doc || $2::jsonb, updated_at = $3
			WHERE uid = $1 AND status IN ('trialing', 'active')`,
		uid, patch, endedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to mark subscriptions canceled: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SetInvoice implements stripefire.Store
func (s *Store) SetInvoice(ctx context.Context, uid string, inv *stripefire.Invoice) error {
	if inv == nil || inv.ID == "" || inv.SubscriptionID == "" {
		return fmt.Errorf("invalid invoice")
	}
	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_invoices (uid, id, subscription_id, doc, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (uid, id) DO UPDATE SET
				subscription_id = EXCLUDED.subscription_id,
				doc = stripe_invoices.doc || EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		uid, inv.ID, inv.SubscriptionID, doc, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set invoice: %w", err)
	}
	return nil
}

// SetPayment implements stripefire.Store
func (s *Store) SetPayment(ctx context.Context, uid string, p *stripefire.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid payment")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payment: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_payments (uid, id, doc, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (uid, id) DO UPDATE SET
				doc = stripe_payments.doc || EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		uid, p.ID, doc, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set payment: %w", err)
	}
	return nil
}

// UpdateCheckoutSession implements stripefire.Store
func (s *Store) UpdateCheckoutSession(ctx context.Context, uid, sessionDocID string, fields map[string]interface{}) error {
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode checkout session fields: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stripe_checkout_sessions (uid, doc_id, doc, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (uid, doc_id) DO UPDATE SET
				doc = stripe_checkout_sessions.doc || EXCLUDED.doc,
				updated_at = now()`,
		uid, sessionDocID, doc)
	if err != nil {
		return fmt.Errorf("failed to update checkout session: %w", err)
	}
	return nil
}
