// Package storage persists orders and portfolios in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"stocklab_go/internal/domain"
)

// Store handles persistent storage of orders and portfolios in SQLite.
// It implements engine.Store.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// Orders are written whole as JSON next to the columns the scheduler
	// queries on; the payload is the source of truth on load.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_unix INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders table: %w", err)
	}
	if _, err = db.Exec("CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);"); err != nil {
		return nil, fmt.Errorf("failed to create orders index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS portfolios (
			user_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolios table: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveOrder upserts an order.
func (s *Store) SaveOrder(ctx context.Context, o *domain.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, status, created_unix, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, payload=excluded.payload`,
		o.ID, string(o.Status), o.CreatedUnixM, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", o.ID, err)
	}
	return nil
}

// LoadOrder retrieves one order by id.
func (s *Store) LoadOrder(ctx context.Context, id string) (*domain.Order, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM orders WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", id, err)
	}

	var o domain.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", id, err)
	}
	return &o, nil
}

// LoadOpenOrders returns every PENDING or QUEUED order, oldest first.
func (s *Store) LoadOpenOrders(ctx context.Context) ([]*domain.Order, error) {
	return s.queryOrders(ctx,
		"SELECT payload FROM orders WHERE status IN (?, ?) ORDER BY created_unix ASC",
		string(domain.StatusPending), string(domain.StatusQueued),
	)
}

// ListOrders returns every order, newest first.
func (s *Store) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return s.queryOrders(ctx, "SELECT payload FROM orders ORDER BY created_unix DESC")
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		var o domain.Order
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return orders, nil
}

// SavePortfolio upserts a portfolio, positions included, as one JSON payload.
func (s *Store) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio %s: %w", p.UserID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portfolios (user_id, payload) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET payload=excluded.payload`,
		p.UserID, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio %s: %w", p.UserID, err)
	}
	return nil
}

// LoadPortfolio retrieves a portfolio by user id. Returns sql.ErrNoRows
// wrapped when the user has never been saved.
func (s *Store) LoadPortfolio(ctx context.Context, userID string) (*domain.Portfolio, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM portfolios WHERE user_id = ?", userID).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %s: %w", userID, err)
	}

	var p domain.Portfolio
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal portfolio %s: %w", userID, err)
	}
	if p.Positions == nil {
		p.Positions = make(map[string]*domain.Position)
	}
	return &p, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
