// Package storage provides SQL persistence for current prices, price history and the sweep log.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/casewatch/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage wraps a SQL database for all persistence operations.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens the database and creates missing tables.
// For sqlite an empty dsn defaults to $TMPDIR/casewatch/data.db.
func New(driver, dsn string) (*Storage, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = filepath.Join(os.TempDir(), "casewatch", "data.db")
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres dsn is required")
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	} else if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := NewFromDB(db, driver)
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// NewFromDB wraps an already opened database without touching the schema.
func NewFromDB(db *sql.DB, driver string) *Storage {
	return &Storage{db: db, driver: driver}
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS current_prices (
			item        TEXT PRIMARY KEY,
			price       TEXT NOT NULL,
			observed_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id          TEXT PRIMARY KEY,
			item        TEXT NOT NULL,
			price       TEXT NOT NULL,
			observed_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_item ON price_history(item, observed_at)`,
		`CREATE TABLE IF NOT EXISTS sweeps (
			id           TEXT PRIMARY KEY,
			started_at   BIGINT NOT NULL,
			completed_at BIGINT NOT NULL,
			updated      INTEGER NOT NULL,
			skipped      INTEGER NOT NULL,
			requests     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sweeps_completed_at ON sweeps(completed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	selectCurrentPrice = `SELECT price FROM current_prices WHERE item = ?`
	upsertCurrentPrice = `
		INSERT INTO current_prices (item, price, observed_at) VALUES (?, ?, ?)
		ON CONFLICT (item) DO UPDATE SET price = excluded.price, observed_at = excluded.observed_at`
	insertHistory = `INSERT INTO price_history (id, item, price, observed_at) VALUES (?, ?, ?, ?)`
)

// RecordObservation reconciles one observation in a single transaction: it reads the
// item's current price, overwrites it, and appends a history row. It returns the
// price that was current before the call, or nil for an item's first observation.
// On any error nothing is written.
func (s *Storage) RecordObservation(ctx context.Context, obs models.Observation) (*decimal.Decimal, error) {
	if err := obs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous *decimal.Decimal
	var prev decimal.Decimal
	err = tx.QueryRowContext(ctx, s.rebind(selectCurrentPrice), obs.Item).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read current price: %w", err)
	default:
		previous = &prev
	}

	price := obs.Price.String()
	at := obs.ObservedAt.UnixNano()

	if _, err := tx.ExecContext(ctx, s.rebind(upsertCurrentPrice), obs.Item, price, at); err != nil {
		return nil, fmt.Errorf("failed to upsert current price: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(insertHistory), uuid.NewString(), obs.Item, price, at); err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit observation: %w", err)
	}
	return previous, nil
}

// CurrentSnapshot returns the latest price of every item.
func (s *Storage) CurrentSnapshot(ctx context.Context) (map[string]models.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item, price, observed_at FROM current_prices`)
	if err != nil {
		return nil, fmt.Errorf("failed to query current prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.PricePoint)
	for rows.Next() {
		item, p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan current price: %w", err)
		}
		out[item] = p
	}
	return out, rows.Err()
}

// HistorySnapshot returns every recorded observation grouped by item.
// Groups are returned in timestamp order, but callers should not rely on it.
func (s *Storage) HistorySnapshot(ctx context.Context) (map[string][]models.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item, price, observed_at FROM price_history ORDER BY item, observed_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.PricePoint)
	for rows.Next() {
		item, p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price history: %w", err)
		}
		out[item] = append(out[item], p)
	}
	return out, rows.Err()
}

// ItemHistory returns the observations of one item in insertion order.
func (s *Storage) ItemHistory(ctx context.Context, item string) ([]models.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT item, price, observed_at FROM price_history WHERE item = ? ORDER BY observed_at`), item)
	if err != nil {
		return nil, fmt.Errorf("failed to query item history: %w", err)
	}
	defer rows.Close()

	var out []models.PricePoint
	for rows.Next() {
		_, p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item history: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// NearestObservationTo returns the item's observation closest to target, ignoring
// anything observed after now. ok is false when the item has no eligible history.
// The caller supplies now so that target and the cut-off share one clock.
func (s *Storage) NearestObservationTo(ctx context.Context, item string, target, now time.Time) (models.PricePoint, bool, error) {
	history, err := s.ItemHistory(ctx, item)
	if err != nil {
		return models.PricePoint{}, false, err
	}
	p, ok := Nearest(history, target, now)
	return p, ok, nil
}

// RecordSweep appends a completed sweep to the sweep log.
func (s *Storage) RecordSweep(ctx context.Context, sum models.SweepSummary) error {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sweeps (id, started_at, completed_at, updated, skipped, requests)
		VALUES (?, ?, ?, ?, ?, ?)`),
		sum.ID, sum.StartedAt.UnixNano(), sum.CompletedAt.UnixNano(), sum.Updated, sum.Skipped, sum.Requests,
	)
	if err != nil {
		return fmt.Errorf("failed to record sweep: %w", err)
	}
	return nil
}

// LastSweep returns the most recently completed sweep, or nil if none finished yet.
func (s *Storage) LastSweep(ctx context.Context) (*models.SweepSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, updated, skipped, requests
		FROM sweeps ORDER BY completed_at DESC LIMIT 1`)

	var sum models.SweepSummary
	var startedNano, completedNano int64
	err := row.Scan(&sum.ID, &startedNano, &completedNano, &sum.Updated, &sum.Skipped, &sum.Requests)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last sweep: %w", err)
	}
	sum.StartedAt = time.Unix(0, startedNano)
	sum.CompletedAt = time.Unix(0, completedNano)
	return &sum, nil
}

func scanPoint(rows *sql.Rows) (string, models.PricePoint, error) {
	var item string
	var p models.PricePoint
	var observedNano int64
	if err := rows.Scan(&item, &p.Price, &observedNano); err != nil {
		return "", models.PricePoint{}, err
	}
	p.Timestamp = time.Unix(0, observedNano)
	return item, p, nil
}
