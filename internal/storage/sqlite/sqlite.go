// Package sqlite implements the table store over a local SQLite file.
// It serves as the fallback when the spreadsheet backend is down and
// as the data source for admin exports.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"okoshko/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// Store wraps the connection pool.
type Store struct {
	db     *sql.DB
	logger *zerolog.Logger
}

// New opens (and if needed creates) the database file.
func New(path string, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("sqlite store initialized")
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		// The availability map is stored wholesale, mirroring the
		// spreadsheet's single-cell JSON blob.
		`CREATE TABLE IF NOT EXISTS slots (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			type TEXT NOT NULL,
			city TEXT NOT NULL,
			slot TEXT NOT NULL,
			full_name TEXT NOT NULL,
			phone TEXT NOT NULL,
			external_id TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_external ON bookings(external_id, status)`,
		`CREATE TABLE IF NOT EXISTS clients (
			external_id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			phone TEXT NOT NULL,
			city TEXT,
			last_sync DATETIME NOT NULL,
			variables_json TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) LoadSlots(ctx context.Context) (models.AvailabilityMap, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM slots WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AvailabilityMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	m := models.AvailabilityMap{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		s.logger.Warn().Err(err).Msg("slots blob is not valid JSON")
		return models.AvailabilityMap{}, nil
	}
	return m, nil
}

func (s *Store) SaveSlots(ctx context.Context, m models.AvailabilityMap) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO slots (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data))
	if err != nil {
		return fmt.Errorf("save slots: %w", err)
	}
	return nil
}

func (s *Store) AppendBooking(ctx context.Context, b *models.Booking) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (id, created_at, type, city, slot, full_name, phone, external_id, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CreatedAt, string(b.Type), b.City, b.Slot, b.FullName, b.Phone, b.ExternalID, string(b.Status))
	if err != nil {
		return fmt.Errorf("append booking: %w", err)
	}
	return nil
}

func (s *Store) CancelLatestActive(ctx context.Context, externalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = ? WHERE id = (
			SELECT id FROM bookings
			WHERE external_id = ? AND status = ?
			ORDER BY created_at DESC LIMIT 1
		)`,
		string(models.StatusCancelled), externalID, string(models.StatusActive))
	if err != nil {
		return false, fmt.Errorf("cancel booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ActiveBooking(ctx context.Context, externalID string) (*models.ActiveBooking, error) {
	var ab models.ActiveBooking
	err := s.db.QueryRowContext(ctx,
		`SELECT type, city, slot FROM bookings
		 WHERE external_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		externalID, string(models.StatusActive)).Scan(&ab.Type, &ab.City, &ab.Slot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active booking: %w", err)
	}
	return &ab, nil
}

func (s *Store) ListBookings(ctx context.Context) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, type, city, slot, full_name, phone, external_id, status
		 FROM bookings ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		var b models.Booking
		var typ, status string
		if err := rows.Scan(&b.ID, &b.CreatedAt, &typ, &b.City, &b.Slot, &b.FullName, &b.Phone, &b.ExternalID, &status); err != nil {
			return nil, err
		}
		b.Type = models.SessionType(typ)
		b.Status = models.BookingStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetClient(ctx context.Context, externalID string) (*models.Client, error) {
	var c models.Client
	var vars string
	err := s.db.QueryRowContext(ctx,
		`SELECT external_id, full_name, phone, city, last_sync, variables_json
		 FROM clients WHERE external_id = ?`, externalID).
		Scan(&c.ExternalID, &c.FullName, &c.Phone, &c.City, &c.LastSync, &vars)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}
	c.Variables = map[string]any{}
	if vars != "" {
		_ = json.Unmarshal([]byte(vars), &c.Variables)
	}
	return &c, nil
}

func (s *Store) UpsertClient(ctx context.Context, c *models.Client) error {
	lastSync := c.LastSync
	if lastSync.IsZero() {
		lastSync = time.Now()
	}
	// variables_json is only set on first insert; the messaging platform
	// owns that column afterwards.
	vars := "{}"
	if len(c.Variables) > 0 {
		if data, err := json.Marshal(c.Variables); err == nil {
			vars = string(data)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (external_id, full_name, phone, city, last_sync, variables_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			full_name = excluded.full_name,
			phone = excluded.phone,
			city = excluded.city,
			last_sync = excluded.last_sync`,
		c.ExternalID, c.FullName, c.Phone, c.City, lastSync, vars)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
