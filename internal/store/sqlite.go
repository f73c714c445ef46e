package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
	// latest caches the newest quote per token.
	latest map[string]models.SpotQuote
}

// NewSQLiteStore creates a new SQLite-based data store, creating the parent
// directory of dbPath when needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:     db,
		latest: make(map[string]models.SpotQuote),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Spot quotes observed from price providers
	CREATE TABLE IF NOT EXISTS quotes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL,
		price REAL NOT NULL,
		source TEXT NOT NULL,
		fetched_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_quotes_token_time ON quotes(token, fetched_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Quote Methods
// ============================================================================

// SaveQuote records a quote.
func (s *SQLiteStore) SaveQuote(ctx context.Context, quote models.SpotQuote) error {
	quote.Token = strings.ToUpper(quote.Token)
	quote.FetchedAt = quote.FetchedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (token, price, source, fetched_at)
		VALUES (?, ?, ?, ?)
	`, quote.Token, quote.Price, quote.Source, quote.FetchedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to insert quote: %v", apperrors.ErrDatabaseError, err)
	}

	s.mu.Lock()
	if prev, ok := s.latest[quote.Token]; !ok || !quote.FetchedAt.Before(prev.FetchedAt) {
		s.latest[quote.Token] = quote
	}
	s.mu.Unlock()

	return nil
}

// LatestQuote returns the newest quote for token, or ErrDataNotFound.
func (s *SQLiteStore) LatestQuote(ctx context.Context, token string) (*models.SpotQuote, error) {
	token = strings.ToUpper(token)

	s.mu.RLock()
	if q, ok := s.latest[token]; ok {
		s.mu.RUnlock()
		return &q, nil
	}
	s.mu.RUnlock()

	var q models.SpotQuote
	err := s.db.QueryRowContext(ctx, `
		SELECT token, price, source, fetched_at
		FROM quotes
		WHERE token = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, token).Scan(&q.Token, &q.Price, &q.Source, &q.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no quote for %s", apperrors.ErrDataNotFound, token)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query quote: %v", apperrors.ErrDatabaseError, err)
	}

	s.mu.Lock()
	s.latest[token] = q
	s.mu.Unlock()

	return &q, nil
}

// QuoteHistory returns quotes oldest first.
func (s *SQLiteStore) QuoteHistory(ctx context.Context, filter QuoteFilter) ([]models.SpotQuote, error) {
	query := `SELECT token, price, source, fetched_at FROM quotes WHERE 1=1`
	var args []interface{}

	if filter.Token != "" {
		query += ` AND token = ?`
		args = append(args, strings.ToUpper(filter.Token))
	}
	if !filter.StartDate.IsZero() {
		query += ` AND fetched_at >= ?`
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += ` AND fetched_at <= ?`
		args = append(args, filter.EndDate.UTC())
	}
	query += ` ORDER BY fetched_at ASC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query quotes: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var quotes []models.SpotQuote
	for rows.Next() {
		var q models.SpotQuote
		if err := rows.Scan(&q.Token, &q.Price, &q.Source, &q.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}

	return quotes, nil
}

// PruneQuotes deletes quotes fetched before the given time and returns how
// many were removed.
func (s *SQLiteStore) PruneQuotes(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE fetched_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to prune quotes: %v", apperrors.ErrDatabaseError, err)
	}

	s.mu.Lock()
	for token, q := range s.latest {
		if q.FetchedAt.Before(before) {
			delete(s.latest, token)
		}
	}
	s.mu.Unlock()

	return res.RowsAffected()
}
