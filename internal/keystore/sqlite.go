package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/benaskins/credence/internal/service"
)

// SQLStore keeps records in a SQLite database. The writer connection is
// limited to one so writes are serialized by the database handle.
type SQLStore struct {
	writer    *sql.DB
	reader    *sql.DB
	validator Validator
}

// OpenSQLStore opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLStore(path string, v Validator) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	if err := runMigrations(writer); err != nil {
		writer.Close()
		return nil, err
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	return &SQLStore{writer: writer, reader: reader, validator: v}, nil
}

// Close closes both connections. Returns the first error encountered.
func (s *SQLStore) Close() error {
	var firstErr error
	if err := s.reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}

func (s *SQLStore) Get(ctx context.Context, userID string, svc service.ID) (Record, bool, error) {
	const query = `SELECT user_id, service, raw_value, created_at, last_validated_at, enabled
		FROM credentials WHERE user_id = ? AND service = ?`

	rec, err := scanRecord(s.reader.QueryRowContext(ctx, query, userID, string(svc)))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: get %s/%s: %w", ErrUnavailable, userID, svc, err)
	}
	return rec, true, nil
}

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	rec, err := prepare(s.validator, rec)
	if err != nil {
		return err
	}

	const query = `INSERT OR REPLACE INTO credentials
		(user_id, service, raw_value, created_at, last_validated_at, enabled)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.writer.ExecContext(ctx, query,
		rec.UserID, string(rec.Service), rec.RawValue,
		formatTime(rec.CreatedAt), formatNullTime(rec.LastValidatedAt), rec.Enabled)
	if err != nil {
		return fmt.Errorf("%w: put %s/%s: %w", ErrUnavailable, rec.UserID, rec.Service, err)
	}
	return nil
}

// Update reads and rewrites the row in one transaction on the writer
// connection. The UPDATE never inserts, so a row deleted concurrently by
// another process stays deleted.
func (s *SQLStore) Update(ctx context.Context, userID string, svc service.ID, fn func(*Record) bool) (bool, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: update %s/%s: %w", ErrUnavailable, userID, svc, err)
	}
	defer tx.Rollback()

	const selectQuery = `SELECT user_id, service, raw_value, created_at, last_validated_at, enabled
		FROM credentials WHERE user_id = ? AND service = ?`
	rec, err := scanRecord(tx.QueryRowContext(ctx, selectQuery, userID, string(svc)))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: update %s/%s: %w", ErrUnavailable, userID, svc, err)
	}

	next, changed, err := apply(s.validator, rec, fn)
	if err != nil || !changed {
		return true, err
	}

	const updateQuery = `UPDATE credentials
		SET raw_value = ?, created_at = ?, last_validated_at = ?, enabled = ?
		WHERE user_id = ? AND service = ?`
	res, err := tx.ExecContext(ctx, updateQuery,
		next.RawValue, formatTime(next.CreatedAt), formatNullTime(next.LastValidatedAt), next.Enabled,
		userID, string(svc))
	if err != nil {
		return false, fmt.Errorf("%w: update %s/%s: %w", ErrUnavailable, userID, svc, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: update %s/%s: %w", ErrUnavailable, userID, svc, err)
	}
	return true, nil
}

func (s *SQLStore) List(ctx context.Context, userID string) ([]Record, error) {
	const query = `SELECT user_id, service, raw_value, created_at, last_validated_at, enabled
		FROM credentials WHERE user_id = ? ORDER BY service`

	rows, err := s.reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrUnavailable, userID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan credential: %w", ErrUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate credentials: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, userID string, svc service.ID) (bool, error) {
	const query = `DELETE FROM credentials WHERE user_id = ? AND service = ?`
	res, err := s.writer.ExecContext(ctx, query, userID, string(svc))
	if err != nil {
		return false, fmt.Errorf("%w: delete %s/%s: %w", ErrUnavailable, userID, svc, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete %s/%s: %w", ErrUnavailable, userID, svc, err)
	}
	return n > 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec           Record
		svc           string
		createdAt     string
		lastValidated sql.NullString
	)
	if err := row.Scan(&rec.UserID, &svc, &rec.RawValue, &createdAt, &lastValidated, &rec.Enabled); err != nil {
		return Record{}, err
	}
	rec.Service = service.ID(svc)

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = t

	if lastValidated.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastValidated.String)
		if err != nil {
			return Record{}, fmt.Errorf("parse last_validated_at: %w", err)
		}
		rec.LastValidatedAt = &t
	}
	return rec, nil
}
