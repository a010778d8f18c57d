package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store abstracts persistence for API key records.
type Store interface {
	// InsertAndSupersede inserts rec and, when supersede is true, deactivates
	// every other active key in the same transaction. The insert is committed
	// before the deactivation becomes visible, so a concurrent reader never
	// observes zero active keys.
	InsertAndSupersede(ctx context.Context, rec *Record, supersede bool) error

	// Get returns the record with the given id.
	Get(ctx context.Context, id string) (*Record, error)

	// FindValid returns the record matching key that is active and unexpired
	// at now, or ErrNotFound.
	FindValid(ctx context.Context, key string, now time.Time) (*Record, error)

	// CurrentActive returns the most recently created active, unexpired
	// record, or ErrNoActiveKey.
	CurrentActive(ctx context.Context, now time.Time) (*Record, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]*Record, error)

	// Deactivate sets is_active=false on the record with the given id.
	Deactivate(ctx context.Context, id string, now time.Time) error

	// DeactivateAllExcept deactivates every active record except keepID.
	DeactivateAllExcept(ctx context.Context, keepID string, now time.Time) (int64, error)

	// DeleteExpired removes records with expires_at <= now, active or not.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteInactiveBefore removes inactive records whose last update is
	// older than cutoff, regardless of expiry.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CountExpiringWithin counts active records expiring in (now, now+window].
	CountExpiringWithin(ctx context.Context, now time.Time, window time.Duration) (int64, error)
}

// keyRow is the database representation of a Record. Timestamps are stored
// as unix seconds so SQL range comparisons are exact.
type keyRow struct {
	ID          string `db:"id"`
	Key         string `db:"key"`
	Description string `db:"description"`
	IsActive    bool   `db:"is_active"`
	ExpiresAt   int64  `db:"expires_at"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r *keyRow) toRecord() *Record {
	return &Record{
		ID:          r.ID,
		Key:         r.Key,
		Description: r.Description,
		IsActive:    r.IsActive,
		ExpiresAt:   time.Unix(r.ExpiresAt, 0).UTC(),
		CreatedAt:   time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:   time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

func toRow(rec *Record) *keyRow {
	return &keyRow{
		ID:          rec.ID,
		Key:         rec.Key,
		Description: rec.Description,
		IsActive:    rec.IsActive,
		ExpiresAt:   rec.ExpiresAt.Unix(),
		CreatedAt:   rec.CreatedAt.Unix(),
		UpdatedAt:   rec.UpdatedAt.Unix(),
	}
}

// SQLStore is the sqlx-backed Store implementation.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a store over an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// InsertAndSupersede inserts rec and optionally deactivates all other active
// keys in one transaction.
func (s *SQLStore) InsertAndSupersede(ctx context.Context, rec *Record, supersede bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := toRow(rec)
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO api_keys (id, key, description, is_active, expires_at, created_at, updated_at)
		VALUES (:id, :key, :description, :is_active, :expires_at, :created_at, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("insert key %s: %w", rec.ID, err)
	}

	if supersede {
		_, err = tx.ExecContext(ctx, `
			UPDATE api_keys SET is_active = 0, updated_at = ?
			WHERE is_active = 1 AND id <> ?`, row.UpdatedAt, rec.ID)
		if err != nil {
			return fmt.Errorf("supersede keys: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation tx: %w", err)
	}
	return nil
}

// Get returns the record with the given id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM api_keys WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", id, err)
	}
	return row.toRecord(), nil
}

// FindValid returns the active, unexpired record matching key.
func (s *SQLStore) FindValid(ctx context.Context, key string, now time.Time) (*Record, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM api_keys
		WHERE key = ? AND is_active = 1 AND expires_at > ?`, key, now.Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find valid key: %w", err)
	}
	return row.toRecord(), nil
}

// CurrentActive returns the newest active, unexpired record.
func (s *SQLStore) CurrentActive(ctx context.Context, now time.Time) (*Record, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM api_keys
		WHERE is_active = 1 AND expires_at > ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, now.Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveKey
	}
	if err != nil {
		return nil, fmt.Errorf("current active key: %w", err)
	}
	return row.toRecord(), nil
}

// List returns all records, newest first.
func (s *SQLStore) List(ctx context.Context) ([]*Record, error) {
	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	records := make([]*Record, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

// Deactivate sets is_active=false on a single record.
func (s *SQLStore) Deactivate(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0, updated_at = ? WHERE id = ?`, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("deactivate key %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate key %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAllExcept deactivates every active record except keepID.
func (s *SQLStore) DeactivateAllExcept(ctx context.Context, keepID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0, updated_at = ?
		WHERE is_active = 1 AND id <> ?`, now.Unix(), keepID)
	if err != nil {
		return 0, fmt.Errorf("deactivate superseded keys: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes expired records.
func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired keys: %w", err)
	}
	return res.RowsAffected()
}

// DeleteInactiveBefore removes long-inactive records.
func (s *SQLStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM api_keys WHERE is_active = 0 AND updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete stale inactive keys: %w", err)
	}
	return res.RowsAffected()
}

// CountExpiringWithin counts active records expiring within the window.
func (s *SQLStore) CountExpiringWithin(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM api_keys
		WHERE is_active = 1 AND expires_at > ? AND expires_at <= ?`,
		now.Unix(), now.Add(window).Unix())
	if err != nil {
		return 0, fmt.Errorf("count expiring keys: %w", err)
	}
	return count, nil
}

// Ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)
