package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no record exists for a source
// reference. A miss is the expected state for a newly observed incident.
var ErrNotFound = errors.New("ledger: record not found")

// Record correlates one Topdesk incident with one Jira issue. UpdatedAt is
// the watermark: the latest incident modification time whose activity has
// been fully replayed to Jira. Records are never deleted.
type Record struct {
	ID             int64     `db:"id"`
	SourceRef      string    `db:"source_reference"`
	SinkRef        string    `db:"sink_reference"`
	ClosedInSource bool      `db:"closed_in_source"`
	ClosedInSink   bool      `db:"closed_in_sink"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Ledger handles database operations for the items cross-reference table
type Ledger struct {
	db *sql.DB
}

// New creates a ledger backed by the given database
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id               BIGSERIAL PRIMARY KEY,
	source_reference TEXT NOT NULL UNIQUE,
	sink_reference   TEXT NOT NULL UNIQUE,
	closed_in_source BOOLEAN NOT NULL DEFAULT false,
	closed_in_sink   BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the items table if it does not exist yet
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// Get returns the record for a source reference, or ErrNotFound
func (l *Ledger) Get(ctx context.Context, sourceRef string) (*Record, error) {
	query := `
		SELECT id, source_reference, sink_reference, closed_in_source, closed_in_sink, created_at, updated_at
		FROM items
		WHERE source_reference = $1
	`

	rec := &Record{}
	err := l.db.QueryRowContext(ctx, query, sourceRef).Scan(
		&rec.ID,
		&rec.SourceRef,
		&rec.SinkRef,
		&rec.ClosedInSource,
		&rec.ClosedInSink,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger record %s: %w", sourceRef, err)
	}

	return rec, nil
}

// Create inserts a new record with the watermark as both created_at and
// updated_at. The unique constraints on source_reference and sink_reference
// reject duplicates.
func (l *Ledger) Create(ctx context.Context, sourceRef, sinkRef string, watermark time.Time) (*Record, error) {
	query := `
		INSERT INTO items (source_reference, sink_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`

	rec := &Record{
		SourceRef: sourceRef,
		SinkRef:   sinkRef,
		CreatedAt: watermark,
		UpdatedAt: watermark,
	}
	err := l.db.QueryRowContext(ctx, query, sourceRef, sinkRef, watermark).Scan(&rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger record %s -> %s: %w", sourceRef, sinkRef, err)
	}

	return rec, nil
}

// AdvanceWatermark moves updated_at forward. The watermark is monotone:
// a value at or before the stored one leaves the row untouched.
func (l *Ledger) AdvanceWatermark(ctx context.Context, sourceRef string, watermark time.Time) error {
	query := `
		UPDATE items
		SET updated_at = $2
		WHERE source_reference = $1 AND updated_at < $2
	`

	res, err := l.db.ExecContext(ctx, query, sourceRef, watermark)
	if err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", sourceRef, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %s: %w", sourceRef, err)
	}
	if n == 0 {
		// Either the record is missing or the watermark would move backwards
		if _, err := l.Get(ctx, sourceRef); err != nil {
			return err
		}
	}

	return nil
}

// CloseInSource flips closed_in_source, once. Closure is one-way.
func (l *Ledger) CloseInSource(ctx context.Context, sourceRef string) error {
	query := `
		UPDATE items
		SET closed_in_source = true
		WHERE source_reference = $1
	`

	res, err := l.db.ExecContext(ctx, query, sourceRef)
	if err != nil {
		return fmt.Errorf("failed to close record %s: %w", sourceRef, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %s: %w", sourceRef, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// ListOpen returns every record not yet closed in the source system
func (l *Ledger) ListOpen(ctx context.Context) ([]*Record, error) {
	query := `
		SELECT id, source_reference, sink_reference, closed_in_source, closed_in_sink, created_at, updated_at
		FROM items
		WHERE closed_in_source = false
		ORDER BY id ASC
	`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open ledger records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec := &Record{}
		err := rows.Scan(
			&rec.ID,
			&rec.SourceRef,
			&rec.SinkRef,
			&rec.ClosedInSource,
			&rec.ClosedInSink,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger records: %w", err)
	}

	return records, nil
}
