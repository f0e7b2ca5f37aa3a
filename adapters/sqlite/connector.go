// Package sqlite is a journal connector on a local SQLite database. It suits
// single-process deployments and tools; every write goes through one
// connection.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/codewandler/eventum-go/core/es"
)

//go:embed schema.sql
var schemaSQL string

type Config struct {
	Path string
	Log  *slog.Logger
	Now  func() time.Time
}

type Connector struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Open creates or opens the database at cfg.Path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, cfg Config) (*Connector, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	// one writer at a time; this also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: connect %s: %w", cfg.Path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Connector{
		db:  db,
		log: log.With(slog.String("connector", "sqlite"), slog.String("path", cfg.Path)),
		now: now,
	}, nil
}

func (c *Connector) Close() error { return c.db.Close() }

func (c *Connector) GetJournal(ctx context.Context, aggregateID string) (*es.Journal, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	j := &es.Journal{AggregateID: aggregateID}

	var (
		snap    es.Snapshot
		payload []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT snapshot_id, sequence, payload FROM snapshots
		 WHERE aggregate_id = ? ORDER BY sequence DESC LIMIT 1`,
		aggregateID,
	).Scan(&snap.SnapshotID, &snap.Sequence, &payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load snapshot of %s: %w", aggregateID, err)
	default:
		snap.AggregateID = aggregateID
		snap.Payload = payload
		j.Snapshot = &snap
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT event_id, event_type, sequence, occurred_at, payload FROM events
		 WHERE aggregate_id = ? AND sequence > ? ORDER BY sequence`,
		aggregateID, j.LastSequence().Uint64(),
	)
	if err != nil {
		return nil, fmt.Errorf("load events of %s: %w", aggregateID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          = es.Event{AggregateID: aggregateID}
			occurredAt string
			payload    []byte
		)
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Sequence, &occurredAt, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.EventID, err)
		}
		j.Events = append(j.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if j.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", es.ErrJournalNotFound, aggregateID)
	}
	return j, nil
}

func (c *Connector) SaveEvents(ctx context.Context, inputs []es.EventInput) ([]es.Event, error) {
	aggregateID, err := es.ValidateEventInputs(inputs)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var last es.Sequence
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&last); err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (aggregate_id, sequence, event_id, event_type, occurred_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := c.now().UTC()
	events := make([]es.Event, 0, len(inputs))
	for i, in := range inputs {
		e := es.Event{
			EventID:     gonanoid.Must(),
			EventType:   in.EventType,
			AggregateID: aggregateID,
			Sequence:    last + es.Sequence(i+1),
			OccurredAt:  now,
			Payload:     in.Payload,
		}
		if _, err := stmt.ExecContext(ctx,
			e.AggregateID, e.Sequence.Uint64(), e.EventID, e.EventType,
			e.OccurredAt.Format(time.RFC3339Nano), []byte(e.Payload),
		); err != nil {
			if isConstraint(err) {
				return nil, fmt.Errorf("%w: %s at sequence %d", es.ErrConcurrencyConflict, aggregateID, e.Sequence)
			}
			return nil, err
		}
		events = append(events, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	c.log.Debug(
		"saved events",
		slog.String("aggregate_id", aggregateID),
		slog.Int("count", len(events)),
		events[len(events)-1].Sequence.SlogAttrWithKey("last_seq"),
	)
	return events, nil
}

func (c *Connector) SaveSnapshot(ctx context.Context, input es.SnapshotInput) error {
	if err := input.Validate(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var last es.Sequence
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?`,
		input.AggregateID,
	).Scan(&last); err != nil {
		return err
	}
	if input.Sequence > last {
		return fmt.Errorf("snapshot of %s at %d is ahead of the journal at %d", input.AggregateID, input.Sequence, last)
	}

	// a repeated snapshot replaces the previous one at the same sequence
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, sequence, snapshot_id, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT (aggregate_id, sequence) DO UPDATE SET snapshot_id = excluded.snapshot_id, payload = excluded.payload`,
		input.AggregateID, input.Sequence.Uint64(), gonanoid.Must(), []byte(input.Payload),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

var (
	_ es.JournalConnector = (*Connector)(nil)
	_ es.Closer           = (*Connector)(nil)
)
