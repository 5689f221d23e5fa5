// SPDX-License-Identifier: MIT

// Package queue implements the edge uplink engine's durable on-disk FIFO: a
// SQLite-backed store that survives process restarts and network outages,
// bounded by both a byte cap and a count cap, dropping the oldest batch
// first once either cap is exceeded.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/waystellar/racecloud/internal/metrics"
	"github.com/waystellar/racecloud/internal/persistence/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_batches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source      TEXT NOT NULL,
	payload     BLOB NOT NULL,
	byte_size   INTEGER NOT NULL,
	enqueued_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_batches_source_id ON queue_batches(source, id);
`

// Limits bounds a Queue's resident size. Zero fields mean unbounded.
type Limits struct {
	MaxBytes int64
	MaxCount int64
}

// DefaultLimits matches the edge uplink engine's default spool cap: 64MB or
// 10,000 batches, whichever is hit first.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes: 64 * 1024 * 1024,
		MaxCount: 10000,
	}
}

// Batch is a single durable queue entry.
type Batch struct {
	ID           int64
	Source       string
	Payload      []byte
	EnqueuedAtMs int64
}

// Queue is a durable, crash-safe FIFO spool backed by SQLite in WAL mode.
type Queue struct {
	db     *sql.DB
	limits Limits
}

// Open opens (creating if necessary) the durable queue database at path.
func Open(path string, limits Limits) (*Queue, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("queue: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}

	q := &Queue{db: db, limits: limits}
	if err := q.refreshGauges(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue durably appends payload for source, then enforces the configured
// byte and count caps by dropping the oldest batches (across all sources)
// until the queue is back within bounds.
func (q *Queue) Enqueue(ctx context.Context, source string, payload []byte) error {
	now := time.Now().UnixMilli()

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_batches (source, payload, byte_size, enqueued_at_ms) VALUES (?, ?, ?, ?)`,
		source, payload, len(payload), now,
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}

	metrics.QueueEnqueued.WithLabelValues(source).Inc()

	if err := q.enforceCaps(ctx); err != nil {
		return err
	}
	return q.refreshGauges(ctx)
}

// enforceCaps drops the globally-oldest batches until both caps are
// satisfied. Callers that care which source lost a batch should inspect
// QueueDropped metrics; the spool does not distinguish source priority.
func (q *Queue) enforceCaps(ctx context.Context) error {
	for {
		var count, totalBytes int64
		row := q.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(byte_size), 0) FROM queue_batches`)
		if err := row.Scan(&count, &totalBytes); err != nil {
			return fmt.Errorf("queue: stat: %w", err)
		}

		overCount := q.limits.MaxCount > 0 && count > q.limits.MaxCount
		overBytes := q.limits.MaxBytes > 0 && totalBytes > q.limits.MaxBytes
		if !overCount && !overBytes {
			return nil
		}

		var id int64
		var source string
		row = q.db.QueryRowContext(ctx, `SELECT id, source FROM queue_batches ORDER BY id ASC LIMIT 1`)
		if err := row.Scan(&id, &source); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("queue: find oldest: %w", err)
		}

		reason := "byte_cap"
		if overCount {
			reason = "count_cap"
		}

		if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_batches WHERE id = ?`, id); err != nil {
			return fmt.Errorf("queue: drop oldest: %w", err)
		}
		metrics.QueueDropped.WithLabelValues(source, reason).Inc()
	}
}

// Peek returns the oldest undelivered batch for source without removing it,
// ok=false if the source's queue is empty.
func (q *Queue) Peek(ctx context.Context, source string) (Batch, bool, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, source, payload, enqueued_at_ms FROM queue_batches WHERE source = ? ORDER BY id ASC LIMIT 1`,
		source,
	)

	var b Batch
	if err := row.Scan(&b.ID, &b.Source, &b.Payload, &b.EnqueuedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return Batch{}, false, nil
		}
		return Batch{}, false, fmt.Errorf("queue: peek: %w", err)
	}
	return b, true, nil
}

// Ack permanently removes a successfully-uploaded batch from the spool.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM queue_batches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		metrics.QueueDequeued.WithLabelValues("").Inc()
	}
	return q.refreshGauges(ctx)
}

// Depth returns the current number of resident batches for source.
func (q *Queue) Depth(ctx context.Context, source string) (int64, error) {
	var n int64
	row := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_batches WHERE source = ?`, source)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}

func (q *Queue) refreshGauges(ctx context.Context) error {
	rows, err := q.db.QueryContext(ctx, `SELECT source, COUNT(*), COALESCE(SUM(byte_size), 0) FROM queue_batches GROUP BY source`)
	if err != nil {
		return fmt.Errorf("queue: refresh gauges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count, bytes int64
		if err := rows.Scan(&source, &count, &bytes); err != nil {
			return fmt.Errorf("queue: scan gauge row: %w", err)
		}
		metrics.QueueDepth.WithLabelValues(source).Set(float64(count))
		metrics.QueueBytes.WithLabelValues(source).Set(float64(bytes))
	}
	return rows.Err()
}
