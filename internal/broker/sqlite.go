package broker

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gas/internal/logging"
	"gas/internal/sqlitedb"
)

//go:embed sqlite_schema.sql
var sqliteSchemaSQL string

var sqliteSchema = sqlitedb.Schema{Name: "broker", Version: 1, SQL: sqliteSchemaSQL}

// SQLite is a broker backed by a SQLite file shared by every stage process
// on one host.
type SQLite struct {
	db   *sqlitedb.DB
	opts Options
}

var _ Broker = (*SQLite)(nil)

// OpenSQLite opens or creates the broker database at path.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLite, error) {
	db, err := sqlitedb.Open(ctx, path, sqliteSchema)
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}
	return &SQLite{db: db, opts: opts}, nil
}

// Close closes the database handle.
func (b *SQLite) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLite) Publish(ctx context.Context, queue string, body []byte) (string, error) {
	now := time.Now()
	id := uuid.NewString()
	visibleAt := now.Add(b.opts.For(queue).Delay)
	if _, err := b.db.ExecRetry(ctx,
		`INSERT INTO broker_messages (id, queue, body, sent_at, visible_at) VALUES (?, ?, ?, ?, ?)`,
		id, queue, body, now.UnixMilli(), visibleAt.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("publish to %s: %w", queue, err)
	}
	return id, nil
}

func (b *SQLite) Receive(ctx context.Context, queue string, wait time.Duration) (*Delivery, error) {
	ctx = sqlitedb.EnsureContext(ctx)
	opts := b.opts.For(queue)
	return longPoll(ctx, wait, b.opts.pollInterval(), func() (*Delivery, error) {
		for {
			d, err := b.receiveOnce(ctx, queue, opts.Visibility)
			if err != nil || d == nil {
				return d, err
			}
			if !exceeded(opts, d.ReceiveCount) {
				return d, nil
			}
			if err := b.DeadLetter(ctx, d, redriveReason); err != nil {
				return nil, err
			}
			b.opts.logger().Warn("message redriven to dead letters",
				logging.String(logging.FieldQueue, queue),
				logging.String(logging.FieldMessageID, d.ID),
				logging.Int("receive_count", d.ReceiveCount),
			)
		}
	})
}

func (b *SQLite) receiveOnce(ctx context.Context, queue string, visibility time.Duration) (*Delivery, error) {
	now := time.Now()
	receipt := uuid.NewString()
	var (
		d      = Delivery{Queue: queue, Receipt: receipt}
		sentAt int64
	)
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return b.db.QueryRowContext(ctx,
			`UPDATE broker_messages
             SET visible_at = ?, receive_count = receive_count + 1, receipt = ?
             WHERE id = (
                 SELECT id FROM broker_messages
                 WHERE queue = ? AND visible_at <= ?
                 ORDER BY visible_at, sent_at
                 LIMIT 1
             )
             RETURNING id, body, sent_at, receive_count`,
			now.Add(visibility).UnixMilli(), receipt, queue, now.UnixMilli(),
		).Scan(&d.ID, &d.Body, &sentAt, &d.ReceiveCount)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queue, err)
	}
	d.SentAt = time.UnixMilli(sentAt)
	return &d, nil
}

func (b *SQLite) Extend(ctx context.Context, d *Delivery, visibility time.Duration) error {
	affected, err := b.db.ExecAffected(ctx,
		`UPDATE broker_messages SET visible_at = ? WHERE id = ? AND receipt = ?`,
		time.Now().Add(visibility).UnixMilli(), d.ID, d.Receipt,
	)
	if err != nil {
		return fmt.Errorf("extend %s: %w", d.ID, err)
	}
	if affected == 0 {
		return ErrStaleReceipt
	}
	return nil
}

func (b *SQLite) Ack(ctx context.Context, d *Delivery) error {
	if _, err := b.db.ExecRetry(ctx, `DELETE FROM broker_messages WHERE id = ?`, d.ID); err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return nil
}

func (b *SQLite) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	return b.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM broker_messages WHERE id = ?`, d.ID); err != nil {
			return fmt.Errorf("dead-letter %s: %w", d.ID, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO broker_dead_letters (id, queue, body, reason, receive_count, sent_at, failed_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Queue, d.Body, reason, d.ReceiveCount, d.SentAt.UnixMilli(), time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("dead-letter %s: %w", d.ID, err)
		}
		return nil
	})
}

func (b *SQLite) DeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetter, error) {
	query := `SELECT id, queue, body, reason, receive_count, sent_at, failed_at FROM broker_dead_letters`
	var args []any
	if queue != "" {
		query += ` WHERE queue = ?`
		args = append(args, queue)
	}
	query += ` ORDER BY failed_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(sqlitedb.EnsureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (b *SQLite) Replay(ctx context.Context, id string) (DeadLetter, error) {
	var dl DeadLetter
	err := b.db.InTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT id, queue, body, reason, receive_count, sent_at, failed_at FROM broker_dead_letters WHERE id = ?`, id)
		var err error
		dl, err = scanDeadLetter(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
		}
		if err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO broker_messages (id, queue, body, sent_at, visible_at) VALUES (?, ?, ?, ?, ?)`,
			dl.ID, dl.Queue, dl.Body, now, now,
		); err != nil {
			return fmt.Errorf("replay %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM broker_dead_letters WHERE id = ?`, id)
		return err
	})
	return dl, err
}

func (b *SQLite) Purge(ctx context.Context, queue string) (int, error) {
	affected, err := b.db.ExecAffected(ctx, `DELETE FROM broker_dead_letters WHERE queue = ?`, queue)
	if err != nil {
		return 0, fmt.Errorf("purge dead letters for %s: %w", queue, err)
	}
	return int(affected), nil
}

func (b *SQLite) Stats(ctx context.Context, queue string) (QueueStats, error) {
	stats := QueueStats{Queue: queue}
	err := b.db.QueryRowContext(sqlitedb.EnsureContext(ctx),
		`SELECT
             (SELECT COUNT(1) FROM broker_messages WHERE queue = ? AND visible_at <= ?),
             (SELECT COUNT(1) FROM broker_messages WHERE queue = ? AND visible_at > ?),
             (SELECT COUNT(1) FROM broker_dead_letters WHERE queue = ?)`,
		queue, time.Now().UnixMilli(), queue, time.Now().UnixMilli(), queue,
	).Scan(&stats.Visible, &stats.Hidden, &stats.DeadLetters)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats for %s: %w", queue, err)
	}
	return stats, nil
}

func scanDeadLetter(scanner interface{ Scan(dest ...any) error }) (DeadLetter, error) {
	var (
		dl               DeadLetter
		sentAt, failedAt int64
	)
	if err := scanner.Scan(&dl.ID, &dl.Queue, &dl.Body, &dl.Reason, &dl.ReceiveCount, &sentAt, &failedAt); err != nil {
		return DeadLetter{}, err
	}
	dl.SentAt = time.UnixMilli(sentAt)
	dl.FailedAt = time.UnixMilli(failedAt)
	return dl, nil
}
