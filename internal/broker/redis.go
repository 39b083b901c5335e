package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"gas/internal/logging"
)

const defaultKeyPrefix = "gas:"

// Redis is a broker backed by Redis. Each queue is a sorted set of message
// ids scored by the unix-millisecond time they become visible; message
// bodies live in one hash per message.
type Redis struct {
	client goredis.UniversalClient
	prefix string
	opts   Options
	owned  bool
}

var _ Broker = (*Redis)(nil)

// RedisOption configures the Redis backend.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces every key the broker writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis wraps an existing client. The caller owns the client lifecycle.
func NewRedis(client goredis.UniversalClient, opts Options, options ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultKeyPrefix, opts: opts}
	for _, o := range options {
		o(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int, opts Options, options ...RedisOption) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	r := NewRedis(client, opts, options...)
	r.owned = true
	return r, nil
}

// Close closes the client when the broker dialed it.
func (r *Redis) Close() error {
	if r == nil || !r.owned {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) queueKey(queue string) string { return r.prefix + "queue:" + queue }

func (r *Redis) messagePrefix() string { return r.prefix + "msg:" }

func (r *Redis) messageKey(id string) string { return r.messagePrefix() + id }

func (r *Redis) deadKey(id string) string { return r.prefix + "dead:" + id }

func (r *Redis) deadIndexKey(queue string) string { return r.prefix + "dlq:" + queue }

func (r *Redis) Publish(ctx context.Context, queue string, body []byte) (string, error) {
	now := time.Now()
	id := uuid.NewString()
	visibleAt := now.Add(r.opts.For(queue).Delay)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.messageKey(id),
		"queue", queue,
		"body", body,
		"sent_at", now.UnixMilli(),
		"receive_count", 0,
	)
	pipe.ZAdd(ctx, r.queueKey(queue), goredis.Z{Score: float64(visibleAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("publish to %s: %w", queue, err)
	}
	return id, nil
}

func (r *Redis) Receive(ctx context.Context, queue string, wait time.Duration) (*Delivery, error) {
	opts := r.opts.For(queue)
	return longPoll(ctx, wait, r.opts.pollInterval(), func() (*Delivery, error) {
		for {
			d, err := r.receiveOnce(ctx, queue, opts.Visibility)
			if err != nil || d == nil {
				return d, err
			}
			if !exceeded(opts, d.ReceiveCount) {
				return d, nil
			}
			if err := r.DeadLetter(ctx, d, redriveReason); err != nil {
				return nil, err
			}
			r.opts.logger().Warn("message redriven to dead letters",
				logging.String(logging.FieldQueue, queue),
				logging.String(logging.FieldMessageID, d.ID),
				logging.Int("receive_count", d.ReceiveCount),
			)
		}
	})
}

func (r *Redis) receiveOnce(ctx context.Context, queue string, visibility time.Duration) (*Delivery, error) {
	now := time.Now()
	receipt := uuid.NewString()
	res, err := receiveScript.Run(ctx, r.client,
		[]string{r.queueKey(queue)},
		now.UnixMilli(), now.Add(visibility).UnixMilli(), receipt, r.messagePrefix(),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queue, err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("receive from %s: unexpected script reply %v", queue, res)
	}
	id, _ := res[0].(string)
	body, _ := res[1].(string)
	sentAt, _ := strconv.ParseInt(fmt.Sprint(res[2]), 10, 64)
	count, _ := res[3].(int64)
	return &Delivery{
		ID:           id,
		Queue:        queue,
		Body:         []byte(body),
		Receipt:      receipt,
		ReceiveCount: int(count),
		SentAt:       time.UnixMilli(sentAt),
	}, nil
}

func (r *Redis) Extend(ctx context.Context, d *Delivery, visibility time.Duration) error {
	ok, err := extendScript.Run(ctx, r.client,
		[]string{r.queueKey(d.Queue), r.messageKey(d.ID)},
		d.Receipt, time.Now().Add(visibility).UnixMilli(), d.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", d.ID, err)
	}
	if ok == 0 {
		return ErrStaleReceipt
	}
	return nil
}

func (r *Redis) Ack(ctx context.Context, d *Delivery) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.queueKey(d.Queue), d.ID)
	pipe.Del(ctx, r.messageKey(d.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return nil
}

func (r *Redis) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	now := time.Now()
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.queueKey(d.Queue), d.ID)
	pipe.Del(ctx, r.messageKey(d.ID))
	pipe.HSet(ctx, r.deadKey(d.ID),
		"queue", d.Queue,
		"body", d.Body,
		"reason", reason,
		"receive_count", d.ReceiveCount,
		"sent_at", d.SentAt.UnixMilli(),
		"failed_at", now.UnixMilli(),
	)
	pipe.ZAdd(ctx, r.deadIndexKey(d.Queue), goredis.Z{Score: float64(now.UnixMilli()), Member: d.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter %s: %w", d.ID, err)
	}
	return nil
}

func (r *Redis) DeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, r.deadIndexKey(queue), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(ids))
	for _, id := range ids {
		dl, err := r.deadLetter(ctx, id)
		if errors.Is(err, ErrDeadLetterNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

func (r *Redis) deadLetter(ctx context.Context, id string) (DeadLetter, error) {
	vals, err := r.client.HGetAll(ctx, r.deadKey(id)).Result()
	if err != nil {
		return DeadLetter{}, fmt.Errorf("get dead letter %s: %w", id, err)
	}
	if len(vals) == 0 {
		return DeadLetter{}, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	count, _ := strconv.Atoi(vals["receive_count"])
	sentAt, _ := strconv.ParseInt(vals["sent_at"], 10, 64)
	failedAt, _ := strconv.ParseInt(vals["failed_at"], 10, 64)
	return DeadLetter{
		ID:           id,
		Queue:        vals["queue"],
		Body:         []byte(vals["body"]),
		Reason:       vals["reason"],
		ReceiveCount: count,
		SentAt:       time.UnixMilli(sentAt),
		FailedAt:     time.UnixMilli(failedAt),
	}, nil
}

func (r *Redis) Replay(ctx context.Context, id string) (DeadLetter, error) {
	dl, err := r.deadLetter(ctx, id)
	if err != nil {
		return DeadLetter{}, err
	}
	now := time.Now()
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.messageKey(id),
		"queue", dl.Queue,
		"body", dl.Body,
		"sent_at", now.UnixMilli(),
		"receive_count", 0,
	)
	pipe.ZAdd(ctx, r.queueKey(dl.Queue), goredis.Z{Score: float64(now.UnixMilli()), Member: id})
	pipe.Del(ctx, r.deadKey(id))
	pipe.ZRem(ctx, r.deadIndexKey(dl.Queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return DeadLetter{}, fmt.Errorf("replay %s: %w", id, err)
	}
	return dl, nil
}

func (r *Redis) Purge(ctx context.Context, queue string) (int, error) {
	ids, err := r.client.ZRange(ctx, r.deadIndexKey(queue), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("purge dead letters for %s: %w", queue, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.deadKey(id))
	}
	keys = append(keys, r.deadIndexKey(queue))
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("purge dead letters for %s: %w", queue, err)
	}
	return len(ids), nil
}

func (r *Redis) Stats(ctx context.Context, queue string) (QueueStats, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	pipe := r.client.Pipeline()
	visible := pipe.ZCount(ctx, r.queueKey(queue), "-inf", now)
	hidden := pipe.ZCount(ctx, r.queueKey(queue), "("+now, "+inf")
	dead := pipe.ZCard(ctx, r.deadIndexKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStats{}, fmt.Errorf("queue stats for %s: %w", queue, err)
	}
	return QueueStats{
		Queue:       queue,
		Visible:     int(visible.Val()),
		Hidden:      int(hidden.Val()),
		DeadLetters: int(dead.Val()),
	}, nil
}
