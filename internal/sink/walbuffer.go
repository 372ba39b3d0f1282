package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/loadgen/internal/observation"
)

// walKey is the Redis list every pending batch is pushed onto before a
// flush attempt and popped from once that flush is confirmed.
const walKey = "loadgen:sink:pending"

// WALBuffer is an optional Redis-backed write-ahead stage in front of the
// Sink's HTTP flush: a batch is pushed here before the bulk write is
// attempted, and only removed once that write succeeds, so a crash between
// push and ack leaves the batch recoverable instead of merely fatal.
type WALBuffer struct {
	client *redis.Client
	logger *slog.Logger
}

// NewWALBuffer connects to redisURL and verifies connectivity with a ping.
func NewWALBuffer(redisURL string, logger *slog.Logger) (*WALBuffer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &WALBuffer{client: client, logger: logger}, nil
}

// Push records a pending batch. The batch is not removed until Ack is
// called with a matching count once the HTTP flush succeeds.
func (w *WALBuffer) Push(ctx context.Context, batch []*observation.Observation) error {
	if len(batch) == 0 {
		return nil
	}
	values := make([]interface{}, len(batch))
	for i, o := range batch {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshaling observation: %w", err)
		}
		values[i] = data
	}
	if err := w.client.LPush(ctx, walKey, values...).Err(); err != nil {
		return fmt.Errorf("pushing to redis: %w", err)
	}
	return nil
}

// Ack removes n pending entries (the oldest pushed batch) after a
// successful flush.
func (w *WALBuffer) Ack(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	pipe := w.client.Pipeline()
	for i := 0; i < n; i++ {
		pipe.RPop(ctx, walKey)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		w.logger.Warn("walbuffer: ack pipeline failed", "error", err)
	}
}

// Len reports the number of entries awaiting acknowledgement.
func (w *WALBuffer) Len(ctx context.Context) (int64, error) {
	return w.client.LLen(ctx, walKey).Result()
}

// Close releases the Redis connection.
func (w *WALBuffer) Close() error {
	return w.client.Close()
}
