package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/ultimatettt/internal/apperror"
	"github.com/rocketscienceinc/ultimatettt/internal/stream"
)

const (
	defaultBlockTimeout = 5 * time.Second
	defaultReadCount    = 100

	// streamStart - the id before any entry of a stream.
	streamStart = "0-0"
)

// GameLogKey - key of the stream that holds the log of gameID.
func GameLogKey(prefix, gameID string) string {
	return fmt.Sprintf("%s:%s:log", prefix, gameID)
}

// MoveLog - the game log as a Redis stream. Entry ids are the sequence tokens.
type MoveLog struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
	readCount    int64
}

func NewMoveLog(client *redis.Client, key string, blockTimeout time.Duration) *MoveLog {
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	return &MoveLog{
		client:       client,
		key:          key,
		blockTimeout: blockTimeout,
		readCount:    defaultReadCount,
	}
}

func (that *MoveLog) Key() string {
	return that.key
}

// Append - adds values as a new entry and returns its id.
func (that *MoveLog) Append(ctx context.Context, values map[string]string) (string, error) {
	fields := make(map[string]interface{}, len(values))
	for field, value := range values {
		fields[field] = value
	}

	id, err := that.client.XAdd(ctx, &redis.XAddArgs{
		Stream: that.key,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: failed to append to %s: %w", apperror.ErrConnectionLost, that.key, err)
	}

	return id, nil
}

// Snapshot - every entry of the stream in log order.
func (that *MoveLog) Snapshot(ctx context.Context) ([]stream.Entry, error) {
	messages, err := that.client.XRange(ctx, that.key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", apperror.ErrConnectionLost, that.key, err)
	}

	return toEntries(messages), nil
}

// Tail - entries after the given id. Blocks for at most the block timeout and returns no
// entries when nothing was appended meanwhile.
func (that *MoveLog) Tail(ctx context.Context, after string) ([]stream.Entry, error) {
	if after == "" {
		after = streamStart
	}

	streams, err := that.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{that.key, after},
		Count:   that.readCount,
		Block:   that.blockTimeout,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to tail %s: %w", apperror.ErrConnectionLost, that.key, err)
	}

	var entries []stream.Entry
	for _, xStream := range streams {
		entries = append(entries, toEntries(xStream.Messages)...)
	}

	return entries, nil
}

func (that *MoveLog) Ping(ctx context.Context) error {
	if err := that.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", apperror.ErrConnectionLost, err)
	}

	return nil
}

// Reset - deletes the whole log so the game starts over.
func (that *MoveLog) Reset(ctx context.Context) error {
	if err := that.client.Del(ctx, that.key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", that.key, err)
	}

	return nil
}

func toEntries(messages []redis.XMessage) []stream.Entry {
	entries := make([]stream.Entry, 0, len(messages))

	for _, message := range messages {
		values := make(map[string]string, len(message.Values))
		for field, value := range message.Values {
			if str, ok := value.(string); ok {
				values[field] = str
				continue
			}

			values[field] = fmt.Sprint(value)
		}

		entries = append(entries, stream.Entry{Token: message.ID, Values: values})
	}

	return entries
}
