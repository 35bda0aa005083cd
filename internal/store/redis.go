package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/raghavao7/lossflip/internal/models"
)

const rateLimitWindow = time.Minute

// RedisStore is the message log: an append-only sorted set per order thread
// plus a tick hash per message. Also hosts the chat send rate limiter.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func orderMessagesKey(orderID string) string {
	return fmt.Sprintf("order:%s:messages", orderID)
}

func orderMessageIDsKey(orderID string) string {
	return fmt.Sprintf("order:%s:msgids", orderID)
}

func ticksKey(orderID, msgID string) string {
	return fmt.Sprintf("order:%s:ticks:%s", orderID, msgID)
}

func rateLimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:chat:%s", userID)
}

// AddMessage appends a message to its thread. ULIDs keep ids sortable by
// creation time; the score is the timestamp so range reads return append
// order.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, orderMessagesKey(msg.OrderID), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	})
	// Membership set: tick marks are only accepted for appended ids.
	pipe.SAdd(ctx, orderMessageIDsKey(msg.OrderID), msg.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// OrderMessages returns the thread's messages in append order.
func (s *RedisStore) OrderMessages(ctx context.Context, orderID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	results, err := s.client.ZRange(ctx, orderMessagesKey(orderID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// MarkDelivered records delivery marks for userID. HSETNX keeps the mark
// monotone: a recorded timestamp is never overwritten. Ids not present in
// the thread are ignored. Returns the ids newly marked.
func (s *RedisStore) MarkDelivered(ctx context.Context, orderID string, msgIDs []string, userID string) ([]string, error) {
	return s.mark(ctx, orderID, msgIDs, userID, false)
}

// MarkSeen records seen marks for userID. A seen mark also sets the
// delivered mark so seen always implies delivered.
func (s *RedisStore) MarkSeen(ctx context.Context, orderID string, msgIDs []string, userID string) ([]string, error) {
	return s.mark(ctx, orderID, msgIDs, userID, true)
}

func (s *RedisStore) mark(ctx context.Context, orderID string, msgIDs []string, userID string, seen bool) ([]string, error) {
	if len(msgIDs) == 0 {
		return nil, nil
	}

	// Filter to ids actually appended to this thread.
	known, err := s.client.SMIsMember(ctx, orderMessageIDsKey(orderID), toAny(msgIDs)...).Result()
	if err != nil {
		return nil, err
	}

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	field := "delivered:" + userID
	if seen {
		field = "seen:" + userID
	}

	pipe := s.client.TxPipeline()
	var cmds []*redis.BoolCmd
	var candidates []string
	for i, id := range msgIDs {
		if i >= len(known) || !known[i] {
			continue
		}
		key := ticksKey(orderID, id)
		cmds = append(cmds, pipe.HSetNX(ctx, key, field, now))
		if seen {
			pipe.HSetNX(ctx, key, "delivered:"+userID, now)
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	marked := make([]string, 0, len(candidates))
	for i, cmd := range cmds {
		if cmd.Val() {
			marked = append(marked, candidates[i])
		}
	}
	return marked, nil
}

// MessageTicks loads the acknowledgement state for a batch of message ids.
func (s *RedisStore) MessageTicks(ctx context.Context, orderID string, msgIDs []string) (map[string]models.Ticks, error) {
	out := make(map[string]models.Ticks, len(msgIDs))
	if len(msgIDs) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(msgIDs))
	for i, id := range msgIDs {
		cmds[i] = pipe.HGetAll(ctx, ticksKey(orderID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for i, id := range msgIDs {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		ticks := models.Ticks{}
		for field, val := range fields {
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				continue
			}
			switch {
			case len(field) > 10 && field[:10] == "delivered:":
				if ticks.DeliveredAt == nil {
					ticks.DeliveredAt = make(map[string]int64)
				}
				ticks.DeliveredAt[field[10:]] = ts
			case len(field) > 5 && field[:5] == "seen:":
				if ticks.SeenAt == nil {
					ticks.SeenAt = make(map[string]int64)
				}
				ticks.SeenAt[field[5:]] = ts
			}
		}
		out[id] = ticks
	}
	return out, nil
}

// CheckRateLimit reports whether userID is under the per-window send cap.
func (s *RedisStore) CheckRateLimit(ctx context.Context, userID string, limit int) (bool, error) {
	count, err := s.client.Get(ctx, rateLimitKey(userID)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return count < limit, nil
}

// IncrementRateLimit bumps the windowed send counter.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, userID string) error {
	key := rateLimitKey(userID)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rateLimitWindow)
	_, err := pipe.Exec(ctx)
	return err
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
