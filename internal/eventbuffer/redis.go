package eventbuffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOpts configures the Redis-backed Event Buffer adapter, used for
// multi-node dedupe where several instances of the same bot share one
// logical buffer.
type RedisOpts struct {
	Client    *redis.Client
	Namespace string // distinct namespaces share no keys
	TTL       time.Duration
}

// Redis is the external-KV Event Buffer adapter. It uses SETNX (via SetNX)
// with a PX-equivalent expiration for write-once semantics, and a sorted set
// keyed by recording timestamp for ordered Pending. Out-of-window entries
// are pruned on every Pending call.
type Redis struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

var _ Adapter = (*Redis)(nil)

// NewRedis creates a Redis adapter.
func NewRedis(opts RedisOpts) *Redis {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: opts.Client, namespace: opts.Namespace, ttl: ttl}
}

func (r *Redis) entryKey(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

func (r *Redis) pendingSetKey() string {
	return fmt.Sprintf("%s:pending", r.namespace)
}

type redisPayload struct {
	Payload any `json:"payload"`
}

func (r *Redis) Record(ctx context.Context, key string, payload any) (RecordResult, error) {
	if key == "" {
		return RecordOK, nil
	}

	raw, err := json.Marshal(redisPayload{Payload: payload})
	if err != nil {
		return RecordOK, fmt.Errorf("eventbuffer: redis: marshal payload for %q: %w", key, err)
	}

	ok, err := r.client.SetNX(ctx, r.entryKey(key), raw, r.ttl).Result()
	if err != nil {
		// Fail-open per spec: a backend error is treated as "assume unseen".
		return RecordOK, fmt.Errorf("eventbuffer: redis: setnx %q: %w", key, err)
	}
	if ok {
		now := time.Now()
		r.client.ZAdd(ctx, r.pendingSetKey(), redis.Z{Score: float64(now.UnixNano()), Member: key})
		return RecordOK, nil
	}

	// Duplicate: refresh TTL on both the value key and the pending sorted
	// set member's ordering score stays put — only expiry moves.
	r.client.PExpire(ctx, r.entryKey(key), r.ttl)
	return RecordDuplicate, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.entryKey(key)).Err(); err != nil {
		return fmt.Errorf("eventbuffer: redis: del %q: %w", key, err)
	}
	r.client.ZRem(ctx, r.pendingSetKey(), key)
	return nil
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.entryKey(key)).Result()
	if err != nil {
		// Fail-open: assume unseen on backend error.
		return false, fmt.Errorf("eventbuffer: redis: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// Pending returns entries in recording order, pruning members whose backing
// value key has expired (or whose insertion falls outside the prune
// window) before returning.
func (r *Redis) Pending(ctx context.Context) ([]Entry, error) {
	pruneWindow := r.ttl
	if pruneWindow < 10*time.Minute {
		pruneWindow = 10 * time.Minute
	}
	cutoff := float64(time.Now().Add(-pruneWindow).UnixNano())
	r.client.ZRemRangeByScore(ctx, r.pendingSetKey(), "-inf", fmt.Sprintf("%f", cutoff))

	keys, err := r.client.ZRange(ctx, r.pendingSetKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("eventbuffer: redis: zrange pending: %w", err)
	}

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		raw, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
		if err == redis.Nil {
			// Value expired but the sorted-set member lingered; drop it.
			r.client.ZRem(ctx, r.pendingSetKey(), key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("eventbuffer: redis: get %q: %w", key, err)
		}
		var decoded redisPayload
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("eventbuffer: redis: unmarshal %q: %w", key, err)
		}
		out = append(out, Entry{Key: key, Payload: decoded.Payload})
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
