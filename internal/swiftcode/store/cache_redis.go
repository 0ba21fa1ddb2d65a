package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/pkg/platform/sentinel"
)

const (
	detailKeyPrefix = "swift:detail:"
	genKeyPrefix    = "swift:gen:"
	globalGenKey    = genKeyPrefix + "all"
	institutionLen  = 8
	scanBatchSize   = 100
)

// saveIfCurrent sets KEYS[1] only while the global and institution
// generations still sum to ARGV[2]. Both counters only grow, so the sum
// changes whenever either does.
var saveIfCurrent = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0') + tonumber(redis.call('GET', KEYS[3]) or '0')
if current ~= tonumber(ARGV[2]) then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisCache caches detailed projections. Entries for an institution are
// dropped together because a branch insert changes its headquarters' view.
// Every invalidation bumps a generation counter so a view loaded before it
// cannot be written back afterwards.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a cache whose entries expire after ttl.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) FindDetailed(ctx context.Context, code string) (*models.RecordView, error) {
	raw, err := c.client.Get(ctx, detailKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get cached swift code %s: %v", sentinel.ErrUnavailable, code, err)
	}

	var view models.RecordView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decode cached swift code %s: %w", code, err)
	}
	return &view, nil
}

func (c *RedisCache) Generation(ctx context.Context, code string) (int64, error) {
	vals, err := c.client.MGet(ctx, globalGenKey, institutionGenKey(code)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: read cache generation of %s: %v", sentinel.ErrUnavailable, code, err)
	}
	var gen int64
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse cache generation %q: %w", raw, err)
		}
		gen += n
	}
	return gen, nil
}

func (c *RedisCache) SaveDetailed(ctx context.Context, view *models.RecordView, gen int64) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode swift code %s: %w", view.Code, err)
	}
	keys := []string{detailKeyPrefix + view.Code, globalGenKey, institutionGenKey(view.Code)}
	if err := saveIfCurrent.Run(ctx, c.client, keys, raw, gen, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("%w: cache swift code %s: %v", sentinel.ErrUnavailable, view.Code, err)
	}
	return nil
}

// InvalidatePrefix bumps the generation before deleting, so a concurrent
// SaveDetailed either lands before the delete or is rejected. Prefixes
// shorter than an institution bump the global generation.
func (c *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	genKey := globalGenKey
	if len(prefix) >= institutionLen {
		genKey = institutionGenKey(prefix)
	}
	if err := c.client.Incr(ctx, genKey).Err(); err != nil {
		return fmt.Errorf("%w: bump cache generation %s: %v", sentinel.ErrUnavailable, genKey, err)
	}

	iter := c.client.Scan(ctx, 0, detailKeyPrefix+prefix+"*", scanBatchSize).Iterator()
	keys := make([]string, 0, scanBatchSize)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan cached swift codes %s*: %v", sentinel.ErrUnavailable, prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: invalidate swift codes %s*: %v", sentinel.ErrUnavailable, prefix, err)
	}
	return nil
}

func institutionGenKey(code string) string {
	if len(code) > institutionLen {
		code = code[:institutionLen]
	}
	return genKeyPrefix + code
}
