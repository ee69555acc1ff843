package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/wyfcoding/creditledger/internal/creditscore/domain"
	"github.com/wyfcoding/creditledger/pkg/cache"
)

const keyPrefix = "credit:score:"

// setIfNewer 以 hash 保存 score/version/cached_at，版本不大于已缓存版本时放弃写入
var setIfNewer = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'score', ARGV[1], 'version', ARGV[2], 'cached_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// scoreCache 当前信用分的读缓存
type scoreCache struct {
	client *goredis.Client
}

// NewScoreCache 创建信用分缓存
func NewScoreCache(rc *cache.RedisCache) domain.ScoreCache {
	return &scoreCache{client: rc.GetClient()}
}

func (c *scoreCache) Get(ctx context.Context, uid string) (int64, bool, error) {
	vals, err := c.client.HMGet(ctx, c.key(uid), "score").Result()
	if err != nil {
		return 0, false, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return 0, false, nil
	}
	score, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (c *scoreCache) Set(ctx context.Context, uid string, score, version int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("score cache ttl must be positive")
	}
	n, err := setIfNewer.Run(ctx, c.client, []string{c.key(uid)},
		score, version, time.Now().UTC().Format(time.RFC3339Nano), ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *scoreCache) Invalidate(ctx context.Context, uid string) error {
	return c.client.Del(ctx, c.key(uid)).Err()
}

func (c *scoreCache) key(uid string) string {
	return keyPrefix + uid
}
