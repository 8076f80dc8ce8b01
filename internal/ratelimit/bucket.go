package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured = errors.New("rate limiter not configured")
	ErrEmptyKey      = errors.New("rate limiter key is empty")
	ErrBadReply      = errors.New("invalid rate limit script reply")
)

// Levels are kept in thousandths of a token so the refill survives the
// integer conversion redis applies to Lua numbers.
const millis = 1000

const bucketScript = `
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "level", "at")
local level = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
if now > at then
  level = math.min(capacity, level + (now - at) * refill)
end

local allowed = 0
if level >= 1000 then
  allowed = 1
  level = level - 1000
end

redis.call("HSET", KEYS[1], "level", level, "at", now)
redis.call("PEXPIRE", KEYS[1], ttl)

local wait = 0
if level < 1000 then
  wait = math.ceil((1000 - level) / refill)
end
return {allowed, math.floor(level / 1000), now + wait}
`

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the next token becomes available.
	ResetAt time.Time
}

// Bucket is a redis-backed token bucket with a fixed rate and burst.
type Bucket struct {
	client redis.Scripter
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

// NewBucket refills at rate tokens per second up to burst. It returns nil
// without a client or with a non-positive rate.
func NewBucket(client redis.Scripter, rate float64, burst int) *Bucket {
	if client == nil || rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Bucket{
		client: client,
		script: redis.NewScript(bucketScript),
		rate:   rate,
		burst:  burst,
		ttl:    bucketTTL(rate, burst),
	}
}

func (b *Bucket) Take(ctx context.Context, key string) (*Decision, error) {
	if b == nil || b.client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	// A rate of r tokens per second is r thousandths per millisecond.
	reply, err := b.script.Run(ctx, b.client, []string{key},
		b.burst*millis,
		b.rate,
		b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 3 {
		return nil, ErrBadReply
	}

	return &Decision{
		Allowed:   reply[0] == 1,
		Limit:     b.burst,
		Remaining: int(reply[1]),
		ResetAt:   time.UnixMilli(reply[2]),
	}, nil
}

// bucketTTL keeps idle keys around for twice the time a full refill takes.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil(2 * float64(burst) / rate)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}
