// Package middleware holds the echo middleware shared by the API routes:
// token verification, role checks, Redis-backed rate limiting and response
// caching.
package middleware

import (
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/charmbracelet/log"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/slot-reservation/internal/config"
)

// tokenBucket refills KEYS[1] by whole intervals and takes one token.
// ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_s.
// Returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local now, cap, refill, interval, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local st = redis.call('HMGET', KEYS[1], 't', 'at')
local tokens, at = tonumber(st[1]), tonumber(st[2])
if tokens == nil or at == nil then
  tokens, at = cap, now
end
local n = math.floor(math.max(0, now - at) / interval)
if n > 0 then
  tokens = math.min(cap, tokens + n * refill)
  at = at + n * interval
end
local allowed, retry = 0, 0
if tokens > 0 then
  allowed, tokens = 1, tokens - 1
else
  retry = math.max(0, interval - (now - at))
end
redis.call('HSET', KEYS[1], 't', tokens, 'at', at)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tokens, retry}
`)

// bucketResult is the decoded script reply.
type bucketResult struct {
    Allowed   bool
    Remaining int64
    RetryMs   int64
}

func parseBucketResult(v interface{}) (bucketResult, bool) {
    arr, ok := v.([]interface{})
    if !ok || len(arr) != 3 {
        return bucketResult{}, false
    }
    return bucketResult{
        Allowed:   asInt64(arr[0]) == 1,
        Remaining: asInt64(arr[1]),
        RetryMs:   asInt64(arr[2]),
    }, true
}

// NewTokenBucket limits requests with bucket b kept in Redis, so the limit
// holds across server instances.  A missing Redis client or a script
// failure lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, b config.Bucket, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := rateKey(cfg.Prefix, b, c)
            vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key},
                time.Now().UnixMilli(),
                b.Capacity,
                b.RefillTokens,
                b.RefillInterval.Milliseconds(),
                int64(b.TTL/time.Second),
            ).Result()
            if err != nil {
                log.Warn("rate limit script failed; allowing request", "bucket", b.Name, "key", key, "error", err)
                return next(c)
            }
            res, ok := parseBucketResult(vals)
            if !ok {
                log.Warn("rate limit script returned an unexpected result", "bucket", b.Name, "result", vals)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(b.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            if res.Allowed {
                return next(c)
            }

            secs := int(math.Ceil(float64(res.RetryMs) / 1000))
            h.Set("Retry-After", strconv.Itoa(secs))
            if cfg.Debug {
                log.Info("rate limited", "bucket", b.Name, "key", key, "retry_ms", res.RetryMs)
            }
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "too_many_requests",
                "message":     "rate limit exceeded",
                "retry_after": secs,
            })
        }
    }
}

func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64:
        return t
    case int:
        return int64(t)
    case float64:
        return int64(t)
    case string:
        n, _ := strconv.ParseInt(t, 10, 64)
        return n
    }
    return 0
}

// rateKey renders prefix:bucket:<parts>.  Booking routes carry the match id
// in the path, so route-keyed buckets count per match.
func rateKey(prefix string, b config.Bucket, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    uid := "anon"
    if id, err := UserID(c); err == nil {
        uid = strconv.FormatUint(id, 10)
    }
    route := c.Request().Method + " " + c.Request().URL.Path

    parts := []string{prefix, b.Name}
    switch strings.ToLower(b.KeyBy) {
    case "ip":
        parts = append(parts, "ip", ip)
    case "user":
        parts = append(parts, "user", uid)
    case "ip_user":
        parts = append(parts, "ip", ip, "user", uid)
    case "user_route":
        parts = append(parts, "user", uid, "route", route)
    default:
        parts = append(parts, "ip", ip, "user", uid, "route", route)
    }
    return strings.Join(parts, ":")
}
