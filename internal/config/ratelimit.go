package config

import (
    "os"
    "strconv"
    "time"
)

// Bucket is one Redis token bucket.  KeyBy selects what a bucket is counted
// per: "ip", "user", "ip_user", "user_route" or "ip_user_route".
type Bucket struct {
    Name           string
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyBy          string
}

// RateLimitConfig shapes the token buckets in front of the API.  API covers
// match reads and profile lookups; Commit is the smaller per-user bucket
// that booking submits and cancellations draw from in addition.
type RateLimitConfig struct {
    Enabled bool
    Prefix  string
    Debug   bool
    API     Bucket
    Commit  Bucket
}

// LoadRateLimitConfig reads the RATE_LIMIT_* variables for the API bucket and
// COMMIT_RATE_LIMIT_* for the commit bucket.
func LoadRateLimitConfig() RateLimitConfig {
    cfg := RateLimitConfig{
        Enabled: envBool("RATE_LIMIT_ENABLED", true),
        Prefix:  envStr("RATE_LIMIT_PREFIX", "rl"),
        Debug:   envBool("RATE_LIMIT_DEBUG", false),
        API: Bucket{
            Name:           "api",
            Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
            RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
            RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
            TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
            KeyBy:          envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
        },
        Commit: Bucket{
            Name:           "commit",
            Capacity:       envInt("COMMIT_RATE_LIMIT_CAPACITY", 5),
            RefillTokens:   1,
            RefillInterval: envDur("COMMIT_RATE_LIMIT_REFILL_INTERVAL", 2*time.Second),
            TTL:            envDur("COMMIT_RATE_LIMIT_TTL", 10*time.Minute),
            KeyBy:          "user",
        },
    }
    cfg.API.clamp()
    cfg.Commit.clamp()
    return cfg
}

// clamp keeps a misconfigured bucket usable.  The key must outlive at least
// a few refills or the bucket would reset to full on every request.
func (b *Bucket) clamp() {
    if b.Capacity < 1 {
        b.Capacity = 1
    }
    if b.RefillTokens < 1 {
        b.RefillTokens = 1
    }
    if b.RefillInterval <= 0 {
        b.RefillInterval = time.Second
    }
    if min := 5 * b.RefillInterval; b.TTL < min {
        b.TTL = min
    }
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    switch os.Getenv(k) {
    case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
        return true
    case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
        return false
    }
    return d
}

func envInt(k string, d int) int {
    if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
        return dur
    }
    return d
}
