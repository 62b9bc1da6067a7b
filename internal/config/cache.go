package config

import "time"

// CacheConfig controls the Redis response cache in front of public match
// details.  Responses larger than MaxBodyBytes are served but not stored.
type CacheConfig struct {
    Enabled      bool
    TTL          time.Duration
    Prefix       string
    MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_ENABLED, CACHE_TTL, CACHE_PREFIX and
// CACHE_MAX_BODY_BYTES.
func LoadCacheConfig() CacheConfig {
    cfg := CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        TTL:          envDur("CACHE_TTL", 30*time.Second),
        Prefix:       envStr("CACHE_PREFIX", "matchcache"),
        MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 64<<10),
    }
    if cfg.TTL <= 0 {
        cfg.Enabled = false
    }
    return cfg
}
