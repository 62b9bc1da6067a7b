package config

// Redis backs the lock registry, the cross-instance lock relay, the rate
// limiter and the match cache.  All of them degrade when NewRedisClient
// returns nil: locks stay in memory and are only visible on one instance,
// and requests are neither limited nor cached.

import (
    "context"
    "crypto/tls"
    "net"
    "time"

    "github.com/charmbracelet/log"
    "github.com/redis/go-redis/v9"
)

// RedisConfig locates the Redis server.  URL, when set, wins over the
// discrete fields and uses the redis:// or rediss:// form.
type RedisConfig struct {
    URL         string
    Addr        string
    Password    string
    DB          int
    TLS         bool
    DialTimeout time.Duration
}

// LoadRedisConfig reads REDIS_URL, or REDIS_ADDR / REDIS_HOST+REDIS_PORT,
// REDIS_PASSWORD, REDIS_DB and REDIS_TLS.
func LoadRedisConfig() RedisConfig {
    addr := envStr("REDIS_ADDR", "localhost:6379")
    if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
        addr = net.JoinHostPort(host, port)
    }
    return RedisConfig{
        URL:         envStr("REDIS_URL", ""),
        Addr:        addr,
        Password:    envStr("REDIS_PASSWORD", ""),
        DB:          envInt("REDIS_DB", 0),
        TLS:         envBool("REDIS_TLS", false),
        DialTimeout: envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
    }
}

// Options converts the config into client options.
func (c RedisConfig) Options() (*redis.Options, error) {
    if c.URL != "" {
        opt, err := redis.ParseURL(c.URL)
        if err != nil {
            return nil, err
        }
        opt.DialTimeout = c.DialTimeout
        return opt, nil
    }
    opt := &redis.Options{
        Addr:        c.Addr,
        Password:    c.Password,
        DB:          c.DB,
        DialTimeout: c.DialTimeout,
    }
    if c.TLS {
        opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    return opt, nil
}

// NewRedisClient connects and pings.  It returns nil when the config is
// invalid or the server does not answer within the dial timeout.
func NewRedisClient(cfg RedisConfig) *redis.Client {
    if cfg.DialTimeout <= 0 {
        cfg.DialTimeout = 2 * time.Second
    }
    opt, err := cfg.Options()
    if err != nil {
        log.Warn("invalid redis config", "error", err)
        return nil
    }
    client := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        log.Warn("redis ping failed", "addr", opt.Addr, "error", err)
        _ = client.Close()
        return nil
    }
    return client
}
