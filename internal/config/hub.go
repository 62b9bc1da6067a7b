package config

import "time"

// HubConfig tunes the lock hub.  LockTTL bounds how long a lock outlives a
// vanished instance; SweepInterval is how often live locks are renewed and
// lost ones expired.  Zero values fall back to the hub's defaults.
type HubConfig struct {
    LockTTL       time.Duration
    SweepInterval time.Duration
    OpTimeout     time.Duration
    RelayChannel  string
    LockPrefix    string
}

// LoadHubConfig reads LOCK_TTL, LOCK_SWEEP_INTERVAL, LOCK_OP_TIMEOUT,
// LOCK_RELAY_CHANNEL and LOCK_KEY_PREFIX.
func LoadHubConfig() HubConfig {
    cfg := HubConfig{
        LockTTL:       envDur("LOCK_TTL", 30*time.Second),
        SweepInterval: envDur("LOCK_SWEEP_INTERVAL", 0),
        OpTimeout:     envDur("LOCK_OP_TIMEOUT", time.Second),
        RelayChannel:  envStr("LOCK_RELAY_CHANNEL", "slot-locks"),
        LockPrefix:    envStr("LOCK_KEY_PREFIX", "seatlock"),
    }
    if cfg.LockTTL < time.Second {
        cfg.LockTTL = time.Second
    }
    // A sweep slower than the TTL would let live locks lapse.
    if cfg.SweepInterval <= 0 || cfg.SweepInterval >= cfg.LockTTL {
        cfg.SweepInterval = cfg.LockTTL / 3
    }
    return cfg
}
