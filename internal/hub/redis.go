package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// Lock values are "<session>|<user>" so ownership can be checked inside a
// script without decoding anything.
var (
	renewScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1])) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0`)

	releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1])) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisRegistry keeps seat locks as Redis keys with a TTL, one key per
// (match, index).  SET NX gives the one-holder rule across instances.
type RedisRegistry struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRegistry returns a registry storing keys under prefix.
func NewRedisRegistry(rdb *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "seatlock"
	}
	return &RedisRegistry{rdb: rdb, prefix: prefix}
}

func (r *RedisRegistry) key(matchID uint64, index int) string {
	return fmt.Sprintf("%s:%d:%d", r.prefix, matchID, index)
}

func ownerPrefix(sessionID string) string { return sessionID + "|" }

func (r *RedisRegistry) Acquire(ctx context.Context, l model.SeatLock, ttl time.Duration) (bool, error) {
	val := ownerPrefix(l.SessionID) + strconv.FormatUint(l.UserID, 10)
	ok, err := r.rdb.SetNX(ctx, r.key(l.MatchID, l.Index), val, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire seat lock: %w", err)
	}
	if ok {
		return true, nil
	}
	// Already held: succeed only if it is ours, extending it on the way.
	return r.Renew(ctx, l.MatchID, l.Index, l.SessionID, ttl)
}

func (r *RedisRegistry) Release(ctx context.Context, matchID uint64, index int, sessionID string) error {
	err := releaseScript.Run(ctx, r.rdb, []string{r.key(matchID, index)}, ownerPrefix(sessionID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release seat lock: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Renew(ctx context.Context, matchID uint64, index int, sessionID string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, r.rdb, []string{r.key(matchID, index)}, ownerPrefix(sessionID), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew seat lock: %w", err)
	}
	return n == 1, nil
}

func (r *RedisRegistry) Holders(ctx context.Context, matchID uint64) ([]model.SeatLock, error) {
	pattern := fmt.Sprintf("%s:%d:*", r.prefix, matchID)
	var out []model.SeatLock
	iter := r.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		idx, err := strconv.Atoi(key[strings.LastIndexByte(key, ':')+1:])
		if err != nil {
			continue
		}
		val, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("read seat lock %s: %w", key, err)
		}
		ttl, err := r.rdb.PTTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read seat lock ttl %s: %w", key, err)
		}
		sid, uid, _ := strings.Cut(val, "|")
		userID, _ := strconv.ParseUint(uid, 10, 64)
		out = append(out, model.SeatLock{
			MatchID:   matchID,
			Index:     idx,
			SessionID: sid,
			UserID:    userID,
			ExpiresAt: time.Now().Add(ttl),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan seat locks: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Frame is what hub instances exchange over the relay.  Instance lets a hub
// skip its own frames.
type Frame struct {
	Instance  string `msgpack:"n"`
	Type      string `msgpack:"t"`
	MatchID   uint64 `msgpack:"m"`
	Index     int    `msgpack:"i,omitempty"`
	Indexes   []int  `msgpack:"x,omitempty"`
	SessionID string `msgpack:"s,omitempty"`
}

// Relay fans hub events out to the other hub instances.
type Relay interface {
	Publish(ctx context.Context, f Frame) error
	Frames() <-chan Frame
	Close() error
}

// RedisRelay is a Relay over a Redis pub/sub channel with msgpack frames.
type RedisRelay struct {
	rdb      *redis.Client
	channel  string
	instance string
	sub      *redis.PubSub
	out      chan Frame
	done     chan struct{}
}

// NewRedisRelay subscribes to channel and starts decoding frames published by
// other instances.
func NewRedisRelay(ctx context.Context, rdb *redis.Client, channel, instance string) (*RedisRelay, error) {
	sub := rdb.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no frame published right
	// after construction is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	r := &RedisRelay{
		rdb:      rdb,
		channel:  channel,
		instance: instance,
		sub:      sub,
		out:      make(chan Frame, 256),
		done:     make(chan struct{}),
	}
	go r.pump()
	return r, nil
}

func (r *RedisRelay) pump() {
	defer close(r.done)
	defer close(r.out)
	for msg := range r.sub.Channel() {
		var f Frame
		if err := msgpack.Unmarshal([]byte(msg.Payload), &f); err != nil {
			log.Error("relay frame decode failed", "error", err)
			continue
		}
		if f.Instance == r.instance {
			continue
		}
		select {
		case r.out <- f:
		default:
			log.Warn("relay backlog full; dropping frame", "type", f.Type, "match_id", f.MatchID)
		}
	}
}

func (r *RedisRelay) Publish(ctx context.Context, f Frame) error {
	f.Instance = r.instance
	b, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, b).Err()
}

func (r *RedisRelay) Frames() <-chan Frame { return r.out }

func (r *RedisRelay) Close() error {
	err := r.sub.Close()
	<-r.done
	return err
}
