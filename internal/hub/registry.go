package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// Registry records which session holds which seat lock.  It is the place
// where "one lock per (match, index)" is decided; with the Redis
// implementation that decision holds across every hub instance sharing the
// same Redis.
//
// Locks in a registry expire on their own unless renewed.
type Registry interface {
	// Acquire takes the lock for l.SessionID.  It reports true when the lock
	// is now held by that session, including when it already was.
	Acquire(ctx context.Context, l model.SeatLock, ttl time.Duration) (bool, error)
	// Release drops the lock if sessionID holds it.
	Release(ctx context.Context, matchID uint64, index int, sessionID string) error
	// Renew extends a lock held by sessionID.  It reports false when the
	// session no longer holds it.
	Renew(ctx context.Context, matchID uint64, index int, sessionID string, ttl time.Duration) (bool, error)
	// Holders lists the unexpired locks of a match ordered by index.
	Holders(ctx context.Context, matchID uint64) ([]model.SeatLock, error)
}

type lockKey struct {
	match uint64
	index int
}

// MemoryRegistry is a Registry for a single hub instance.
type MemoryRegistry struct {
	mu    sync.Mutex
	locks map[lockKey]model.SeatLock
	now   func() time.Time
}

// NewMemoryRegistry returns an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{locks: make(map[lockKey]model.SeatLock), now: time.Now}
}

func (r *MemoryRegistry) live(k lockKey) (model.SeatLock, bool) {
	l, ok := r.locks[k]
	if !ok {
		return l, false
	}
	if !r.now().Before(l.ExpiresAt) {
		delete(r.locks, k)
		return l, false
	}
	return l, true
}

func (r *MemoryRegistry) Acquire(_ context.Context, l model.SeatLock, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := lockKey{l.MatchID, l.Index}
	if cur, ok := r.live(k); ok && cur.SessionID != l.SessionID {
		return false, nil
	}
	l.ExpiresAt = r.now().Add(ttl)
	r.locks[k] = l
	return true, nil
}

func (r *MemoryRegistry) Release(_ context.Context, matchID uint64, index int, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := lockKey{matchID, index}
	if cur, ok := r.locks[k]; ok && cur.SessionID == sessionID {
		delete(r.locks, k)
	}
	return nil
}

func (r *MemoryRegistry) Renew(_ context.Context, matchID uint64, index int, sessionID string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := lockKey{matchID, index}
	cur, ok := r.live(k)
	if !ok || cur.SessionID != sessionID {
		return false, nil
	}
	cur.ExpiresAt = r.now().Add(ttl)
	r.locks[k] = cur
	return true, nil
}

func (r *MemoryRegistry) Holders(_ context.Context, matchID uint64) ([]model.SeatLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SeatLock
	for k := range r.locks {
		if k.match != matchID {
			continue
		}
		if l, ok := r.live(k); ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
