// Package lockchannel is the session side of the seat lock hub: a websocket
// client that sends lock/unlock intents and dispatches the hub's broadcasts
// to registered callbacks.  Intents are fire-and-forget: they are queued
// without blocking and dropped when the queue is full.  A broken connection
// is redialled with exponential backoff; callers learn about it through
// OnReconnect and must re-fetch authoritative state.
package lockchannel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/iliyamo/slot-reservation/internal/wire"
)

// Options configures a Client.
type Options struct {
	// URL of the hub endpoint, e.g. ws://localhost:8080/v1/matches/7/locks.
	URL string
	// Token is sent as a bearer token on every dial.
	Token string
	// SendBuffer is the number of intents that may queue while the writer
	// is busy or the connection is down.
	SendBuffer int
	// MinBackoff and MaxBackoff bound the redial delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// FlushTimeout bounds how long Close waits for queued intents.
	FlushTimeout time.Duration
}

func (o *Options) defaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = time.Second
	}
}

// Client is a lock channel connection.  It implements
// reservation.LockChannel.
type Client struct {
	opts Options
	out  chan wire.Message

	ctx    context.Context
	cancel context.CancelFunc
	first  *websocket.Conn
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	start  sync.Once

	mu          sync.RWMutex
	onLock      func(uint64, int)
	onUnlock    func(uint64, int)
	onBooked    func(uint64, []int)
	onReleased  func(uint64, []int)
	onSnapshot  func(uint64, []int)
	onReconnect func()
}

// Dial connects to the hub.  The first connection attempt is synchronous so
// a bad URL or a rejected token surfaces as an error; later disconnects are
// retried in the background until Close.  Nothing is read or written until
// Start.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts.defaults()
	conn, err := dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:   opts,
		out:    make(chan wire.Message, opts.SendBuffer),
		ctx:    cctx,
		cancel: cancel,
		quit:   make(chan struct{}),
		first:  conn,
		done:   make(chan struct{}),
	}
	return c, nil
}

// Start begins exchanging frames.  Callbacks registered before Start see
// every frame of the first connection, including the hub's snapshot.
func (c *Client) Start() {
	c.start.Do(func() { go c.run(c.first) })
}

func dial(ctx context.Context, opts Options) (*websocket.Conn, error) {
	h := http.Header{}
	if opts.Token != "" {
		h.Set("Authorization", "Bearer "+opts.Token)
	}
	conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{HTTPHeader: h})
	return conn, err
}

// Lock queues a lock intent.
func (c *Client) Lock(matchID uint64, index int) { c.send(wire.Lock(matchID, index)) }

// Unlock queues an unlock intent.
func (c *Client) Unlock(matchID uint64, index int) { c.send(wire.Unlock(matchID, index)) }

func (c *Client) send(m wire.Message) {
	select {
	case <-c.quit:
		return
	default:
	}
	select {
	case c.out <- m:
	default:
		log.Warn("lock channel queue full; dropping intent", "type", m.Type, "match_id", m.MatchID, "index", m.Index)
	}
}

func (c *Client) OnRemoteLock(fn func(matchID uint64, index int)) {
	c.mu.Lock()
	c.onLock = fn
	c.mu.Unlock()
}

func (c *Client) OnRemoteUnlock(fn func(matchID uint64, index int)) {
	c.mu.Lock()
	c.onUnlock = fn
	c.mu.Unlock()
}

func (c *Client) OnRemoteBooked(fn func(matchID uint64, indexes []int)) {
	c.mu.Lock()
	c.onBooked = fn
	c.mu.Unlock()
}

func (c *Client) OnRemoteReleased(fn func(matchID uint64, indexes []int)) {
	c.mu.Lock()
	c.onReleased = fn
	c.mu.Unlock()
}

func (c *Client) OnSnapshot(fn func(matchID uint64, indexes []int)) {
	c.mu.Lock()
	c.onSnapshot = fn
	c.mu.Unlock()
}

func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// Close flushes queued intents (bounded by FlushTimeout), closes the
// connection and stops reconnecting.  It is safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.quit) })
	c.start.Do(func() {
		// Never started: there is nothing to flush.
		_ = c.first.CloseNow()
		close(c.done)
	})
	select {
	case <-c.done:
	case <-time.After(c.opts.FlushTimeout):
	}
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.serve(conn)
		if c.stopping() {
			return
		}
		log.Warn("lock channel disconnected", "url", c.opts.URL, "error", err)

		conn = c.redial()
		if conn == nil {
			return
		}
		log.Info("lock channel reconnected", "url", c.opts.URL)
		c.mu.RLock()
		fn := c.onReconnect
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	}
}

func (c *Client) stopping() bool {
	select {
	case <-c.quit:
		return true
	default:
		return c.ctx.Err() != nil
	}
}

// redial retries with doubling backoff until it connects or the client is
// closed, in which case it returns nil.
func (c *Client) redial() *websocket.Conn {
	backoff := c.opts.MinBackoff
	for {
		select {
		case <-c.quit:
			return nil
		case <-c.ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		conn, err := dial(ctx, c.opts)
		cancel()
		if err == nil {
			return conn
		}
		log.Warn("lock channel redial failed", "url", c.opts.URL, "error", err, "retry_in", backoff)
		if backoff < c.opts.MaxBackoff {
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
		}
	}
}

// serve runs one connection until it breaks or the client is closed.
func (c *Client) serve(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx, conn)
	}()

	err := c.readLoop(ctx, conn)
	cancel()
	<-writerDone
	_ = conn.CloseNow()
	return err
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.out:
			if err := c.write(ctx, conn, m); err != nil {
				log.Debug("lock channel write failed", "type", m.Type, "error", err)
				_ = conn.CloseNow()
				return
			}
		case <-c.quit:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case m := <-c.out:
					if err := c.write(ctx, conn, m); err != nil {
						_ = conn.CloseNow()
						return
					}
				default:
					_ = conn.Close(websocket.StatusNormalClosure, "bye")
					return
				}
			}
		}
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, m wire.Message) error {
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, m)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var m wire.Message
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errors.New("closed by hub")
			}
			return err
		}
		c.dispatch(m)
	}
}

func (c *Client) dispatch(m wire.Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch m.Type {
	case wire.TypeLock:
		if c.onLock != nil {
			c.onLock(m.MatchID, m.Index)
		}
	case wire.TypeUnlock:
		if c.onUnlock != nil {
			c.onUnlock(m.MatchID, m.Index)
		}
	case wire.TypeBooked:
		if c.onBooked != nil {
			c.onBooked(m.MatchID, m.Indexes)
		}
	case wire.TypeReleased:
		if c.onReleased != nil {
			c.onReleased(m.MatchID, m.Indexes)
		}
	case wire.TypeSnapshot:
		if c.onSnapshot != nil {
			c.onSnapshot(m.MatchID, m.Indexes)
		}
	case wire.TypeError:
		log.Warn("lock hub reported an error", "code", m.Code, "message", m.Message)
	default:
		log.Debug("ignoring unknown lock channel frame", "type", m.Type)
	}
}
