package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/hex"
    "net/http"

    "github.com/charmbracelet/log"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/vmihailenco/msgpack/v5"

    "github.com/iliyamo/slot-reservation/internal/config"
)

// cachedResponse is what the cache stores per key, msgpack encoded.
type cachedResponse struct {
    Status int         `msgpack:"s"`
    Header http.Header `msgpack:"h"`
    Body   []byte      `msgpack:"b"`
}

// captureWriter tees the response body while it is written to the client.
// Once the body passes limit the capture is abandoned.
type captureWriter struct {
    http.ResponseWriter
    status   int
    buf      bytes.Buffer
    limit    int
    overflow bool
}

func (cw *captureWriter) WriteHeader(code int) {
    cw.status = code
    cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
    if !cw.overflow {
        if cw.limit > 0 && cw.buf.Len()+len(b) > cw.limit {
            cw.overflow = true
            cw.buf.Reset()
        } else {
            cw.buf.Write(b)
        }
    }
    return cw.ResponseWriter.Write(b)
}

// cacheKey hashes the concrete path and query, so /v1/matches/7 and
// /v1/matches/8 never share an entry.
func cacheKey(prefix string, r *http.Request) string {
    sum := sha1.Sum([]byte(r.URL.Path + "?" + r.URL.RawQuery))
    return prefix + ":" + hex.EncodeToString(sum[:])
}

// NewRedisCache caches successful public match reads (headers and body) in
// Redis.  Only anonymous GETs are served from or written to the cache;
// anything carrying a token may be personalised and always reaches the
// handler.  Occupancy endpoints must not be mounted behind it: the booked
// snapshot has to be fresh.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            if req.Method != http.MethodGet || bearerToken(c) != "" {
                return next(c)
            }
            ctx := req.Context()
            key := cacheKey(cfg.Prefix, req)

            if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
                var hit cachedResponse
                if err := msgpack.Unmarshal(raw, &hit); err == nil {
                    return replay(c, hit)
                }
                log.Warn("discarding unreadable cache entry", "key", key)
            } else if err != redis.Nil {
                log.Warn("response cache read failed", "key", key, "error", err)
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.overflow {
                return nil
            }

            entry := cachedResponse{Status: cw.status, Header: c.Response().Header().Clone(), Body: cw.buf.Bytes()}
            entry.Header.Del("X-Cache")
            raw, err := msgpack.Marshal(entry)
            if err == nil {
                // The request context may already be cancelled once the
                // client has its response.
                err = rdb.Set(context.Background(), key, raw, cfg.TTL).Err()
            }
            if err != nil {
                log.Warn("response cache write failed", "key", key, "error", err)
            }
            return nil
        }
    }
}

func replay(c echo.Context, hit cachedResponse) error {
    h := c.Response().Header()
    for k, vals := range hit.Header {
        if k == echo.HeaderContentLength {
            continue
        }
        for _, v := range vals {
            h.Add(k, v)
        }
    }
    h.Set("X-Cache", "HIT")
    return c.Blob(hit.Status, h.Get(echo.HeaderContentType), hit.Body)
}
