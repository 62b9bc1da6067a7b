package handler // declare the package name; contains HTTP handlers

import (
    "context"      // context bounds the readiness ping
    "database/sql" // sql.DB is pinged by Ready
    "net/http"     // net/http provides status codes and response helpers
    "time"         // time sets the ping deadline

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Health is a simple health‑check endpoint used by load balancers and
// monitoring systems to verify that the service is running.  It returns
// a plain text "ok" message with an HTTP 200 status code.
func Health(c echo.Context) error { // Health handler signature accepts an echo context and returns an error
    return c.String(http.StatusOK, "ok") // write "ok" with a 200 OK status; String writes plain text
}

// Ready reports whether the database answers within a second.  It backs
// GET /readyz so that an instance is taken out of rotation while its
// database is unreachable.
func Ready(db *sql.DB) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second) // bound the ping
        defer cancel()
        if err := db.PingContext(ctx); err != nil { // unreachable database means not ready
            return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "database unavailable"})
        }
        return c.String(http.StatusOK, "ready")
    }
}
