package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "errors"   // errors builds the sentinel returned for malformed claims
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
    "github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers
)

// ErrInvalidClaims is returned by ParseToken when the token verifies but does
// not carry the expected claim shapes.
var ErrInvalidClaims = errors.New("invalid claims")

// ParseToken verifies an HS256 access token against secret and returns its
// subject and role claims.  The subject is returned as it appears in the
// token (a decimal string from utils.NewAccessToken; other issuers may use
// a number).  UserID normalises it.
func ParseToken(secret, raw string) (sub interface{}, role string, err error) {
    // The callback supplies the signing key and ensures the algorithm is HMAC.
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, echo.ErrUnauthorized
        }
        return []byte(secret), nil
    })
    if err != nil {
        return nil, "", err
    }
    if !tok.Valid {
        return nil, "", jwt.ErrTokenInvalidClaims
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return nil, "", ErrInvalidClaims
    }
    role, _ = claims["role"].(string)
    return claims["sub"], role, nil
}

// bearerToken returns the raw token from the Authorization header, or from
// the "token" query parameter when the header is absent.  Browsers cannot
// set headers on a websocket upgrade, which is why the query form exists.
func bearerToken(c echo.Context) string {
    if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
        return strings.TrimPrefix(auth, "Bearer ")
    }
    return c.QueryParam("token")
}

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.  The
// provided secret must match the one used when issuing tokens.  Handlers
// read the authenticated user via `c.Get("user_id")` and `c.Get("role")`.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearerToken(c) // header first, then ?token=
            if raw == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            sub, role, err := ParseToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            // Store the subject (user ID) and role claims in the context.
            // We leave type assertions to downstream consumers.
            c.Set("user_id", sub)
            c.Set("role", role)
            return next(c)
        }
    }
}

// OptionalJWT is like JWTAuth but lets anonymous requests through.  A token
// that is present but invalid is still rejected.
func OptionalJWT(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearerToken(c)
            if raw == "" {
                return next(c) // anonymous viewer
            }
            sub, role, err := ParseToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            c.Set("user_id", sub)
            c.Set("role", role)
            return next(c)
        }
    }
}
