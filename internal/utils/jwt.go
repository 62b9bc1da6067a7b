// Package utils provides helper functions for token creation.  Accounts and
// token issuance belong to the identity service; the signer here exists so
// that local tooling (slotctl token) and tests can mint tokens the API
// accepts.
package utils

import (
    "strconv" // subject is the decimal user id
    "time"    // expiry and issue timestamps

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// AccessToken is a signed HS256 token and the moment it stops being
// accepted.
type AccessToken struct {
    Token string    // compact JWS, sent as "Authorization: Bearer <Token>" or ?token=
    Exp   time.Time // UTC expiry
}

// Claims is the claim set the API reads: the user id as the subject and
// the role that RequireRole checks.
type Claims struct {
    Role string `json:"role"`
    jwt.RegisteredClaims
}

// NewAccessToken signs a token for userID with the given role that expires
// ttlMin minutes from now.
func NewAccessToken(secret string, userID uint64, role string, ttlMin int) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlMin) * time.Minute)
    claims := Claims{
        Role: role,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   strconv.FormatUint(userID, 10),
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}
