package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/forumchat/pkg"
)

// InspectToken checks a session token locally before it is sent anywhere.
//
// Opaque tokens (the cookie sessions of the forum server) always pass: only
// the server can judge them. JWTs are parsed without verifying the signature,
// since the client does not hold the key, and fail with ErrUnauthorized once
// their exp claim has passed.
func InspectToken(token string) error {
	if !looksLikeJWT(token) {
		return nil
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("%w: unreadable token: %v", pkg.ErrUnauthorized, err)
	}

	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		return fmt.Errorf("%w: token expired at %s", pkg.ErrUnauthorized, claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// looksLikeJWT reports whether token has the header.payload.signature shape.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2 && !strings.ContainsAny(token, " \t")
}
