// Package auth issues and validates the HS256 bearer tokens that gate
// /sync/pull and /sync/push.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gigpilot/sync-core/internal/syncx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const ctxUserID ctxKey = "uid"

// JWTCfg holds the HS256 signing/validation configuration.
type JWTCfg struct {
	Secret          string
	ExpirationHours int
}

// Claims is the {sub, exp, iat} claim set carried by sync tokens.
type Claims struct {
	Sub string `json:"sub"`
	jwt.RegisteredClaims
}

// IssueToken mints a signed HS256 token for userID, expiring after
// cfg.ExpirationHours (defaulting to 24).
func IssueToken(userID uuid.UUID, cfg JWTCfg) (string, error) {
	hours := cfg.ExpirationHours
	if hours <= 0 {
		hours = 24
	}
	now := time.Now()
	claims := Claims{
		Sub: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ValidateToken parses and verifies a token, returning the subject
// (user id) claim.
func ValidateToken(tokenString string, cfg JWTCfg) (string, error) {
	if tokenString == "" {
		return "", errors.New("token is empty")
	}
	if cfg.Secret == "" {
		return "", errors.New("JWT secret not configured")
	}

	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return "", fmt.Errorf("jwt validation failed: %w", err)
	}
	if claims.Sub == "" {
		return "", errors.New("missing sub claim")
	}
	return claims.Sub, nil
}

// Middleware authenticates requests via the Authorization: Bearer
// header, storing the validated user id in request context.
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			tok, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || tok == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sub, err := ValidateToken(tok, cfg)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("jwt validation failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			userID, ok := syncx.ParseUUID(sub)
			if !ok {
				log.Ctx(r.Context()).Warn().Str("sub", sub).Msg("sub claim is not a valid user id")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated user id from request context.
// Returns uuid.Nil if absent, which should never happen downstream of
// Middleware.
func UserID(ctx context.Context) uuid.UUID {
	if v := ctx.Value(ctxUserID); v != nil {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
