package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"sigillum/pkg/domain"
)

// JWTValidator defines the interface for validating bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator. Owner is
// the ledger account address the token was issued for.
type JWTClaims struct {
	Owner     domain.OwnerAddress
	SessionID string
}

// Context keys for storing authenticated caller information.
type contextKeyOwner struct{}
type contextKeySessionID struct{}

var (
	ContextKeyOwner     = contextKeyOwner{}
	ContextKeySessionID = contextKeySessionID{}
)

// GetOwner retrieves the authenticated owner address from the context.
func GetOwner(ctx context.Context) domain.OwnerAddress {
	owner, ok := ctx.Value(ContextKeyOwner).(domain.OwnerAddress)
	if !ok {
		return ""
	}
	return owner
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	sessionID, ok := ctx.Value(ContextKeySessionID).(string)
	if !ok {
		return ""
	}
	return sessionID
}

// RequireAuth validates the bearer token and stores the owner address in the
// request context. Registration submission is authenticated; reads are not.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				writeUnauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyOwner, claims.Owner)
			ctx = context.WithValue(ctx, ContextKeySessionID, claims.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
}

// HMACValidator validates HS256 tokens carrying an "owner" claim.
type HMACValidator struct {
	signingKey []byte
}

func NewHMACValidator(signingKey string) *HMACValidator {
	return &HMACValidator{signingKey: []byte(signingKey)}
}

func (v *HMACValidator) ValidateToken(tokenString string) (*JWTClaims, error) {
	type ownerClaims struct {
		Owner     string `json:"owner"`
		SessionID string `json:"sid,omitempty"`
		jwt.RegisteredClaims
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &ownerClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*ownerClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	owner, err := domain.ParseOwnerAddress(claims.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner claim: %w", err)
	}
	return &JWTClaims{Owner: owner, SessionID: claims.SessionID}, nil
}
