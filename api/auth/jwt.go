package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are carried by appcore bearer tokens. WorkspaceID scopes every
// request made with the token.
type Claims struct {
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// Validator verifies HS256 bearer tokens signed with a shared secret. A
// validator without a secret is disabled and lets every request through.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

func (v *Validator) Enabled() bool {
	return len(v.secret) > 0
}

// Sign issues a token for a workspace. Used by the token command and tests.
func (v *Validator) Sign(workspaceID, subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := &Claims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Validator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.WorkspaceID == "" {
		return nil, fmt.Errorf("token has no workspace_id claim")
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browsers cannot set headers on websocket upgrades.
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid bearer token and stores the
// claims in the request context.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	if !v.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := v.Validate(token)
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// WorkspaceAllowed reports whether the caller may act in workspaceID.
// Without claims (auth disabled) every workspace is allowed.
func WorkspaceAllowed(ctx context.Context, workspaceID string) bool {
	c, ok := FromContext(ctx)
	return !ok || c.WorkspaceID == workspaceID
}
