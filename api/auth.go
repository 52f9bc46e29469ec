/*
auth.go - Caller identity

PURPOSE:
  Verifies bearer JWTs (HS256) and exposes the caller to handlers.

CLAIMS:
  sub:   user id
  role:  member | teacher | store | admin
  exp:   required

RULES:
  - No secret configured: authentication is off, every caller is trusted
    (development and tests).
  - /api/users/{id}/* and spend calls: the caller must be that user or an
    admin.
  - Creating courses and completing enrollments: teacher or admin.
    Merchants, products and sales: store or admin.
  - /api/admin/*, /api/settlements/*, /api/scenarios/*, fees and
    enrollment cancellation (including course refunds through
    /api/spend/refund): admin only.
  - GET /api/certificates/{code} is public.

SEE ALSO:
  - token.go: Spend authorization tokens (a different secret)
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
)

// Claims are the identity claims carried by a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (c *Claims) UserID() generic.EntityID { return generic.EntityID(c.Subject) }

func (c *Claims) IsAdmin() bool { return c.Role == string(coin.RoleAdmin) }

type claimsKey struct{}

var errMissingToken = errors.New("missing bearer token")

// Authenticator issues and verifies identity tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil when secret is empty, which disables
// authentication.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for userID. Used by operators and tests; there is no
// login endpoint.
func (a *Authenticator) Issue(userID generic.EntityID, role coin.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) verify(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if header == "" || raw == header {
		return nil, errMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, errors.New("token must carry sub and exp")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.verify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// =============================================================================
// GUARDS
// =============================================================================

// requireRole admits admins and callers holding one of roles. It is a
// no-op when authentication is off.
func (h *Handler) requireRole(roles ...coin.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.auth != nil && !hasRole(r, roles) {
				writeError(w, http.StatusForbidden, "role not allowed", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(r *http.Request, roles []coin.Role) bool {
	c, ok := CallerFrom(r.Context())
	if !ok {
		return false
	}
	if c.IsAdmin() {
		return true
	}
	for _, role := range roles {
		if c.Role == string(role) {
			return true
		}
	}
	return false
}

// requireSelf guards /users/{id}: the caller must be that user or an admin.
func (h *Handler) requireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.allowedFor(w, r, string(userParam(r))) {
			next.ServeHTTP(w, r)
		}
	})
}

// allowedFor reports whether the caller may act on userID's coins.
func (h *Handler) allowedFor(w http.ResponseWriter, r *http.Request, userID string) bool {
	if h.auth == nil {
		return true
	}
	c, ok := CallerFrom(r.Context())
	if ok && (c.IsAdmin() || c.Subject == userID) {
		return true
	}
	writeError(w, http.StatusForbidden, "not allowed for this user", nil)
	return false
}
