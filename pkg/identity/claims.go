// Package identity resolves bearer tokens into the requesting principal.
// Tokens are validated against the identity provider's JWKS endpoint.
package identity

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// principalKey is the context key for the resolved principal.
const principalKey contextKey = "principal"

// ErrUnauthenticated is returned when a token is missing, malformed, or
// fails verification.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the JWT claims structure issued by the identity provider.
// RegisteredClaims covers the standard fields (sub, iss, exp).
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	Plan     string `json:"plan,omitempty"`
}

// Principal is the authenticated caller of one request.
type Principal struct {
	UserID   string
	TenantID string
	Email    string
	Role     models.Role
	Plan     models.Plan
}

// Resolver turns a bearer token into a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Principal, error)
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the principal from the request context.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// principalFromClaims maps verified claims onto a principal. Unknown roles
// degrade to viewer and unknown plans to free.
func principalFromClaims(claims *Claims) (*Principal, error) {
	if claims.Subject == "" {
		return nil, errors.New("missing subject claim")
	}
	if claims.TenantID == "" {
		return nil, errors.New("missing tenant claim")
	}

	role := models.Role(claims.Role)
	if !models.IsValidRole(role) {
		role = models.RoleViewer
	}

	plan := models.Plan(claims.Plan)
	switch plan {
	case models.PlanFree, models.PlanPro, models.PlanTeam, models.PlanEnterprise:
	default:
		plan = models.PlanFree
	}

	return &Principal{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Role:     role,
		Plan:     plan,
	}, nil
}
