package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidata-ai/lucid-engine/pkg/config"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestJWTResolverUnverifiedMode(t *testing.T) {
	resolver, err := NewJWTResolver(context.Background(), &config.AuthConfig{EnableVerification: false})
	require.NoError(t, err)

	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "org-1",
		Email:    "dev@example.com",
		Role:     "analyst",
		Plan:     "pro",
	})

	p, err := resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "org-1", p.TenantID)
	assert.Equal(t, models.RoleAnalyst, p.Role)
	assert.Equal(t, models.PlanPro, p.Plan)
}

func TestJWTResolverUnknownRoleAndPlanDegrade(t *testing.T) {
	resolver, err := NewJWTResolver(context.Background(), &config.AuthConfig{EnableVerification: false})
	require.NoError(t, err)

	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		TenantID:         "org-1",
		Role:             "superuser",
		Plan:             "platinum",
	})

	p, err := resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, p.Role)
	assert.Equal(t, models.PlanFree, p.Plan)
}

func TestJWTResolverRejectsIncompleteClaims(t *testing.T) {
	resolver, err := NewJWTResolver(context.Background(), &config.AuthConfig{EnableVerification: false})
	require.NoError(t, err)

	tests := []struct {
		name   string
		claims *Claims
	}{
		{"missing subject", &Claims{TenantID: "org-1"}},
		{"missing tenant", &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), signToken(t, tt.claims))
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestJWTResolverRejectsGarbage(t *testing.T) {
	resolver, err := NewJWTResolver(context.Background(), &config.AuthConfig{EnableVerification: false})
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTResolverRequiresJWKSURLWhenVerifying(t *testing.T) {
	_, err := NewJWTResolver(context.Background(), &config.AuthConfig{EnableVerification: true})
	assert.Error(t, err)
}

func TestStaticResolver(t *testing.T) {
	resolver := NewStaticResolver(map[string]*Principal{
		"local-token": {UserID: "user-1", TenantID: "org-1", Role: models.RoleAdmin, Plan: models.PlanEnterprise},
	})

	p, err := resolver.Resolve(context.Background(), "local-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)

	_, err = resolver.Resolve(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	p := &Principal{UserID: "user-1", TenantID: "org-1"}
	ctx := WithPrincipal(context.Background(), p)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
