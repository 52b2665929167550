package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickbite/delivery-microservices/common/apperr"
)

const testSecret = "test-secret"

func signHMAC(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func hmacVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{Client: "delivery-platform", HMACSecret: testSecret})
	require.NoError(t, err)
	return v
}

func TestVerifyExtractsPrincipal(t *testing.T) {
	v := hmacVerifier(t)

	token := signHMAC(t, jwt.MapClaims{
		"sub":      "user-1",
		"store_id": "store-9",
		"resource_access": map[string]any{
			"delivery-platform": map[string]any{
				"roles": []any{"customer", "store_owner"},
			},
		},
	}, testSecret)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "store-9", p.StoreID)
	assert.True(t, p.HasRole(RoleCustomer))
	assert.True(t, p.HasRole(RoleStoreOwner))
	assert.False(t, p.HasRole(RoleCourier))
}

func TestVerifyRolesScopedToClient(t *testing.T) {
	v := hmacVerifier(t)

	token := signHMAC(t, jwt.MapClaims{
		"sub": "user-1",
		"resource_access": map[string]any{
			"other-client": map[string]any{"roles": []any{"customer"}},
		},
	}, testSecret)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Empty(t, p.Roles, "roles of another client must not apply")
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	v := hmacVerifier(t)
	token := signHMAC(t, jwt.MapClaims{"sub": "user-1"}, "wrong-secret")

	_, err := v.Verify(token)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	v := hmacVerifier(t)
	token := signHMAC(t, jwt.MapClaims{"store_id": "store-9"}, testSecret)

	_, err := v.Verify(token)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestVerifierRequiresAKey(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{Client: "delivery-platform"})
	assert.Error(t, err)
}
