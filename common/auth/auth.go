// Package auth validates bearer tokens and exposes the caller's identity to
// handlers. Tokens are trusted as issued: role and store-ownership claims are
// not re-validated against other services.
package auth

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quickbite/delivery-microservices/common/apperr"
)

// Roles used by the platform.
const (
	RoleCustomer   = "customer"
	RoleStoreOwner = "store_owner"
	RoleCourier    = "courier"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID  string
	Roles   []string
	StoreID string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// VerifierConfig selects the signing scheme. RSA (PEM-encoded public key)
// for environments fronted by an identity provider, HMAC for local setups.
type VerifierConfig struct {
	// Client is the resource-access client whose roles apply to this service.
	Client string
	// HMACSecret enables symmetric verification when non-empty.
	HMACSecret string
	// RSAPublicKeyPEM enables asymmetric verification when non-empty.
	RSAPublicKeyPEM string
}

// Verifier parses and validates bearer tokens.
type Verifier struct {
	client     string
	hmacSecret []byte
	rsaKey     *rsa.PublicKey
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{client: cfg.Client}
	switch {
	case cfg.RSAPublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.RSAPublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		v.rsaKey = key
	case cfg.HMACSecret != "":
		v.hmacSecret = []byte(cfg.HMACSecret)
	default:
		return nil, fmt.Errorf("auth: either an HMAC secret or an RSA public key is required")
	}
	return v, nil
}

// Verify validates tokenString and extracts the principal from its claims:
// sub, resource_access.<client>.roles and store_id.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil || !token.Valid {
		return Principal{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid token", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, apperr.New(apperr.KindUnauthenticated, "token has no subject")
	}

	p := Principal{UserID: sub}
	if storeID, ok := claims["store_id"].(string); ok {
		p.StoreID = storeID
	}
	p.Roles = rolesFromClaims(claims, v.client)
	return p, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if v.rsaKey == nil {
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
		return v.rsaKey, nil
	case *jwt.SigningMethodHMAC:
		if v.hmacSecret == nil {
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
		return v.hmacSecret, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
}

func rolesFromClaims(claims jwt.MapClaims, client string) []string {
	access, ok := claims["resource_access"].(map[string]any)
	if !ok {
		return nil
	}
	clientAccess, ok := access[client].(map[string]any)
	if !ok {
		return nil
	}
	rawRoles, ok := clientAccess["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(rawRoles))
	for _, r := range rawRoles {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
