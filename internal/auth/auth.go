// Package auth turns bearer tokens into a verified Identity.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shopqueue-backend/internal/apperr"
)

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Identity is the verified caller. ProviderID is set for staff only.
type Identity struct {
	Subject    string
	Role       string
	ProviderID int64
}

// IsStaffOf reports whether the identity works for the provider.
func (i Identity) IsStaffOf(providerID int64) bool {
	return i.Role == RoleStaff && i.ProviderID == providerID
}

// IsAdmin reports whether the identity manages the provider catalog.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanManage reports whether the identity may act for the provider.
func (i Identity) CanManage(providerID int64) bool {
	return i.IsAdmin() || i.IsStaffOf(providerID)
}

// Verifier verifies a raw bearer token.
type Verifier interface {
	Verify(token string) (Identity, error)
}

type claims struct {
	Role       string `json:"role"`
	ProviderID int64  `json:"provider_id,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier verifies HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	issuer string
}

// NewHMACVerifier creates a verifier. An empty issuer accepts any issuer.
func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *HMACVerifier) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", apperr.ErrUnauthorized)
	}

	id := Identity{Subject: c.Subject, Role: c.Role}
	switch c.Role {
	case RoleCustomer, "":
		id.Role = RoleCustomer
	case RoleAdmin:
	case RoleStaff:
		if c.ProviderID <= 0 {
			return Identity{}, fmt.Errorf("%w: staff token without provider_id", apperr.ErrUnauthorized)
		}
		id.ProviderID = c.ProviderID
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", apperr.ErrUnauthorized, c.Role)
	}
	return id, nil
}

// Issue signs a token for id valid for ttl.
func (v *HMACVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role:       id.Role,
		ProviderID: id.ProviderID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
