package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload for access tokens issued by the identity provider.
type JWTClaims struct {
	UserID       string   `json:"user_id"`
	Roles        []string `json:"roles"`
	SchoolID     string   `json:"school_id"`
	SchoolActive *bool    `json:"school_active,omitempty"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller as supplied by the upstream auth layer.
type Identity struct {
	UserID       string
	Roles        []string
	SchoolID     string
	SchoolActive bool
}

// Identity extracts the caller identity. Tenant activation is enforced by the
// issuer; an absent flag means the issuer already checked it.
func (c *JWTClaims) Identity() Identity {
	if c == nil {
		return Identity{}
	}
	active := true
	if c.SchoolActive != nil {
		active = *c.SchoolActive
	}
	roles := make([]string, len(c.Roles))
	copy(roles, c.Roles)
	return Identity{
		UserID:       c.UserID,
		Roles:        roles,
		SchoolID:     c.SchoolID,
		SchoolActive: active,
	}
}
