package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenClaims is the token body issued by the identity service.
// Contact fields are optional and feed the payer details on payment orders.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Staff  bool      `json:"staff,omitempty"`
	Name   string    `json:"name,omitempty"`
	Email  string    `json:"email,omitempty"`
	Phone  string    `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Staff  bool
	Name   string
	Email  string
	Phone  string
}

func (c *AccessTokenClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{UserID: c.UserID, Staff: c.Staff, Name: c.Name, Email: c.Email, Phone: c.Phone}
}

// CanAccess reports whether the actor owns the resource or is staff.
func (a Actor) CanAccess(owner uuid.UUID) bool {
	if a.Staff {
		return true
	}
	return a.UserID != uuid.Nil && a.UserID == owner
}
