// Package domain contains core domain types for the demo shop.
package domain

import (
	"time"
)

// Roles a shop account can hold.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a shop account. PasswordHash never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Role         string    `json:"role"`
	FullName     string    `json:"full_name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the user may use admin-only routes.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Address is the single shipping address attached to a user.
type Address struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// AddressPatch carries optional address fields. Nil means "keep what is stored".
type AddressPatch struct {
	Line1      *string `json:"line1,omitempty"`
	Line2      *string `json:"line2,omitempty"`
	City       *string `json:"city,omitempty"`
	State      *string `json:"state,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
	Country    *string `json:"country,omitempty"`
}

// Apply merges the patch over base. Empty strings count as missing except for
// Line2, which may be cleared explicitly.
func (p AddressPatch) Apply(base Address) Address {
	pick := func(v *string, fallback string) string {
		if v == nil || *v == "" {
			return fallback
		}
		return *v
	}
	out := base
	out.Line1 = pick(p.Line1, base.Line1)
	if p.Line2 != nil {
		out.Line2 = *p.Line2
	}
	out.City = pick(p.City, base.City)
	out.State = pick(p.State, base.State)
	out.PostalCode = pick(p.PostalCode, base.PostalCode)
	out.Country = pick(p.Country, base.Country)
	return out
}

// PlaceholderAddress is used when an address is created from a partial patch.
func PlaceholderAddress(userID int64) Address {
	return Address{
		UserID:     userID,
		Line1:      "Unknown",
		Line2:      "",
		City:       "Unknown",
		State:      "Unknown",
		PostalCode: "00000",
		Country:    "USA",
	}
}
