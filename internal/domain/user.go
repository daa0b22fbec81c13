package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Username and email limits enforced at ceremony begin time.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 255
	MaxEmailLength    = 320
)

// User represents one passkey-authenticated account. A user row exists only
// after a registration ceremony completes; an abandoned registration leaves
// no trace beyond an expiring challenge.
type User struct {
	ID       int64  `json:"user_id" bson:"_id"`
	Username string `json:"username" bson:"username"`
	Email    string `json:"email" bson:"email"`

	// UserHandle is the opaque WebAuthn user handle minted at registration
	// begin and persisted so login assertions carrying a user handle can be
	// checked against it.
	UserHandle []byte `json:"-" bson:"user_handle"`

	// CredentialID and PublicKey identify and verify the registered
	// authenticator credential.
	CredentialID []byte `json:"-" bson:"credential_id"`
	PublicKey    []byte `json:"-" bson:"public_key"`

	// SignCount is the authenticator's signature counter. It only moves
	// forward; a repeated or regressed value on login is treated as a cloned
	// credential.
	SignCount uint32 `json:"-" bson:"sign_count"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Clone returns a copy of the user so callers can hold a stable snapshot
// while the store mutates the original (e.g. the sign counter).
func (u *User) Clone() *User {
	c := *u
	c.UserHandle = append([]byte(nil), u.UserHandle...)
	c.CredentialID = append([]byte(nil), u.CredentialID...)
	c.PublicKey = append([]byte(nil), u.PublicKey...)
	return &c
}

// NormalizeUsername trims surrounding whitespace. Usernames are
// case-sensitive, so no case folding happens here.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// NormalizeEmail trims and lowercases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidUsername reports whether the (normalized) username is acceptable.
func ValidUsername(username string) bool {
	return len(username) >= MinUsernameLength && len(username) <= MaxUsernameLength
}

// ValidEmail reports whether the (normalized) address is acceptable.
func ValidEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject "Name <a@b>" forms; only the bare address is accepted.
	return addr.Address == email
}
