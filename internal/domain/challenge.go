package domain

import (
	"time"
)

// CeremonyKind distinguishes the two passkey ceremonies.
type CeremonyKind string

const (
	CeremonyRegistration CeremonyKind = "registration"
	CeremonyLogin        CeremonyKind = "login"
)

// Challenge is a pending ceremony ledger entry: a single-use random value
// bound to a subject and ceremony kind. For registration it also carries the
// pending identity supplied at begin time, so completion never trusts
// client-resent identity fields.
type Challenge struct {
	// Subject is the username (login) or the base64url provisional user
	// handle (registration) the challenge is bound to.
	Subject string       `json:"subject" bson:"subject"`
	Kind    CeremonyKind `json:"kind" bson:"kind"`

	// Value is the base64url (unpadded) encoding of the random challenge
	// bytes the client must echo back in its signed client data.
	Value string `json:"value" bson:"value"`

	// Pending registration identity. Empty for login challenges.
	Username   string `json:"username,omitempty" bson:"username,omitempty"`
	Email      string `json:"email,omitempty" bson:"email,omitempty"`
	UserHandle []byte `json:"user_handle,omitempty" bson:"user_handle,omitempty"`

	IssuedAt  time.Time `json:"issued_at" bson:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// Key identifies the ledger slot. At most one live challenge exists per
// (subject, kind) pair; issuing a new one overwrites the previous entry.
func (c *Challenge) Key() string {
	return ChallengeKey(c.Subject, c.Kind)
}

// ChallengeKey builds the ledger key for a subject and ceremony kind.
func ChallengeKey(subject string, kind CeremonyKind) string {
	return string(kind) + ":" + subject
}

// ExpiredAt reports whether the challenge is stale at the given instant.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsExpired checks the challenge against the wall clock.
func (c *Challenge) IsExpired() bool {
	return c.ExpiredAt(time.Now())
}
