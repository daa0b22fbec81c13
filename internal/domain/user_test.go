package domain

import (
	"strings"
	"testing"
)

func TestValidUsername(t *testing.T) {
	cases := []struct {
		name     string
		username string
		want     bool
	}{
		{"minimum length", "abc", true},
		{"typical", "alice_doe", true},
		{"maximum length", strings.Repeat("a", MaxUsernameLength), true},
		{"too short", "ab", false},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidUsername(tc.username); got != tc.want {
				t.Errorf("ValidUsername(%q) = %v, want %v", tc.username, got, tc.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	cases := []struct {
		name  string
		email string
		want  bool
	}{
		{"typical", "alice@example.com", true},
		{"subdomain", "a@mail.example.co.uk", true},
		{"plus addressing", "alice+tags@example.com", true},
		{"empty", "", false},
		{"no at sign", "alice.example.com", false},
		{"no domain", "alice@", false},
		{"display name form", "Alice <alice@example.com>", false},
		{"too long", strings.Repeat("a", MaxEmailLength) + "@example.com", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidEmail(tc.email); got != tc.want {
				t.Errorf("ValidEmail(%q) = %v, want %v", tc.email, got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := NormalizeUsername("  Alice  "); got != "Alice" {
		t.Errorf("NormalizeUsername = %q, want %q", got, "Alice")
	}
	if got := NormalizeEmail(" Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail = %q, want %q", got, "alice@example.com")
	}
}

func TestUserClone(t *testing.T) {
	u := &User{
		ID:           1,
		Username:     "alice",
		CredentialID: []byte{1, 2, 3},
		PublicKey:    []byte{4, 5, 6},
		SignCount:    7,
	}

	c := u.Clone()
	c.CredentialID[0] = 9
	c.SignCount = 42

	if u.CredentialID[0] != 1 {
		t.Error("Clone shares credential ID backing array")
	}
	if u.SignCount != 7 {
		t.Error("Clone shares scalar state")
	}
}

func TestChallengeKey(t *testing.T) {
	c := &Challenge{Subject: "alice", Kind: CeremonyLogin}
	if c.Key() != "login:alice" {
		t.Errorf("Key() = %q", c.Key())
	}
	if ChallengeKey("alice", CeremonyRegistration) == c.Key() {
		t.Error("registration and login challenges must not collide")
	}
}
