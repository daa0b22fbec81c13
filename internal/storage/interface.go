package storage

import (
	"context"
	"errors"

	"github.com/thalora/thalora-auth/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
)

// UserStore defines the interface for user storage operations
type UserStore interface {
	// Create creates a new user. Username, email and credential ID are
	// unique; a collision on any of them returns ErrAlreadyExists.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByCredentialID retrieves a user by credential ID
	GetByCredentialID(ctx context.Context, credentialID []byte) (*domain.User, error)

	// UpdateSignCount advances the signature counter from old to new as a
	// compare-and-swap. Returns ErrConflict when the stored counter no
	// longer equals old, ErrNotFound when the user does not exist.
	UpdateSignCount(ctx context.Context, id int64, old, new uint32) error
}

// ChallengeStore defines the interface for the ceremony challenge ledger
type ChallengeStore interface {
	// Put stores a challenge, replacing any live challenge for the same
	// (subject, kind) pair.
	Put(ctx context.Context, challenge *domain.Challenge) error

	// Consume atomically removes and returns the challenge for the pair.
	// A missing or expired challenge returns ErrNotFound. Under concurrent
	// calls at most one caller receives the entry.
	Consume(ctx context.Context, subject string, kind domain.CeremonyKind) (*domain.Challenge, error)

	// DeleteExpired deletes all expired challenges
	DeleteExpired(ctx context.Context) error
}

// Store aggregates all storage interfaces
type Store interface {
	Users() UserStore
	Challenges() ChallengeStore

	// Close closes the storage connection
	Close() error

	// Ping checks if the storage is alive
	Ping(ctx context.Context) error
}
