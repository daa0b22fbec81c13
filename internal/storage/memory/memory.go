package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/thalora/thalora-auth/internal/domain"
	"github.com/thalora/thalora-auth/internal/storage"
)

// Store implements an in-memory storage
type Store struct {
	users      *UserStore
	challenges *ChallengeStore
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		users:      &UserStore{data: make(map[int64]*domain.User)},
		challenges: &ChallengeStore{data: make(map[string]*domain.Challenge)},
	}
}

func (s *Store) Users() storage.UserStore           { return s.users }
func (s *Store) Challenges() storage.ChallengeStore { return s.challenges }
func (s *Store) Close() error                       { return nil }
func (s *Store) Ping(ctx context.Context) error     { return nil }

// UserStore implements in-memory user storage
type UserStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.User
	nextID int64
}

func (s *UserStore) Create(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data {
		if existing.Username == user.Username ||
			existing.Email == user.Email ||
			bytes.Equal(existing.CredentialID, user.CredentialID) {
			return storage.ErrAlreadyExists
		}
	}

	s.nextID++
	user.ID = s.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	s.data[user.ID] = user.Clone()
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return user.Clone(), nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.data {
		if user.Username == username {
			return user.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.data {
		if user.Email == email {
			return user.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *UserStore) GetByCredentialID(ctx context.Context, credentialID []byte) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.data {
		if bytes.Equal(user.CredentialID, credentialID) {
			return user.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *UserStore) UpdateSignCount(ctx context.Context, id int64, old, new uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if user.SignCount != old {
		return storage.ErrConflict
	}

	user.SignCount = new
	user.UpdatedAt = time.Now()
	return nil
}

// ChallengeStore implements the in-memory ceremony ledger
type ChallengeStore struct {
	mu   sync.Mutex
	data map[string]*domain.Challenge
}

func (s *ChallengeStore) Put(ctx context.Context, challenge *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *challenge
	s.data[challenge.Key()] = &c
	return nil
}

func (s *ChallengeStore) Consume(ctx context.Context, subject string, kind domain.CeremonyKind) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.ChallengeKey(subject, kind)
	challenge, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	delete(s.data, key)

	if challenge.IsExpired() {
		return nil, storage.ErrNotFound
	}
	return challenge, nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, challenge := range s.data {
		if now.After(challenge.ExpiresAt) {
			delete(s.data, key)
		}
	}
	return nil
}
