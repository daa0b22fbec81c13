package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thalora/thalora-auth/internal/domain"
	"github.com/thalora/thalora-auth/internal/storage"
	"github.com/thalora/thalora-auth/pkg/config"
)

// Ceremony errors surfaced to the API layer.
var (
	ErrInvalidUsername           = errors.New("invalid username")
	ErrInvalidEmail              = errors.New("invalid email")
	ErrDuplicateUsername         = errors.New("username already exists")
	ErrDuplicateEmail            = errors.New("email already exists")
	ErrUnknownUsername           = errors.New("user not found")
	ErrChallengeExpiredOrMissing = errors.New("no ceremony in progress")
	ErrInvalidCredential         = errors.New("invalid credential")
)

// challengeTimeoutMillis is the client-side timeout advertised in ceremony
// options. Matches the server-side challenge TTL default.
const challengeTimeoutMillis = 60000

const challengeSize = 32

// AuthResult is a completed ceremony: the account plus a fresh session token.
type AuthResult struct {
	User  *domain.User
	Token string
}

// PasskeyService runs the registration and login ceremonies.
type PasskeyService struct {
	store    storage.Store
	cfg      *config.Config
	logger   *zap.Logger
	verifier Verifier
	sessions SessionIssuer

	// Injectable for deterministic tests.
	now  func() time.Time
	rand io.Reader
}

// NewPasskeyService creates a new PasskeyService. The verifier selection
// (real vs stub) is the caller's decision, made once at startup.
func NewPasskeyService(store storage.Store, cfg *config.Config, logger *zap.Logger, verifier Verifier, sessions SessionIssuer) *PasskeyService {
	return &PasskeyService{
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("passkey-service"),
		verifier: verifier,
		sessions: sessions,
		now:      time.Now,
		rand:     rand.Reader,
	}
}

// TestModeEnabled reports whether the stub verifier is active.
func (s *PasskeyService) TestModeEnabled() bool {
	return s.cfg.Security.TestMode
}

// BeginRegistration validates the requested identity, issues a registration
// challenge and returns the credential creation options. No user row is
// created until the ceremony completes.
func (s *PasskeyService) BeginRegistration(ctx context.Context, username, email string) (*RegistrationOptions, error) {
	username = domain.NormalizeUsername(username)
	email = domain.NormalizeEmail(email)

	if !domain.ValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if !domain.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	if _, err := s.store.Users().GetByUsername(ctx, username); err == nil {
		return nil, ErrDuplicateUsername
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	if _, err := s.store.Users().GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	userHandle := uuid.New()
	subject := encodeBase64url(userHandle[:])

	challenge, err := s.issueChallenge(ctx, &domain.Challenge{
		Subject:    subject,
		Kind:       domain.CeremonyRegistration,
		Username:   username,
		Email:      email,
		UserHandle: userHandle[:],
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Started registration",
		zap.String("username", username),
		zap.String("user_handle", subject),
	)

	return &RegistrationOptions{
		Challenge: challenge.Value,
		UserID:    subject,
		Timeout:   challengeTimeoutMillis,
		RP: RelyingParty{
			ID:   s.cfg.Server.RPID,
			Name: s.cfg.Server.RPName,
		},
		User: UserEntity{
			ID:          subject,
			Name:        username,
			DisplayName: username,
		},
		PubKeyCredParams: []CredentialParameter{
			{Alg: -7, Type: "public-key"},   // ES256
			{Alg: -257, Type: "public-key"}, // RS256
		},
		AuthenticatorSelection: AuthenticatorSelection{
			RequireResidentKey: false,
			ResidentKey:        "preferred",
			UserVerification:   "preferred",
		},
		Attestation: "none",
	}, nil
}

// FinishRegistration consumes the pending challenge, verifies the
// authenticator response and creates the account. The challenge is spent
// whether or not verification succeeds.
func (s *PasskeyService) FinishRegistration(ctx context.Context, userHandle string, payload *CredentialPayload) (*AuthResult, error) {
	challenge, err := s.store.Challenges().Consume(ctx, userHandle, domain.CeremonyRegistration)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeExpiredOrMissing
		}
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if challenge.ExpiredAt(s.now()) {
		return nil, ErrChallengeExpiredOrMissing
	}

	verified, err := s.verifier.VerifyRegistration(&RegistrationExpectation{
		Challenge:  challenge.Value,
		UserHandle: challenge.UserHandle,
		Username:   challenge.Username,
	}, payload)
	if err != nil {
		s.logger.Warn("Registration verification failed",
			zap.String("username", challenge.Username),
			zap.Error(err),
		)
		return nil, ErrInvalidCredential
	}

	user := &domain.User{
		Username:     challenge.Username,
		Email:        challenge.Email,
		UserHandle:   challenge.UserHandle,
		CredentialID: verified.CredentialID,
		PublicKey:    verified.PublicKey,
		SignCount:    verified.SignCount,
	}

	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// The identity was claimed between begin and complete. Report
			// which field collided rather than overwriting.
			return nil, s.classifyConflict(ctx, user)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.sessions.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.logger.Info("User registered",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return &AuthResult{User: user, Token: token}, nil
}

// BeginLogin issues a login challenge for an existing account.
func (s *PasskeyService) BeginLogin(ctx context.Context, username string) (*LoginOptions, error) {
	username = domain.NormalizeUsername(username)
	if !domain.ValidUsername(username) {
		return nil, ErrInvalidUsername
	}

	user, err := s.store.Users().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Deliberately user-enumerable: the product reports unknown
			// usernames at login.
			return nil, ErrUnknownUsername
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	challenge, err := s.issueChallenge(ctx, &domain.Challenge{
		Subject: username,
		Kind:    domain.CeremonyLogin,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Started login", zap.String("username", username))

	return &LoginOptions{
		Challenge: challenge.Value,
		Timeout:   challengeTimeoutMillis,
		RPID:      s.cfg.Server.RPID,
		AllowCredentials: []AllowedCredential{
			{
				ID:   encodeBase64url(user.CredentialID),
				Type: "public-key",
			},
		},
		UserVerification: "preferred",
	}, nil
}

// FinishLogin consumes the pending challenge, verifies the assertion,
// commits the new signature counter and issues a session token.
func (s *PasskeyService) FinishLogin(ctx context.Context, username string, payload *CredentialPayload) (*AuthResult, error) {
	username = domain.NormalizeUsername(username)

	challenge, err := s.store.Challenges().Consume(ctx, username, domain.CeremonyLogin)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeExpiredOrMissing
		}
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if challenge.ExpiredAt(s.now()) {
		return nil, ErrChallengeExpiredOrMissing
	}

	user, err := s.store.Users().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownUsername
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	verified, err := s.verifier.VerifyLogin(&LoginExpectation{
		Challenge:    challenge.Value,
		UserHandle:   user.UserHandle,
		Username:     user.Username,
		CredentialID: user.CredentialID,
		PublicKey:    user.PublicKey,
		SignCount:    user.SignCount,
	}, payload)
	if err != nil {
		if errors.Is(err, ErrCounterReplay) {
			s.logger.Warn("Possible cloned credential",
				zap.Int64("user_id", user.ID),
				zap.String("username", user.Username),
			)
		} else {
			s.logger.Warn("Login verification failed",
				zap.String("username", user.Username),
				zap.Error(err),
			)
		}
		return nil, ErrInvalidCredential
	}

	// Compare-and-swap against the counter observed above. A concurrent
	// login that committed first makes this one fail as a replay.
	if err := s.store.Users().UpdateSignCount(ctx, user.ID, user.SignCount, verified.SignCount); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.logger.Warn("Concurrent sign counter update lost",
				zap.Int64("user_id", user.ID),
			)
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to update sign count: %w", err)
	}
	user.SignCount = verified.SignCount

	token, err := s.sessions.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.logger.Info("User logged in",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return &AuthResult{User: user, Token: token}, nil
}

// UserInfo returns the account for session introspection.
func (s *PasskeyService) UserInfo(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownUsername
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// issueChallenge mints a fresh random challenge and stores it, displacing
// any live challenge for the same (subject, kind) pair.
func (s *PasskeyService) issueChallenge(ctx context.Context, challenge *domain.Challenge) (*domain.Challenge, error) {
	value := make([]byte, challengeSize)
	if _, err := io.ReadFull(s.rand, value); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}

	now := s.now()
	challenge.Value = encodeBase64url(value)
	challenge.IssuedAt = now
	challenge.ExpiresAt = now.Add(time.Duration(s.cfg.Security.ChallengeTTLSeconds) * time.Second)

	if err := s.store.Challenges().Put(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return challenge, nil
}

// classifyConflict decides which unique field a registration race lost on.
func (s *PasskeyService) classifyConflict(ctx context.Context, user *domain.User) error {
	if _, err := s.store.Users().GetByUsername(ctx, user.Username); err == nil {
		return ErrDuplicateUsername
	}
	if _, err := s.store.Users().GetByEmail(ctx, user.Email); err == nil {
		return ErrDuplicateEmail
	}
	if _, err := s.store.Users().GetByCredentialID(ctx, user.CredentialID); err == nil {
		return ErrInvalidCredential
	}
	return ErrDuplicateUsername
}
