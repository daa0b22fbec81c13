package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/thalora/thalora-auth/internal/storage"
	"github.com/thalora/thalora-auth/pkg/config"
)

// Services aggregates all application services
type Services struct {
	Passkey          *PasskeyService
	Sessions         SessionIssuer
	TokenBlacklist   *TokenBlacklist
	ChallengeCleanup *ChallengeCleanupWorker
}

// NewServices creates a new Services instance. The verifier is chosen here,
// once, from configuration; there is no per-request switch.
func NewServices(store storage.Store, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	var verifier Verifier
	if cfg.Security.TestMode {
		logger.Warn("TEST MODE ENABLED: credential signatures are not verified")
		verifier = NewStubVerifier()
	} else {
		var err error
		verifier, err = NewWebauthnVerifier(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create verifier: %w", err)
		}
	}

	sessions := NewSessionIssuer(&cfg.JWT)

	return &Services{
		Passkey:          NewPasskeyService(store, cfg, logger, verifier, sessions),
		Sessions:         sessions,
		TokenBlacklist:   NewTokenBlacklist(cfg.Security.BlacklistCleanupSeconds, logger),
		ChallengeCleanup: NewChallengeCleanupWorker(cfg.Security.ChallengeCleanupSeconds, store, logger),
	}, nil
}

// Start starts background workers
func (s *Services) Start() {
	if s.TokenBlacklist != nil {
		s.TokenBlacklist.Start()
	}
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Start()
	}
}

// Stop gracefully stops background workers
func (s *Services) Stop() {
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Stop()
	}
	if s.TokenBlacklist != nil {
		s.TokenBlacklist.Stop()
	}
}
