package service

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenBlacklist manages revoked JWT tokens.
// Tokens are stored until their expiry time, then automatically cleaned up.
type TokenBlacklist struct {
	cleanupInterval time.Duration
	logger          *zap.Logger

	mu       sync.RWMutex
	tokens   map[string]time.Time // jti -> expiry time
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTokenBlacklist creates a new token blacklist. A non-positive cleanup
// interval disables the background purge.
func NewTokenBlacklist(cleanupSeconds int, logger *zap.Logger) *TokenBlacklist {
	return &TokenBlacklist{
		cleanupInterval: time.Duration(cleanupSeconds) * time.Second,
		logger:          logger.Named("token-blacklist"),
		tokens:          make(map[string]time.Time),
		stopChan:        make(chan struct{}),
	}
}

// Start begins the cleanup worker for expired blacklist entries
func (b *TokenBlacklist) Start() {
	if b.cleanupInterval <= 0 {
		b.logger.Info("Token blacklist cleanup disabled")
		return
	}

	b.wg.Add(1)
	go b.cleanupLoop()

	b.logger.Info("Token blacklist started",
		zap.Duration("cleanup_interval", b.cleanupInterval),
	)
}

// Stop gracefully stops the blacklist cleanup worker
func (b *TokenBlacklist) Stop() {
	close(b.stopChan)
	b.wg.Wait()
	b.logger.Info("Token blacklist stopped")
}

// cleanupLoop periodically removes expired entries
func (b *TokenBlacklist) cleanupLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.cleanup()
		}
	}
}

// cleanup removes expired entries from the blacklist
func (b *TokenBlacklist) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	removed := 0

	for jti, expiry := range b.tokens {
		if now.After(expiry) {
			delete(b.tokens, jti)
			removed++
		}
	}

	if removed > 0 {
		b.logger.Debug("Cleaned up expired blacklist entries",
			zap.Int("removed", removed),
			zap.Int("remaining", len(b.tokens)),
		)
	}
}

// Add adds a token JTI to the blacklist.
// The entry is automatically removed after the token's own expiry time.
func (b *TokenBlacklist) Add(jti string, expiry time.Time) {
	if jti == "" {
		// Can't blacklist tokens without JTI
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens[jti] = expiry

	b.logger.Debug("Token added to blacklist",
		zap.String("jti", jti),
		zap.Time("expiry", expiry),
	)
}

// IsBlacklisted checks if a token JTI is on the blacklist
func (b *TokenBlacklist) IsBlacklisted(jti string) bool {
	if jti == "" {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	expiry, exists := b.tokens[jti]
	if !exists {
		return false
	}

	// An expired entry means the token itself is dead anyway
	if time.Now().After(expiry) {
		return false
	}

	return true
}

// Count returns the number of tokens currently on the blacklist
func (b *TokenBlacklist) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tokens)
}
