package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/thalora/thalora-auth/internal/domain"
	"github.com/thalora/thalora-auth/internal/storage"
	"github.com/thalora/thalora-auth/internal/storage/memory"
)

func TestTokenBlacklist(t *testing.T) {
	bl := NewTokenBlacklist(0, zap.NewNop())

	t.Run("live entry blocks", func(t *testing.T) {
		bl.Add("jti-1", time.Now().Add(time.Hour))
		if !bl.IsBlacklisted("jti-1") {
			t.Error("expected jti-1 blacklisted")
		}
	})

	t.Run("unknown jti passes", func(t *testing.T) {
		if bl.IsBlacklisted("jti-unknown") {
			t.Error("unknown jti reported blacklisted")
		}
	})

	t.Run("empty jti ignored", func(t *testing.T) {
		bl.Add("", time.Now().Add(time.Hour))
		if bl.IsBlacklisted("") {
			t.Error("empty jti reported blacklisted")
		}
	})

	t.Run("expired entry no longer blocks", func(t *testing.T) {
		bl.Add("jti-stale", time.Now().Add(-time.Minute))
		if bl.IsBlacklisted("jti-stale") {
			t.Error("expired entry still blocking")
		}
	})

	t.Run("cleanup removes expired entries", func(t *testing.T) {
		before := bl.Count()
		bl.cleanup()
		if bl.Count() >= before {
			t.Errorf("cleanup removed nothing: %d -> %d", before, bl.Count())
		}
		if !bl.IsBlacklisted("jti-1") {
			t.Error("cleanup removed a live entry")
		}
	})
}

func TestTokenBlacklist_DisabledWorkerStops(t *testing.T) {
	bl := NewTokenBlacklist(0, zap.NewNop())
	bl.Start()
	bl.Stop()
}

func TestChallengeCleanupWorker_RunOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	worker := NewChallengeCleanupWorker(0, store, zap.NewNop())

	now := time.Now()
	stale := &domain.Challenge{
		Subject:   "old",
		Kind:      domain.CeremonyLogin,
		Value:     "c1",
		IssuedAt:  now.Add(-2 * time.Minute),
		ExpiresAt: now.Add(-time.Minute),
	}
	fresh := &domain.Challenge{
		Subject:   "new",
		Kind:      domain.CeremonyLogin,
		Value:     "c2",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Minute),
	}
	if err := store.Challenges().Put(ctx, stale); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Challenges().Put(ctx, fresh); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, err := store.Challenges().Consume(ctx, "old", domain.CeremonyLogin); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired challenge survived cleanup")
	}
	if _, err := store.Challenges().Consume(ctx, "new", domain.CeremonyLogin); err != nil {
		t.Errorf("live challenge removed: %v", err)
	}
}

func TestChallengeCleanupWorker_StartStop(t *testing.T) {
	store := memory.NewStore()

	worker := NewChallengeCleanupWorker(1, store, zap.NewNop())
	worker.Start()
	worker.Stop()

	disabled := NewChallengeCleanupWorker(0, store, zap.NewNop())
	disabled.Start()
	disabled.Stop()
}
