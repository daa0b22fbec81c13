package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/thalora/thalora-auth/internal/domain"
	"github.com/thalora/thalora-auth/internal/storage"
)

// ChallengeStore implements the MongoDB ceremony ledger
type ChallengeStore struct {
	collection *mongo.Collection
}

// challengeDoc wraps a challenge with its ledger key as the document ID, so
// the single-live-challenge invariant falls out of the _id uniqueness.
type challengeDoc struct {
	ID        string           `bson:"_id"`
	Challenge domain.Challenge `bson:"challenge"`
	// Duplicated at the top level for the TTL index.
	ExpiresAt time.Time `bson:"expires_at"`
}

func (s *ChallengeStore) Put(ctx context.Context, challenge *domain.Challenge) error {
	doc := challengeDoc{
		ID:        challenge.Key(),
		Challenge: *challenge,
		ExpiresAt: challenge.ExpiresAt,
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Consume(ctx context.Context, subject string, kind domain.CeremonyKind) (*domain.Challenge, error) {
	var doc challengeDoc
	err := s.collection.FindOneAndDelete(ctx,
		bson.M{"_id": domain.ChallengeKey(subject, kind)},
	).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	// The TTL monitor only runs periodically, so the expiry still has to be
	// checked here.
	if doc.Challenge.IsExpired() {
		return nil, storage.ErrNotFound
	}
	return &doc.Challenge, nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	return nil
}
