package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed durable tier.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreDoc is the persisted shape of a cache entry. The value is kept
// as a JSON payload so the document schema is independent of V.
type firestoreDoc struct {
	Payload  []byte    `firestore:"payload"`
	ExpireAt time.Time `firestore:"expireAt"`
}

// FirestoreStore is a DurableStore backed by a Firestore collection, one
// document per cache entry. Firestore has no native per-document TTL
// comparable to Redis, so expiry is enforced on read: an entry past its
// ExpireAt is deleted and reported as ErrNotFound.
type FirestoreStore[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a durable tier over an injected Firestore
// client. The client's lifecycle is managed by the caller.
func NewFirestoreStore[V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreStore[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Get retrieves the entry for key. Expired entries are deleted on the way
// out and reported as ErrNotFound.
func (s *FirestoreStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	docRef := s.client.Collection(s.collectionName).Doc(key)
	docSnap, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return zero, ErrNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var doc firestoreDoc
	if err := docSnap.DataTo(&doc); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}

	if time.Now().After(doc.ExpireAt) {
		s.logger.Debug().Str("key", key).Msg("Durable entry expired, deleting.")
		if _, delErr := docRef.Delete(ctx); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", key).Msg("Failed to delete expired document.")
		}
		return zero, ErrNotFound
	}

	var value V
	if err := json.Unmarshal(doc.Payload, &value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached payload.")
		return zero, fmt.Errorf("unmarshal payload for %s: %w", key, err)
	}
	return value, nil
}

// Set persists value under key with an absolute expiry of now+ttl.
func (s *FirestoreStore[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", key, err)
	}

	doc := firestoreDoc{Payload: payload, ExpireAt: time.Now().Add(ttl)}
	if _, err := s.client.Collection(s.collectionName).Doc(key).Set(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *FirestoreStore[V]) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Collection(s.collectionName).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete for %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the injected Firestore client is closed by its owner.
func (s *FirestoreStore[V]) Close() error {
	return nil
}
