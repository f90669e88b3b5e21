package postgres

import (
	"context"
	"fmt"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// IndividualStore persists individuals and their images.
type IndividualStore struct {
	pool querier
}

// NewIndividualStore constructs a store from an existing pool.
func NewIndividualStore(pool querier) (*IndividualStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &IndividualStore{pool: pool}, nil
}

// HashExists reports whether any stored image carries this content
// hash.
func (s *IndividualStore) HashExists(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM individual_images WHERE content_hash = $1)`,
		contentHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("hash lookup: %w", err)
	}
	return exists, nil
}

const insertIndividual = `
INSERT INTO individuals (id, name, facility_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`

const insertIndividualImage = `
INSERT INTO individual_images (
	id, individual_id, source_url, blob_uri, content_hash,
	embedding, quality_score, detection_confidence, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Create inserts a new individual together with its first image in one
// transaction.
func (s *IndividualStore) Create(ctx context.Context, individual discovery.Individual, image discovery.IndividualImage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, insertIndividual,
		individual.ID, individual.Name, individual.FacilityID,
		individual.CreatedAt.UTC(), individual.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert individual: %w", err)
	}
	if _, err := tx.Exec(ctx, insertIndividualImage,
		image.ID, individual.ID, image.SourceURL, image.BlobURI, image.ContentHash,
		image.Embedding, image.QualityScore, image.DetectionConfidence, image.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert individual image: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AttachImage adds an image to an existing individual, bumps its
// updated_at and returns the refreshed row.
func (s *IndividualStore) AttachImage(ctx context.Context, individualID string, image discovery.IndividualImage) (discovery.Individual, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return discovery.Individual{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, insertIndividualImage,
		image.ID, individualID, image.SourceURL, image.BlobURI, image.ContentHash,
		image.Embedding, image.QualityScore, image.DetectionConfidence, image.CreatedAt.UTC(),
	); err != nil {
		return discovery.Individual{}, fmt.Errorf("insert individual image: %w", err)
	}

	var individual discovery.Individual
	err = tx.QueryRow(ctx, `
UPDATE individuals SET updated_at = $1 WHERE id = $2
RETURNING id, name, facility_id, created_at, updated_at`,
		image.CreatedAt.UTC(), individualID,
	).Scan(&individual.ID, &individual.Name, &individual.FacilityID,
		&individual.CreatedAt, &individual.UpdatedAt)
	if err != nil {
		return discovery.Individual{}, fmt.Errorf("update individual: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return discovery.Individual{}, fmt.Errorf("commit: %w", err)
	}
	return individual, nil
}
