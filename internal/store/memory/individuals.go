// Package memory provides in-memory store implementations for local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// IndividualStore keeps individuals and their images in maps.
type IndividualStore struct {
	mu          sync.Mutex
	individuals map[string]discovery.Individual
	images      map[string][]discovery.IndividualImage
	hashes      map[string]struct{}
}

// NewIndividualStore creates an empty store.
func NewIndividualStore() *IndividualStore {
	return &IndividualStore{
		individuals: make(map[string]discovery.Individual),
		images:      make(map[string][]discovery.IndividualImage),
		hashes:      make(map[string]struct{}),
	}
}

// HashExists reports whether an image with the content hash is stored.
func (s *IndividualStore) HashExists(_ context.Context, contentHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hashes[contentHash]
	return ok, nil
}

// Create inserts a new individual with its first image.
func (s *IndividualStore) Create(_ context.Context, individual discovery.Individual, image discovery.IndividualImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.individuals[individual.ID]; ok {
		return fmt.Errorf("individual %s already exists", individual.ID)
	}
	s.individuals[individual.ID] = individual
	s.images[individual.ID] = append(s.images[individual.ID], image)
	s.hashes[image.ContentHash] = struct{}{}
	return nil
}

// AttachImage adds an image to an existing individual.
func (s *IndividualStore) AttachImage(_ context.Context, individualID string, image discovery.IndividualImage) (discovery.Individual, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	individual, ok := s.individuals[individualID]
	if !ok {
		return discovery.Individual{}, fmt.Errorf("individual %s not found", individualID)
	}
	individual.UpdatedAt = image.CreatedAt
	s.individuals[individualID] = individual
	s.images[individualID] = append(s.images[individualID], image)
	s.hashes[image.ContentHash] = struct{}{}
	return individual, nil
}

// Individuals returns a copy of all stored individuals.
func (s *IndividualStore) Individuals() []discovery.Individual {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]discovery.Individual, 0, len(s.individuals))
	for _, ind := range s.individuals {
		out = append(out, ind)
	}
	return out
}

// Images returns the stored images for one individual.
func (s *IndividualStore) Images(individualID string) []discovery.IndividualImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]discovery.IndividualImage(nil), s.images[individualID]...)
}
