// Package apikey issues and validates client API keys.
package apikey

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/siteverdict/siteverdict/internal/classify"
	"github.com/siteverdict/siteverdict/internal/store"
)

// Validation failures surfaced to the HTTP boundary.
var (
	ErrUnknownKey = errors.New("apikey: unknown key")
	ErrRevokedKey = errors.New("apikey: key revoked")
)

// Service manages issued keys on top of the persistence layer.
type Service struct {
	store store.Store
	clock classify.Clock
}

// New builds a Service.
func New(st store.Store, clock classify.Clock) *Service {
	return &Service{store: st, clock: clock}
}

// Issue creates and persists a fresh key for owner.
func (s *Service) Issue(ctx context.Context, owner string) (store.APIKey, error) {
	if owner == "" {
		return store.APIKey{}, fmt.Errorf("owner is required")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return store.APIKey{}, fmt.Errorf("generate key: %w", err)
	}
	key := store.APIKey{
		Key:       id.String(),
		Owner:     owner,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return store.APIKey{}, fmt.Errorf("persist key: %w", err)
	}
	return key, nil
}

// Validate checks that key exists and is not revoked.
func (s *Service) Validate(ctx context.Context, key string) error {
	if key == "" {
		return ErrUnknownKey
	}
	k, err := s.store.GetKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownKey
		}
		return fmt.Errorf("lookup key: %w", err)
	}
	if k.Revoked() {
		return ErrRevokedKey
	}
	return nil
}

// Revoke marks a key revoked; revoking an unknown key is ErrUnknownKey.
func (s *Service) Revoke(ctx context.Context, key string) error {
	err := s.store.RevokeKey(ctx, key, s.clock.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownKey
	}
	return err
}

// List returns every issued key.
func (s *Service) List(ctx context.Context) ([]store.APIKey, error) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}
