// Package store persists classification results and API keys.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/siteverdict/siteverdict/internal/classify"
)

// ErrNotFound is returned when a record or key does not exist.
var ErrNotFound = errors.New("store: not found")

// ClassificationRecord is one persisted classification outcome.
type ClassificationRecord struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	URLKey     string         `json:"url_key"`
	Label      classify.Label `json:"classification"`
	Mode       classify.Mode  `json:"mode"`
	Attempts   int            `json:"render_attempts"`
	DurationMs int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// APIKey is one issued credential.
type APIKey struct {
	Key       string     `json:"key"`
	Owner     string     `json:"owner"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Store is the persistence boundary the HTTP layer depends on.
type Store interface {
	SaveClassification(ctx context.Context, rec ClassificationRecord) error
	LatestClassification(ctx context.Context, urlKey string) (ClassificationRecord, error)
	ListClassifications(ctx context.Context, urlKey string, limit int) ([]ClassificationRecord, error)

	CreateKey(ctx context.Context, key APIKey) error
	GetKey(ctx context.Context, key string) (APIKey, error)
	RevokeKey(ctx context.Context, key string, at time.Time) error
	ListKeys(ctx context.Context) ([]APIKey, error)

	Close()
}
