package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]ClassificationRecord
	keys    map[string]APIKey
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]ClassificationRecord),
		keys:    make(map[string]APIKey),
	}
}

// SaveClassification appends a record under its URL key.
func (m *Memory) SaveClassification(_ context.Context, rec ClassificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.URLKey] = append(m.records[rec.URLKey], rec)
	return nil
}

// LatestClassification returns the newest record for a URL key.
func (m *Memory) LatestClassification(_ context.Context, urlKey string) (ClassificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[urlKey]
	if len(recs) == 0 {
		return ClassificationRecord{}, ErrNotFound
	}
	latest := recs[0]
	for _, rec := range recs[1:] {
		if rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	return latest, nil
}

// ListClassifications returns records for a URL key, newest first.
func (m *Memory) ListClassifications(_ context.Context, urlKey string, limit int) ([]ClassificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[urlKey]
	out := make([]ClassificationRecord, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateKey stores a new API key.
func (m *Memory) CreateKey(_ context.Context, key APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.Key] = key
	return nil
}

// GetKey fetches an API key by value.
func (m *Memory) GetKey(_ context.Context, key string) (APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[key]
	if !ok {
		return APIKey{}, ErrNotFound
	}
	return k, nil
}

// RevokeKey marks a key revoked at the given time.
func (m *Memory) RevokeKey(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[key]
	if !ok {
		return ErrNotFound
	}
	ts := at
	k.RevokedAt = &ts
	m.keys[key] = k
	return nil
}

// ListKeys returns all keys sorted by creation time.
func (m *Memory) ListKeys(_ context.Context) ([]APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() {}
