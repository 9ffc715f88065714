package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siteverdict/siteverdict/internal/apikey"
	"github.com/siteverdict/siteverdict/internal/cache"
	"github.com/siteverdict/siteverdict/internal/classify"
	"github.com/siteverdict/siteverdict/internal/publish"
	"github.com/siteverdict/siteverdict/internal/store"
	"github.com/siteverdict/siteverdict/internal/telemetry"
)

type classifyResponse struct {
	URL            string `json:"url"`
	Classification string `json:"classification"`
	Mode           string `json:"mode"`
	Cached         bool   `json:"cached"`
}

// classifyURL backs GET /classify-url and GET /v1/classify. The boundary
// short-circuits on cached or recently stored results unless force=true.
func (s *Server) classifyURL(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	qualified := classify.EnsureScheme(rawURL, s.cfg.Render.DefaultScheme)
	urlKey, err := classify.CacheKey(qualified)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	if !force {
		if rec, ok := s.lookup(r, urlKey); ok {
			telemetry.ObserveCacheLookup("hit")
			writeJSON(w, http.StatusOK, classifyResponse{
				URL:            rec.URL,
				Classification: string(rec.Label),
				Mode:           string(rec.Mode),
				Cached:         true,
			})
			return
		}
		telemetry.ObserveCacheLookup("miss")
	}

	result := s.pipeline.Classify(r.Context(), qualified)

	rec := store.ClassificationRecord{
		ID:         uuid.NewString(),
		URL:        result.URL,
		URLKey:     urlKey,
		Label:      result.Label,
		Mode:       result.Mode,
		Attempts:   result.Attempts,
		DurationMs: result.Duration.Milliseconds(),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.store.SaveClassification(r.Context(), rec); err != nil {
		s.logger.Error("persist classification failed",
			zap.String("url", result.URL), zap.Error(err))
	}
	if s.cache != nil {
		s.cache.Set(urlKey, rec)
	}
	if err := s.publisher.Publish(r.Context(), publish.Event{
		URL:            rec.URL,
		URLKey:         rec.URLKey,
		Classification: string(rec.Label),
		Mode:           string(rec.Mode),
		ClassifiedAt:   rec.CreatedAt,
	}); err != nil {
		s.logger.Warn("publish classification event failed",
			zap.String("url", rec.URL), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		URL:            rec.URL,
		Classification: string(rec.Label),
		Mode:           string(rec.Mode),
		Cached:         false,
	})
}

// lookup consults the in-memory cache, then the store for a result newer
// than the cache TTL, re-warming the cache on a store hit.
func (s *Server) lookup(r *http.Request, urlKey string) (store.ClassificationRecord, bool) {
	if s.cache != nil {
		if rec, err := s.cache.Get(urlKey); err == nil {
			return rec, true
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache lookup failed", zap.String("url_key", urlKey), zap.Error(err))
		}
	}
	rec, err := s.store.LatestClassification(r.Context(), urlKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("store lookup failed", zap.String("url_key", urlKey), zap.Error(err))
		}
		return store.ClassificationRecord{}, false
	}
	if s.clock.Now().UTC().Sub(rec.CreatedAt) > s.cfg.CacheTTL() {
		return store.ClassificationRecord{}, false
	}
	if s.cache != nil {
		s.cache.Set(urlKey, rec)
	}
	return rec, true
}

// listClassifications backs GET /v1/classifications.
func (s *Server) listClassifications(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	qualified := classify.EnsureScheme(rawURL, s.cfg.Render.DefaultScheme)
	urlKey, err := classify.CacheKey(qualified)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	recs, err := s.store.ListClassifications(r.Context(), urlKey, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch classifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":             qualified,
		"classifications": recs,
	})
}

type issueKeyRequest struct {
	Owner string `json:"owner"`
}

// issueKey backs POST /v1/keys.
func (s *Server) issueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := decodeJSON(r, &req); err != nil || req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner required")
		return
	}
	key, err := s.keys.Issue(r.Context(), req.Owner)
	if err != nil {
		s.logger.Error("key issuance failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "key issuance failed")
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

// listKeys backs GET /v1/keys.
func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context())
	if err != nil {
		s.logger.Error("key listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "key listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// revokeKey backs DELETE /v1/keys/{key}.
func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.keys.Revoke(r.Context(), key); err != nil {
		if errors.Is(err, apikey.ErrUnknownKey) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		s.logger.Error("key revocation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "revocation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "revoked"})
}

func decodeJSON(r *http.Request, dest any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(dest)
}
