package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteverdict/siteverdict/internal/apikey"
	"github.com/siteverdict/siteverdict/internal/cache"
	"github.com/siteverdict/siteverdict/internal/classify"
	"github.com/siteverdict/siteverdict/internal/config"
	"github.com/siteverdict/siteverdict/internal/publish"
	"github.com/siteverdict/siteverdict/internal/ratelimit"
	"github.com/siteverdict/siteverdict/internal/store"
)

const testMasterKey = "master-key"

type fakePipeline struct {
	mu     sync.Mutex
	result classify.Result
	calls  int
	urls   []string
}

func (p *fakePipeline) Classify(_ context.Context, rawURL string) classify.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.urls = append(p.urls, rawURL)
	result := p.result
	result.URL = rawURL
	return result
}

func (p *fakePipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testHarness struct {
	server    *Server
	pipeline  *fakePipeline
	store     *store.Memory
	cache     *cache.Results
	keys      *apikey.Service
	publisher *publish.Memory
	clock     *fakeClock
	clientKey string
}

func newHarness(t *testing.T, mutate func(*config.Config)) *testHarness {
	t.Helper()

	cfg := config.Config{}
	cfg.Server.Port = 8080
	cfg.Server.TimeoutSeconds = 30
	cfg.Auth.Enabled = true
	cfg.Auth.MasterKey = testMasterKey
	cfg.Render.DefaultScheme = "https"
	cfg.Cache.TTLSeconds = 3600
	if mutate != nil {
		mutate(&cfg)
	}

	st := store.NewMemory()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	keys := apikey.New(st, clock)
	results := cache.New(cfg.CacheTTL(), time.Minute)
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
	publisher := publish.NewMemory()
	pipeline := &fakePipeline{result: classify.Result{
		Label:    classify.LabelLive,
		Mode:     classify.ModeVisual,
		Attempts: 1,
	}}

	server := NewServer(pipeline, st, results, keys, limiter, publisher, clock, cfg, nil)

	issued, err := keys.Issue(context.Background(), "test-owner")
	require.NoError(t, err)

	return &testHarness{
		server:    server,
		pipeline:  pipeline,
		store:     st,
		cache:     results,
		keys:      keys,
		publisher: publisher,
		clock:     clock,
		clientKey: issued.Key,
	}
}

func (h *testHarness) get(path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestClassifyURLSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := h.get("/classify-url?url=example.com", h.clientKey)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp classifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "https://example.com", resp.URL)
	require.Equal(t, string(classify.LabelLive), resp.Classification)
	require.Equal(t, "visual", resp.Mode)
	require.False(t, resp.Cached)
	require.Equal(t, 1, h.pipeline.callCount())

	// The outcome is persisted and published.
	saved, err := h.store.LatestClassification(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, classify.LabelLive, saved.Label)
	require.Len(t, h.publisher.Events(), 1)
}

func TestClassifyURLRequiresURLParam(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := h.get("/classify-url", h.clientKey)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, h.pipeline.callCount())
}

func TestClassifyURLMissingKeyUnauthorized(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := h.get("/classify-url?url=example.com", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, h.pipeline.callCount())
}

func TestClassifyURLUnknownKeyForbidden(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := h.get("/classify-url?url=example.com", "not-a-real-key")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClassifyURLRevokedKeyForbidden(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.keys.Revoke(context.Background(), h.clientKey))

	rec := h.get("/classify-url?url=example.com", h.clientKey)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClassifyURLMasterKeyPasses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := h.get("/classify-url?url=example.com", testMasterKey)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyURLAcceptsQueryKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := h.get("/classify-url?url=example.com&api_key="+h.clientKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyURLAuthDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = false
		cfg.Auth.MasterKey = ""
	})
	rec := h.get("/v1/classify?url=example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyURLSecondRequestIsCached(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	first := h.get("/v1/classify?url=example.com", h.clientKey)
	require.Equal(t, http.StatusOK, first.Code)
	second := h.get("/v1/classify?url=example.com", h.clientKey)
	require.Equal(t, http.StatusOK, second.Code)

	var resp classifyResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	require.True(t, resp.Cached)
	require.Equal(t, 1, h.pipeline.callCount())
}

func TestClassifyURLForceBypassesCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	h.get("/v1/classify?url=example.com", h.clientKey)
	rec := h.get("/v1/classify?url=example.com&force=true", h.clientKey)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp classifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Cached)
	require.Equal(t, 2, h.pipeline.callCount())
}

func TestClassifyURLStoreHitRewarmsCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	rec := store.ClassificationRecord{
		ID:        "seeded",
		URL:       "https://example.com",
		URLKey:    "https://example.com",
		Label:     classify.LabelParked,
		Mode:      classify.ModeVisual,
		CreatedAt: h.clock.now.Add(-time.Minute),
	}
	require.NoError(t, h.store.SaveClassification(context.Background(), rec))

	resp := h.get("/v1/classify?url=example.com", h.clientKey)
	require.Equal(t, http.StatusOK, resp.Code)

	var body classifyResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.True(t, body.Cached)
	require.Equal(t, string(classify.LabelParked), body.Classification)
	require.Zero(t, h.pipeline.callCount())

	_, err := h.cache.Get("https://example.com")
	require.NoError(t, err)
}

func TestClassifyURLStaleStoreRecordReclassifies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	rec := store.ClassificationRecord{
		ID:        "stale",
		URL:       "https://example.com",
		URLKey:    "https://example.com",
		Label:     classify.LabelParked,
		Mode:      classify.ModeVisual,
		CreatedAt: h.clock.now.Add(-2 * time.Hour),
	}
	require.NoError(t, h.store.SaveClassification(context.Background(), rec))

	resp := h.get("/v1/classify?url=example.com", h.clientKey)
	require.Equal(t, http.StatusOK, resp.Code)

	var body classifyResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.False(t, body.Cached)
	require.Equal(t, 1, h.pipeline.callCount())
}

func TestClassifyURLHTTPAndHTTPSAreDistinct(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	h.get("/v1/classify?url=https%3A%2F%2Fexample.com", h.clientKey)
	rec := h.get("/v1/classify?url=http%3A%2F%2Fexample.com", h.clientKey)

	var body classifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Cached)
	require.Equal(t, 2, h.pipeline.callCount())
}

func TestRateLimitExceeded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *config.Config) {
		cfg.RateLimit.RPS = 0.001
		cfg.RateLimit.Burst = 1
	})

	first := h.get("/v1/classify?url=example.com", h.clientKey)
	require.Equal(t, http.StatusOK, first.Code)
	second := h.get("/v1/classify?url=other.example", h.clientKey)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestListClassifications(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	for i, id := range []string{"a", "b"} {
		require.NoError(t, h.store.SaveClassification(context.Background(), store.ClassificationRecord{
			ID:        id,
			URL:       "https://example.com",
			URLKey:    "https://example.com",
			Label:     classify.LabelLive,
			Mode:      classify.ModeVisual,
			CreatedAt: h.clock.now.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := h.get("/v1/classifications?url=example.com", h.clientKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		URL             string                       `json:"url"`
		Classifications []store.ClassificationRecord `json:"classifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://example.com", body.URL)
	require.Len(t, body.Classifications, 2)
	require.Equal(t, "b", body.Classifications[0].ID)
}

func TestKeyManagementRequiresMasterKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/keys", bytes.NewBufferString(`{"owner":"qa"}`))
	req.Header.Set("X-API-Key", h.clientKey)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/keys", bytes.NewBufferString(`{"owner":"qa"}`))
	req.Header.Set("X-API-Key", testMasterKey)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var issued store.APIKey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.Equal(t, "qa", issued.Owner)
	require.NotEmpty(t, issued.Key)

	listRec := h.get("/v1/keys", testMasterKey)
	require.Equal(t, http.StatusOK, listRec.Code)
	require.Contains(t, listRec.Body.String(), issued.Key)

	delReq := httptest.NewRequest(http.MethodDelete, "/v1/keys/"+issued.Key, nil)
	delReq.Header.Set("X-API-Key", testMasterKey)
	delRec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	// The revoked key no longer authenticates.
	classifyRec := h.get("/v1/classify?url=example.com", issued.Key)
	require.Equal(t, http.StatusForbidden, classifyRec.Code)
}

func TestIssueKeyRequiresOwner(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/keys", bytes.NewBufferString(`{}`))
	req.Header.Set("X-API-Key", testMasterKey)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeUnknownKeyNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodDelete, "/v1/keys/does-not-exist", nil)
	req.Header.Set("X-API-Key", testMasterKey)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpointsArePublic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.Equal(t, http.StatusOK, h.get("/healthz", "").Code)
	require.Equal(t, http.StatusOK, h.get("/readyz", "").Code)
	require.Equal(t, http.StatusOK, h.get("/metrics", "").Code)
}

func TestResponsesCarryRequestID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	rec := h.get("/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
