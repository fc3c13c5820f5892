package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DjangoSpop/promptemple-sub000/apps/search-api/internal/core"
	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/config"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFailingCatalog struct {
	*catalog.MemoryCatalog
}

func (p pingFailingCatalog) Ping(ctx context.Context) error {
	return errors.New("catalog unreachable")
}

func testCatalog() *catalog.MemoryCatalog {
	return catalog.NewMemoryCatalog(
		catalog.Candidate{
			ID:             "biz",
			Title:          "Business Plan Generator",
			Body:           "Draft a complete business plan for investors",
			Category:       "business",
			Tags:           []string{"business", "plan"},
			IntentCategory: "business_planning",
			UsageCount:     100,
			AverageRating:  4.5,
			QualityScore:   80,
			SuccessRate:    0.9,
			IsFeatured:     true,
		},
		catalog.Candidate{
			ID:             "doc",
			Title:          "API Documentation Helper",
			Body:           "Produce technical docs for REST APIs",
			Category:       "technical",
			Tags:           []string{"docs", "api"},
			IntentCategory: "technical_writing",
			UsageCount:     50,
			AverageRating:  3.8,
			QualityScore:   90,
			SuccessRate:    0.95,
		},
		catalog.Candidate{
			ID:             "readme",
			Title:          "README Writer",
			Body:           "Generate readme files for open source projects",
			Category:       "technical",
			Tags:           []string{"docs", "readme"},
			IntentCategory: "technical_writing",
			UsageCount:     400,
			AverageRating:  4.2,
			QualityScore:   60,
			SuccessRate:    0.7,
		},
	)
}

func setupTestServer(t *testing.T, cat catalog.Catalog) *Server {
	t.Helper()

	cfg, err := config.LoadFromFile(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	cfg.API.Mode = "test"

	metrics := observability.NewPrometheusMetricsClient("test", "search")
	services, err := core.NewServices(context.Background(), cfg, core.Options{
		Logger:  observability.NewNoopLogger(),
		Metrics: metrics,
		Catalog: cat,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })

	s := NewServer(services, cfg.API, metrics.Registry(), observability.NewNoopLogger())
	s.SetReady(true)
	return s
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeSearch(t *testing.T, w *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSearchEndpoint(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	w := doRequest(t, s, http.MethodGet, "/api/v1/search?q=business+plan&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	resp := decodeSearch(t, w)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "biz", resp.Results[0].ID)
	assert.Contains(t, resp.Results[0].RelevanceReason, "title_match")
	assert.False(t, resp.Metrics.FromCache)
	assert.Equal(t, len(resp.Results), resp.Metrics.TotalResults)

	w = doRequest(t, s, http.MethodGet, "/api/v1/search?q=business+plan&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeSearch(t, w).Metrics.FromCache)
}

func TestSearchEndpoint_Validation(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing query", "/api/v1/search", http.StatusBadRequest},
		{"bad limit", "/api/v1/search?q=docs&limit=abc", http.StatusBadRequest},
		{"negative limit", "/api/v1/search?q=docs&limit=-1", http.StatusBadRequest},
		{"bad confidence", "/api/v1/search?q=docs&intent=x&confidence=2", http.StatusBadRequest},
		{"bad threshold", "/api/v1/search/intent/technical_writing?threshold=high", http.StatusBadRequest},
		{"unknown item", "/api/v1/items/missing/similar", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodGet, tt.target)
			assert.Equal(t, tt.status, w.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestSearchByIntentEndpoint(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	w := doRequest(t, s, http.MethodGet, "/api/v1/search/intent/technical_writing?threshold=0.7")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeSearch(t, w)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "doc", resp.Results[0].ID)
	assert.Equal(t, 0.98, resp.Results[0].Score)
	for _, r := range resp.Results {
		assert.True(t, r.IntentMatch)
	}
}

func TestFeaturedEndpoint(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	first := decodeSearch(t, doRequest(t, s, http.MethodGet, "/api/v1/featured"))
	second := decodeSearch(t, doRequest(t, s, http.MethodGet, "/api/v1/featured"))

	require.Len(t, first.Results, 2)
	assert.Equal(t, "biz", first.Results[0].ID)
	assert.Equal(t, "readme", first.Results[1].ID)
	assert.True(t, second.Metrics.FromCache)
	assert.Equal(t, first.Results, second.Results)
}

func TestSimilarEndpoint(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	w := doRequest(t, s, http.MethodGet, "/api/v1/items/doc/similar?limit=3")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeSearch(t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "readme", resp.Results[0].ID)
	assert.True(t, resp.Results[0].CategoryMatch)
}

func TestRecentQueriesEndpoint(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	doRequest(t, s, http.MethodGet, "/api/v1/search?q=docs&session_id=abc")
	doRequest(t, s, http.MethodGet, "/api/v1/search?q=Readme&session_id=abc")

	w := doRequest(t, s, http.MethodGet, "/api/v1/sessions/abc/recent")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SessionID string   `json:"session_id"`
		Queries   []string `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "abc", body.SessionID)
	assert.Equal(t, []string{"readme", "docs"}, body.Queries)
}

func TestOpsEndpoints(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	doRequest(t, s, http.MethodGet, "/api/v1/search?q=docs")
	doRequest(t, s, http.MethodGet, "/api/v1/search?q=docs")

	w := doRequest(t, s, http.MethodGet, "/ops/cache/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Contains(t, stats, "hit_rate")

	w = doRequest(t, s, http.MethodGet, "/ops/performance")
	require.Equal(t, http.StatusOK, w.Code)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, float64(2), report["samples"])

	w = doRequest(t, s, http.MethodGet, "/ops/recommendations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recommendations")

	w = doRequest(t, s, http.MethodPost, "/ops/cache/invalidate")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "invalidated")

	w = doRequest(t, s, http.MethodGet, "/api/v1/search?q=docs")
	assert.False(t, decodeSearch(t, w).Metrics.FromCache)
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	w := doRequest(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	s.SetReady(false)
	w = doRequest(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoint_ReportsFailingDependency(t *testing.T) {
	s := setupTestServer(t, pingFailingCatalog{testCatalog()})

	w := doRequest(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "catalog unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, testCatalog())
	doRequest(t, s, http.MethodGet, "/api/v1/search?q=docs")

	w := doRequest(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_search_search_requests_total"))
}

func TestRequestID_IsPropagated(t *testing.T) {
	s := setupTestServer(t, testCatalog())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "3f1c2a5e-8d7b-4c1e-9a2f-6b5d4e3c2a10")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "3f1c2a5e-8d7b-4c1e-9a2f-6b5d4e3c2a10", w.Header().Get(requestIDHeader))
}
