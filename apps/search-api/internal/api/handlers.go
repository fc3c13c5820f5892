package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/search"
	"github.com/gin-gonic/gin"
)

// defaultIntentThreshold is applied when the threshold parameter is omitted
const defaultIntentThreshold = 0.7

// ErrorResponse is the body of every 4xx and 5xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SearchResponse is the body of every ranked lookup
type SearchResponse struct {
	Results []search.ResultView `json:"results"`
	Metrics search.Metrics      `json:"metrics"`
}

func respondResults(c *gin.Context, results []search.ScoredResult, m search.Metrics) {
	c.JSON(http.StatusOK, SearchResponse{Results: search.Views(results), Metrics: m})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrEmptyIntent),
		errors.Is(err, search.ErrEmptySession),
		errors.Is(err, errBadParameter):
		status = http.StatusBadRequest
	case errors.Is(err, search.ErrUnknownCandidate):
		status = http.StatusNotFound
	}
	_ = c.Error(err)
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

var errBadParameter = errors.New("invalid parameter")

func intParam(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadParameter, name)
	}
	return n, nil
}

func floatParam(c *gin.Context, name string, def float64) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, fmt.Errorf("%w: %s must be a number between 0 and 1", errBadParameter, name)
	}
	return f, nil
}

// Search handles GET /api/v1/search
func (s *Server) Search(c *gin.Context) {
	limit, err := intParam(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	confidence, err := floatParam(c, "confidence", 1)
	if err != nil {
		respondError(c, err)
		return
	}

	req := search.Request{
		Query:      c.Query("q"),
		Category:   c.Query("category"),
		MaxResults: limit,
		SessionID:  c.Query("session_id"),
	}
	if intent := c.Query("intent"); intent != "" {
		req.Intent = &catalog.Intent{Category: intent, Confidence: confidence}
	}

	results, m, err := s.services.Engine.Search(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResults(c, results, m)
}

// SearchByIntent handles GET /api/v1/search/intent/:intent
func (s *Server) SearchByIntent(c *gin.Context) {
	limit, err := intParam(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	threshold, err := floatParam(c, "threshold", defaultIntentThreshold)
	if err != nil {
		respondError(c, err)
		return
	}

	results, m, err := s.services.Engine.SearchByIntent(c.Request.Context(), c.Param("intent"), threshold, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResults(c, results, m)
}

// Featured handles GET /api/v1/featured
func (s *Server) Featured(c *gin.Context) {
	limit, err := intParam(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}

	results, m, err := s.services.Engine.Featured(c.Request.Context(), c.Query("category"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResults(c, results, m)
}

// Similar handles GET /api/v1/items/:id/similar
func (s *Server) Similar(c *gin.Context) {
	limit, err := intParam(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}

	results, m, err := s.services.Engine.Similar(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResults(c, results, m)
}

// RecentQueries handles GET /api/v1/sessions/:id/recent
func (s *Server) RecentQueries(c *gin.Context) {
	recent, err := s.services.Engine.RecentQueries(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "queries": recent})
}

// CacheStats handles GET /ops/cache/stats
func (s *Server) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.services.Cache.Stats())
}

// InvalidateCatalog handles POST /ops/cache/invalidate
func (s *Server) InvalidateCatalog(c *gin.Context) {
	n, err := s.services.Engine.InvalidateCatalog(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": n})
}

// Performance handles GET /ops/performance
func (s *Server) Performance(c *gin.Context) {
	c.JSON(http.StatusOK, s.services.Monitor.Report())
}

// Recommendations handles GET /ops/recommendations
func (s *Server) Recommendations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"recommendations": s.services.Monitor.Recommend()})
}
