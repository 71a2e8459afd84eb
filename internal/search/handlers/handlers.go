package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/app/fieldmapper"
	"github.com/tegendraads/registry/pkg/logger"
)

const maxListLimit = 100

// RebuildService is the part of the rebuild service the HTTP API drives.
type RebuildService interface {
	Trigger(ctx context.Context, trigger indexing.Trigger) (*indexing.IndexRun, error)
	GetRun(ctx context.Context, id string) (*indexing.IndexRun, error)
	ListRuns(ctx context.Context, limit int) ([]*indexing.IndexRun, error)
	Running() bool
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// IndexHandlers exposes rebuild runs over HTTP.
type IndexHandlers struct {
	service RebuildService
	mapper  *fieldmapper.Mapper
	checks  map[string]ReadinessCheck
	logger  logger.Logger
}

// NewIndexHandlers creates the index handlers
func NewIndexHandlers(
	service RebuildService,
	mapper *fieldmapper.Mapper,
	checks map[string]ReadinessCheck,
	logger logger.Logger,
) *IndexHandlers {
	return &IndexHandlers{
		service: service,
		mapper:  mapper,
		checks:  checks,
		logger:  logger,
	}
}

// Health handles GET /health
func (h *IndexHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready handles GET /ready. It fails while a dependency is unreachable.
func (h *IndexHandlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "rebuilding": h.service.Running()})
}

// TriggerRebuild starts a rebuild in the background.
func (h *IndexHandlers) TriggerRebuild(c *gin.Context) {
	run, err := h.service.Trigger(c.Request.Context(), indexing.TriggerAPI)
	if errors.Is(err, indexing.ErrRebuildInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to trigger rebuild", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger rebuild"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

// ListRuns handles GET /api/v1/index/runs
func (h *IndexHandlers) ListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list index runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun handles GET /api/v1/index/runs/:id
func (h *IndexHandlers) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, indexing.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get index run", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run})
}

// Fields exposes the search parameter to index field table.
func (h *IndexHandlers) Fields(c *gin.Context) {
	suggest := gin.H{}
	for _, m := range h.mapper.Mappings() {
		suggest[string(m.Parameter)] = h.mapper.SuggestFields(m.Parameter)
	}

	c.JSON(http.StatusOK, gin.H{
		"mappings":        h.mapper.Mappings(),
		"excludeFields":   h.mapper.ExcludeFields(),
		"highlightFields": h.mapper.HighlightFields(),
		"suggestFields":   suggest,
		"fullTextFields":  h.mapper.FullTextFields(),
	})
}
