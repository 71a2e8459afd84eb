package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/app/fieldmapper"
	"github.com/tegendraads/registry/pkg/logger"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Trigger(ctx context.Context, trigger indexing.Trigger) (*indexing.IndexRun, error) {
	args := m.Called(ctx, trigger)
	run, _ := args.Get(0).(*indexing.IndexRun)
	return run, args.Error(1)
}

func (m *mockService) GetRun(ctx context.Context, id string) (*indexing.IndexRun, error) {
	args := m.Called(ctx, id)
	run, _ := args.Get(0).(*indexing.IndexRun)
	return run, args.Error(1)
}

func (m *mockService) ListRuns(ctx context.Context, limit int) ([]*indexing.IndexRun, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]*indexing.IndexRun)
	return runs, args.Error(1)
}

func (m *mockService) Running() bool {
	return m.Called().Bool(0)
}

func setupRouter(svc RebuildService, checks map[string]ReadinessCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewIndexHandlers(svc, fieldmapper.Datasets, checks, logger.NewNop())

	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	v1 := router.Group("/api/v1/index")
	v1.POST("/rebuild", h.TriggerRebuild)
	v1.GET("/runs", h.ListRuns)
	v1.GET("/runs/:id", h.GetRun)
	v1.GET("/fields", h.Fields)
	return router
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestTriggerRebuild_Accepted(t *testing.T) {
	svc := &mockService{}
	svc.On("Trigger", mock.Anything, indexing.TriggerAPI).
		Return(&indexing.IndexRun{ID: "run-1", State: indexing.StateInit}, nil)

	w := serve(setupRouter(svc, nil), http.MethodPost, "/api/v1/index/rebuild")

	assert.Equal(t, http.StatusAccepted, w.Code)
	var body struct {
		Run indexing.IndexRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Run.ID)
	svc.AssertExpectations(t)
}

func TestTriggerRebuild_Conflict(t *testing.T) {
	svc := &mockService{}
	svc.On("Trigger", mock.Anything, indexing.TriggerAPI).Return(nil, indexing.ErrRebuildInProgress)

	w := serve(setupRouter(svc, nil), http.MethodPost, "/api/v1/index/rebuild")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTriggerRebuild_InternalError(t *testing.T) {
	svc := &mockService{}
	svc.On("Trigger", mock.Anything, indexing.TriggerAPI).Return(nil, errors.New("boom"))

	w := serve(setupRouter(svc, nil), http.MethodPost, "/api/v1/index/rebuild")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestListRuns(t *testing.T) {
	svc := &mockService{}
	svc.On("ListRuns", mock.Anything, 20).Return([]*indexing.IndexRun{{ID: "a"}, {ID: "b"}}, nil)
	svc.On("ListRuns", mock.Anything, 5).Return([]*indexing.IndexRun{{ID: "a"}}, nil)
	router := setupRouter(svc, nil)

	w := serve(router, http.MethodGet, "/api/v1/index/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Runs []indexing.IndexRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 2)

	w = serve(router, http.MethodGet, "/api/v1/index/runs?limit=5")
	assert.Equal(t, http.StatusOK, w.Code)

	for _, bad := range []string{"0", "-1", "abc", "101"} {
		w = serve(router, http.MethodGet, "/api/v1/index/runs?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestGetRun(t *testing.T) {
	svc := &mockService{}
	svc.On("GetRun", mock.Anything, "run-1").Return(&indexing.IndexRun{ID: "run-1", State: indexing.StateDone}, nil)
	svc.On("GetRun", mock.Anything, "missing").Return(nil, indexing.ErrRunNotFound)
	router := setupRouter(svc, nil)

	w := serve(router, http.MethodGet, "/api/v1/index/runs/run-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"done"`)

	w = serve(router, http.MethodGet, "/api/v1/index/runs/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFields(t *testing.T) {
	w := serve(setupRouter(&mockService{}, nil), http.MethodGet, "/api/v1/index/fields")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Mappings      []fieldmapper.Mapping `json:"mappings"`
		ExcludeFields []string              `json:"excludeFields"`
		SuggestFields map[string][]string   `json:"suggestFields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Mappings, 16)
	assert.Equal(t, []string{"all", "taxonKey"}, body.ExcludeFields)
	assert.Equal(t, []string{"title", "type", "subtype", "description"}, body.SuggestFields["DATASET_TITLE"])
}

func TestReady(t *testing.T) {
	svc := &mockService{}
	svc.On("Running").Return(true)

	w := serve(setupRouter(svc, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
	}), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rebuilding":true`)

	w = serve(setupRouter(svc, map[string]ReadinessCheck{
		"database": func(context.Context) error { return errors.New("connection refused") },
	}), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestHealth(t *testing.T) {
	w := serve(setupRouter(&mockService{}, nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}
