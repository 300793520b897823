package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/conditions"
	"github.com/kestrelwatch/kestrel/internal/models"
	"github.com/kestrelwatch/kestrel/internal/repository"
	"github.com/kestrelwatch/kestrel/internal/service"
)

// mockRepository is a mock implementation of repository.Repository for testing handlers
type mockRepository struct {
	createDetectorFunc       func(ctx context.Context, d *models.Detector) error
	getDetectorByIDFunc      func(ctx context.Context, id string) (*models.Detector, error)
	listEnabledDetectorsFunc func(ctx context.Context) ([]*models.Detector, error)
	getConditionGroupFunc    func(ctx context.Context, groupID string) (*conditions.ConditionGroup, error)
	saveConditionGroupFunc   func(ctx context.Context, g *conditions.ConditionGroup) error
}

func (m *mockRepository) CreateDetector(ctx context.Context, d *models.Detector) error {
	if m.createDetectorFunc != nil {
		return m.createDetectorFunc(ctx, d)
	}
	return nil
}

func (m *mockRepository) GetDetectorByID(ctx context.Context, id string) (*models.Detector, error) {
	if m.getDetectorByIDFunc != nil {
		return m.getDetectorByIDFunc(ctx, id)
	}
	return nil, repository.ErrDetectorNotFound
}

func (m *mockRepository) ListEnabledDetectors(ctx context.Context) ([]*models.Detector, error) {
	if m.listEnabledDetectorsFunc != nil {
		return m.listEnabledDetectorsFunc(ctx)
	}
	return nil, nil
}

func (m *mockRepository) GetConditionGroup(ctx context.Context, groupID string) (*conditions.ConditionGroup, error) {
	if m.getConditionGroupFunc != nil {
		return m.getConditionGroupFunc(ctx, groupID)
	}
	return nil, conditions.ErrGroupNotFound
}

func (m *mockRepository) SaveConditionGroup(ctx context.Context, g *conditions.ConditionGroup) error {
	if m.saveConditionGroupFunc != nil {
		return m.saveConditionGroupFunc(ctx, g)
	}
	return nil
}

func (m *mockRepository) GetDetectorStates(ctx context.Context, detectorID string, groupKeys []models.GroupKey) (map[models.GroupKey]*models.DetectorState, error) {
	return nil, nil
}

func (m *mockRepository) CreateDetectorStates(ctx context.Context, states []*models.DetectorState) error {
	return nil
}

func (m *mockRepository) UpdateDetectorStates(ctx context.Context, states []*models.DetectorState) error {
	return nil
}

func (m *mockRepository) Close() error { return nil }

func newTestHandler(repo *mockRepository) *Handler {
	return NewHandler(service.NewService(repo, conditions.NewGroupCache(repo), nil))
}

func TestHealthCheck(t *testing.T) {
	h := newTestHandler(&mockRepository{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestCreateDetectorHandler(t *testing.T) {
	t.Run("creates detector", func(t *testing.T) {
		var created *models.Detector
		repo := &mockRepository{
			createDetectorFunc: func(ctx context.Context, d *models.Detector) error {
				created = d
				return nil
			},
			getDetectorByIDFunc: func(ctx context.Context, id string) (*models.Detector, error) {
				return created, nil
			},
		}
		h := newTestHandler(repo)

		body, _ := json.Marshal(map[string]any{"name": "cpu detector", "type": "telemetry"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detectors", bytes.NewReader(body))
		w := httptest.NewRecorder()
		h.CreateDetector(w, req)

		require.Equal(t, http.StatusCreated, w.Code)

		var resp models.Detector
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "cpu detector", resp.Name)
		assert.NotEmpty(t, resp.ID)
	})

	t.Run("rejects invalid body", func(t *testing.T) {
		h := newTestHandler(&mockRepository{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/detectors", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		h.CreateDetector(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		h := newTestHandler(&mockRepository{})

		body, _ := json.Marshal(map[string]any{"name": "no type"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detectors", bytes.NewReader(body))
		w := httptest.NewRecorder()
		h.CreateDetector(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetDetectorHandler(t *testing.T) {
	t.Run("returns detector", func(t *testing.T) {
		repo := &mockRepository{
			getDetectorByIDFunc: func(ctx context.Context, id string) (*models.Detector, error) {
				return &models.Detector{ID: id, Name: "cpu detector", Type: "telemetry", Enabled: true}, nil
			},
		}
		h := newTestHandler(repo)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/detectors/det-1", nil)
		w := httptest.NewRecorder()
		h.GetDetector(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "det-1")
	})

	t.Run("missing detector is 404", func(t *testing.T) {
		h := newTestHandler(&mockRepository{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/detectors/missing", nil)
		w := httptest.NewRecorder()
		h.GetDetector(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty id is 400", func(t *testing.T) {
		h := newTestHandler(&mockRepository{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/detectors/", nil)
		w := httptest.NewRecorder()
		h.GetDetector(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListDetectorsHandler(t *testing.T) {
	repo := &mockRepository{
		listEnabledDetectorsFunc: func(ctx context.Context) ([]*models.Detector, error) {
			return []*models.Detector{
				{ID: "det-1", Name: "one", Type: "telemetry", Enabled: true},
				{ID: "det-2", Name: "two", Type: "telemetry", Enabled: true},
			}, nil
		},
	}
	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/detectors", nil)
	w := httptest.NewRecorder()
	h.ListDetectors(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Detectors []*models.Detector `json:"detectors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Detectors, 2)
}

func TestSaveConditionGroupHandler(t *testing.T) {
	t.Run("saves group", func(t *testing.T) {
		var saved *conditions.ConditionGroup
		repo := &mockRepository{
			saveConditionGroupFunc: func(ctx context.Context, g *conditions.ConditionGroup) error {
				saved = g
				return nil
			},
			getConditionGroupFunc: func(ctx context.Context, groupID string) (*conditions.ConditionGroup, error) {
				return saved, nil
			},
		}
		h := newTestHandler(repo)

		body, _ := json.Marshal(map[string]any{
			"name": "cpu thresholds",
			"conditions": []map[string]any{
				{"comparison": "gt", "threshold": 10, "priority": 50},
			},
		})
		req := httptest.NewRequest(http.MethodPut, "/api/v1/condition-groups/g1", bytes.NewReader(body))
		w := httptest.NewRecorder()
		h.SaveConditionGroup(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, saved)
		assert.Equal(t, "g1", saved.ID)
		require.Len(t, saved.Conditions, 1)
		assert.Equal(t, models.PriorityWarning, saved.Conditions[0].Priority)
	})

	t.Run("rejects invalid condition", func(t *testing.T) {
		h := newTestHandler(&mockRepository{})

		body, _ := json.Marshal(map[string]any{
			"name": "bad",
			"conditions": []map[string]any{
				{"comparison": "between", "threshold": 10, "priority": 50},
			},
		})
		req := httptest.NewRequest(http.MethodPut, "/api/v1/condition-groups/g1", bytes.NewReader(body))
		w := httptest.NewRecorder()
		h.SaveConditionGroup(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
