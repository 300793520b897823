package repository

import (
	"context"
	"errors"

	"github.com/kestrelwatch/kestrel/internal/conditions"
	"github.com/kestrelwatch/kestrel/internal/models"
)

var (
	ErrDetectorNotFound = errors.New("detector not found")
)

// Repository defines the interface for detector configuration and durable
// detector state persistence.
type Repository interface {
	// Detector configuration
	CreateDetector(ctx context.Context, d *models.Detector) error
	GetDetectorByID(ctx context.Context, id string) (*models.Detector, error)
	ListEnabledDetectors(ctx context.Context) ([]*models.Detector, error)

	// Condition groups. GetConditionGroup satisfies conditions.GroupLoader
	// and returns conditions.ErrGroupNotFound for missing groups.
	GetConditionGroup(ctx context.Context, groupID string) (*conditions.ConditionGroup, error)
	SaveConditionGroup(ctx context.Context, g *conditions.ConditionGroup) error

	// Durable detector state, one row per (detector, group key)
	GetDetectorStates(ctx context.Context, detectorID string, groupKeys []models.GroupKey) (map[models.GroupKey]*models.DetectorState, error)
	CreateDetectorStates(ctx context.Context, states []*models.DetectorState) error
	UpdateDetectorStates(ctx context.Context, states []*models.DetectorState) error

	// Utility
	Close() error
}
