// Package service handles business logic for detector and condition group
// administration. Writes invalidate the caches the evaluation path reads
// through, so configuration changes take effect without a restart.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelwatch/kestrel/internal/conditions"
	"github.com/kestrelwatch/kestrel/internal/models"
	"github.com/kestrelwatch/kestrel/internal/repository"
)

// HandlerInvalidator drops a cached evaluation handler so the next packet
// rebuilds it against fresh configuration.
type HandlerInvalidator interface {
	Invalidate(detectorID string)
}

// CreateDetectorRequest is the payload for registering a detector.
type CreateDetectorRequest struct {
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	Enabled          *bool   `json:"enabled,omitempty"`
	ConditionGroupID *string `json:"condition_group_id,omitempty"`
}

// ConditionSpec is one condition within a group save request.
type ConditionSpec struct {
	Comparison string               `json:"comparison"`
	Threshold  float64              `json:"threshold"`
	Priority   models.PriorityLevel `json:"priority"`
}

// SaveConditionGroupRequest is the payload for creating or replacing a
// condition group.
type SaveConditionGroupRequest struct {
	Name       string          `json:"name"`
	Conditions []ConditionSpec `json:"conditions"`
}

// Service handles business logic for detector administration
type Service struct {
	repo     repository.Repository
	groups   *conditions.GroupCache
	handlers HandlerInvalidator
}

// NewService creates a new service instance. handlers may be nil when no
// evaluation registry is running in this process.
func NewService(repo repository.Repository, groups *conditions.GroupCache, handlers HandlerInvalidator) *Service {
	return &Service{repo: repo, groups: groups, handlers: handlers}
}

// CreateDetector registers a new detector
func (s *Service) CreateDetector(ctx context.Context, req *CreateDetectorRequest) (*models.Detector, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("detector name is required")
	}
	if req.Type == "" {
		return nil, fmt.Errorf("detector type is required")
	}

	// Reject dangling group references up front
	if req.ConditionGroupID != nil {
		if _, err := s.repo.GetConditionGroup(ctx, *req.ConditionGroupID); err != nil {
			if errors.Is(err, conditions.ErrGroupNotFound) {
				return nil, fmt.Errorf("condition group %s does not exist", *req.ConditionGroupID)
			}
			return nil, err
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	detectorUUID, _ := uuid.NewV7()
	d := &models.Detector{
		ID:               detectorUUID.String(),
		Name:             req.Name,
		Type:             req.Type,
		Enabled:          enabled,
		ConditionGroupID: req.ConditionGroupID,
		CreatedAt:        time.Now(),
	}

	if err := s.repo.CreateDetector(ctx, d); err != nil {
		return nil, err
	}

	return s.repo.GetDetectorByID(ctx, d.ID)
}

// GetDetector retrieves a detector by ID
func (s *Service) GetDetector(ctx context.Context, id string) (*models.Detector, error) {
	return s.repo.GetDetectorByID(ctx, id)
}

// ListDetectors retrieves the detectors eligible for evaluation
func (s *Service) ListDetectors(ctx context.Context) ([]*models.Detector, error) {
	return s.repo.ListEnabledDetectors(ctx)
}

// SaveConditionGroup creates or replaces a condition group and invalidates
// every cache holding the previous version: the group cache itself and the
// evaluation handlers of detectors bound to the group.
func (s *Service) SaveConditionGroup(ctx context.Context, groupID string, req *SaveConditionGroupRequest) (*conditions.ConditionGroup, error) {
	if groupID == "" {
		return nil, fmt.Errorf("condition group id is required")
	}

	group := &conditions.ConditionGroup{
		ID:   groupID,
		Name: req.Name,
	}
	for i, spec := range req.Conditions {
		c := conditions.Condition{
			ID:         uuid.NewString(),
			GroupID:    groupID,
			Comparison: spec.Comparison,
			Threshold:  spec.Threshold,
			Priority:   spec.Priority,
			Position:   i,
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid condition at position %d: %w", i, err)
		}
		group.Conditions = append(group.Conditions, c)
	}

	if err := s.repo.SaveConditionGroup(ctx, group); err != nil {
		return nil, err
	}

	s.groups.Invalidate(groupID)
	if s.handlers != nil {
		detectors, err := s.repo.ListEnabledDetectors(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list detectors for invalidation: %w", err)
		}
		for _, d := range detectors {
			if d.ConditionGroupID != nil && *d.ConditionGroupID == groupID {
				s.handlers.Invalidate(d.ID)
			}
		}
	}

	return s.repo.GetConditionGroup(ctx, groupID)
}
