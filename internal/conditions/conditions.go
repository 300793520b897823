package conditions

import (
	"fmt"

	"github.com/kestrelwatch/kestrel/internal/models"
)

// Condition is a single threshold predicate over an observation value.
// When the predicate holds, the condition fires at its configured priority.
type Condition struct {
	ID         string               `json:"id"`
	GroupID    string               `json:"group_id"`
	Comparison string               `json:"comparison" validate:"required,oneof=gt gte lt lte eq ne"`
	Threshold  float64              `json:"threshold"`
	Priority   models.PriorityLevel `json:"priority"`
	Position   int                  `json:"position"`
}

// Validate checks that the condition is well-formed.
func (c *Condition) Validate() error {
	validComparisons := map[string]bool{"gt": true, "gte": true, "lt": true, "lte": true, "eq": true, "ne": true}
	if !validComparisons[c.Comparison] {
		return fmt.Errorf("invalid comparison: %s", c.Comparison)
	}
	if c.Priority <= models.PriorityOK {
		return fmt.Errorf("priority must be above ok, got %s", c.Priority)
	}
	return nil
}

// EvaluateValue evaluates the observation value against this condition.
// It returns the fired priority, or nil when the condition does not fire.
func (c *Condition) EvaluateValue(value float64) *models.PriorityLevel {
	var fired bool
	switch c.Comparison {
	case "gt":
		fired = value > c.Threshold
	case "gte":
		fired = value >= c.Threshold
	case "lt":
		fired = value < c.Threshold
	case "lte":
		fired = value <= c.Threshold
	case "eq":
		fired = value == c.Threshold
	case "ne":
		fired = value != c.Threshold
	}
	if !fired {
		return nil
	}
	p := c.Priority
	return &p
}

// ConditionGroup is an ordered collection of conditions owned by a detector.
type ConditionGroup struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
}

// EvaluateValue evaluates the observation value against every condition in
// the group and returns the worst-case priority across those that fired,
// defaulting to OK when none did.
func (g *ConditionGroup) EvaluateValue(value float64) models.PriorityLevel {
	status := models.PriorityOK
	for i := range g.Conditions {
		if evaluation := g.Conditions[i].EvaluateValue(value); evaluation != nil {
			status = models.MaxPriority(status, *evaluation)
		}
	}
	return status
}
