package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelwatch/kestrel/internal/conditions"
	"github.com/kestrelwatch/kestrel/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Connection pool configuration
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// CreateDetector creates a new detector
func (r *PostgresRepository) CreateDetector(ctx context.Context, d *models.Detector) error {
	query := `
		INSERT INTO detectors (id, name, type, enabled, condition_group_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.Name, d.Type, d.Enabled, d.ConditionGroupID, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	return nil
}

// GetDetectorByID retrieves a detector by ID
func (r *PostgresRepository) GetDetectorByID(ctx context.Context, id string) (*models.Detector, error) {
	query := `
		SELECT id, name, type, enabled, condition_group_id, created_at, updated_at
		FROM detectors
		WHERE id = $1
	`

	d := &models.Detector{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.Name, &d.Type, &d.Enabled, &d.ConditionGroupID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDetectorNotFound
		}
		return nil, fmt.Errorf("failed to get detector: %w", err)
	}

	return d, nil
}

// ListEnabledDetectors retrieves all detectors eligible for evaluation
func (r *PostgresRepository) ListEnabledDetectors(ctx context.Context) ([]*models.Detector, error) {
	query := `
		SELECT id, name, type, enabled, condition_group_id, created_at, updated_at
		FROM detectors
		WHERE enabled = true
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list detectors: %w", err)
	}
	defer rows.Close()

	detectors := []*models.Detector{}
	for rows.Next() {
		d := &models.Detector{}
		if err := rows.Scan(
			&d.ID, &d.Name, &d.Type, &d.Enabled, &d.ConditionGroupID, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan detector: %w", err)
		}
		detectors = append(detectors, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return detectors, nil
}

// GetConditionGroup retrieves a condition group with its ordered conditions
func (r *PostgresRepository) GetConditionGroup(ctx context.Context, groupID string) (*conditions.ConditionGroup, error) {
	g := &conditions.ConditionGroup{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name FROM condition_groups WHERE id = $1`, groupID,
	).Scan(&g.ID, &g.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, conditions.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get condition group: %w", err)
	}

	query := `
		SELECT id, group_id, comparison, threshold, priority, position
		FROM conditions
		WHERE group_id = $1
		ORDER BY position
	`

	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c := conditions.Condition{}
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Comparison, &c.Threshold, &c.Priority, &c.Position); err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		g.Conditions = append(g.Conditions, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return g, nil
}

// SaveConditionGroup upserts a condition group and replaces its conditions.
// Callers owning a conditions.GroupCache must invalidate the group id after
// a successful save.
func (r *PostgresRepository) SaveConditionGroup(ctx context.Context, g *conditions.ConditionGroup) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO condition_groups (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, g.ID, g.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert condition group: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM conditions WHERE group_id = $1`, g.ID); err != nil {
		return fmt.Errorf("failed to clear conditions: %w", err)
	}

	for i := range g.Conditions {
		c := &g.Conditions[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid condition %s: %w", c.ID, err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO conditions (id, group_id, comparison, threshold, priority, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, g.ID, c.Comparison, c.Threshold, c.Priority, c.Position)
		if err != nil {
			return fmt.Errorf("failed to insert condition: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetDetectorStates bulk fetches detector state rows for the passed group
// keys in a single query. Named keys match by value; the "no group" key
// matches the NULL row. Group keys with no row are absent from the result.
func (r *PostgresRepository) GetDetectorStates(ctx context.Context, detectorID string, groupKeys []models.GroupKey) (map[models.GroupKey]*models.DetectorState, error) {
	named := make([]string, 0, len(groupKeys))
	includeNull := false
	for _, gk := range groupKeys {
		if gk.Valid {
			named = append(named, gk.Key)
		} else {
			includeNull = true
		}
	}

	query := `
		SELECT detector_id, detector_group_key, active, state
		FROM detector_states
		WHERE detector_id = $1
		  AND (detector_group_key = ANY($2) OR (detector_group_key IS NULL AND $3))
	`

	rows, err := r.pool.Query(ctx, query, detectorID, named, includeNull)
	if err != nil {
		return nil, fmt.Errorf("failed to get detector states: %w", err)
	}
	defer rows.Close()

	states := make(map[models.GroupKey]*models.DetectorState, len(groupKeys))
	for rows.Next() {
		s := &models.DetectorState{}
		var key *string
		if err := rows.Scan(&s.DetectorID, &key, &s.Active, &s.State); err != nil {
			return nil, fmt.Errorf("failed to scan detector state: %w", err)
		}
		if key != nil {
			s.GroupKey = models.NewGroupKey(*key)
		} else {
			s.GroupKey = models.NoGroup
		}
		states[s.GroupKey] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return states, nil
}

// CreateDetectorStates bulk creates state rows in one batched call
func (r *PostgresRepository) CreateDetectorStates(ctx context.Context, states []*models.DetectorState) error {
	if len(states) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range states {
		batch.Queue(`
			INSERT INTO detector_states (detector_id, detector_group_key, active, state)
			VALUES ($1, $2, $3, $4)
		`, s.DetectorID, groupKeyColumn(s.GroupKey), s.Active, s.State)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to create detector states: %w", err)
	}

	return nil
}

// UpdateDetectorStates bulk updates the active/state columns in one batched call
func (r *PostgresRepository) UpdateDetectorStates(ctx context.Context, states []*models.DetectorState) error {
	if len(states) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range states {
		batch.Queue(`
			UPDATE detector_states
			SET active = $3, state = $4
			WHERE detector_id = $1
			  AND detector_group_key IS NOT DISTINCT FROM $2
		`, s.DetectorID, groupKeyColumn(s.GroupKey), s.Active, s.State)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to update detector states: %w", err)
	}

	return nil
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// groupKeyColumn maps a group key to its nullable column value
func groupKeyColumn(gk models.GroupKey) *string {
	if !gk.Valid {
		return nil
	}
	return &gk.Key
}
