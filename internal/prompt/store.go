// Package prompt manages versioned prompt layers and assembles the system
// prompt for each run.
package prompt

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Store persists prompt layers. Versions are append-only per
// (project, layerType); activation flips which version is live.
type Store struct {
	db *sql.DB
}

// NewStore creates a prompt layer store, creating its table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prompt_layers (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			layer_type TEXT NOT NULL,
			version INTEGER NOT NULL,
			content TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL,
			change_reason TEXT,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(project_id, layer_type, version)
		);
		CREATE INDEX IF NOT EXISTS idx_prompt_layers_active
			ON prompt_layers(project_id, layer_type, is_active)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create prompt_layers table", err)
	}
	return &Store{db: db}, nil
}

// Create appends a new layer version (max existing version + 1), inactive
// until activated.
func (s *Store) Create(ctx context.Context, projectID models.ProjectID, layerType models.PromptLayerType, content, createdBy, changeReason string) (models.PromptLayer, error) {
	layer := models.PromptLayer{
		ID:           models.NewPromptLayerID(),
		ProjectID:    projectID,
		LayerType:    layerType,
		Content:      content,
		CreatedBy:    createdBy,
		ChangeReason: changeReason,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return layer, nexuserr.Wrap(nexuserr.CodeInternal, "begin create layer", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(version) FROM prompt_layers WHERE project_id = ? AND layer_type = ?
	`, string(projectID), string(layerType)).Scan(&maxVersion)
	if err != nil {
		return layer, nexuserr.Wrap(nexuserr.CodeInternal, "read layer version", err)
	}
	layer.Version = int(maxVersion.Int64) + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_layers
			(id, project_id, layer_type, version, content, is_active, created_by, change_reason, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, string(layer.ID), string(projectID), string(layerType), layer.Version,
		content, createdBy, changeReason, layer.CreatedAt)
	if err != nil {
		return layer, nexuserr.Wrap(nexuserr.CodeInternal, "insert layer", err)
	}
	if err := tx.Commit(); err != nil {
		return layer, nexuserr.Wrap(nexuserr.CodeInternal, "commit create layer", err)
	}
	return layer, nil
}

// Activate makes the given layer the single active version for its
// (project, layerType). The flip is one transaction: a concurrent reader
// sees either the old active version or the new one, never both or neither.
func (s *Store) Activate(ctx context.Context, id models.PromptLayerID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "begin activate", err)
	}
	defer tx.Rollback()

	var projectID, layerType string
	err = tx.QueryRowContext(ctx, `
		SELECT project_id, layer_type FROM prompt_layers WHERE id = ?
	`, string(id)).Scan(&projectID, &layerType)
	if errors.Is(err, sql.ErrNoRows) {
		return nexuserr.Newf(nexuserr.CodeNotFound, "prompt layer %s not found", id)
	}
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "load layer", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_layers SET is_active = 0
		WHERE project_id = ? AND layer_type = ? AND is_active = 1
	`, projectID, layerType); err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "deactivate current layer", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_layers SET is_active = 1 WHERE id = ?
	`, string(id)); err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "activate layer", err)
	}
	if err := tx.Commit(); err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "commit activate", err)
	}
	return nil
}

// Get returns one layer by id.
func (s *Store) Get(ctx context.Context, id models.PromptLayerID) (models.PromptLayer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, layer_type, version, content, is_active, created_by, change_reason, created_at
		FROM prompt_layers WHERE id = ?
	`, string(id))
	layer, err := scanLayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return layer, nexuserr.Newf(nexuserr.CodeNotFound, "prompt layer %s not found", id)
	}
	return layer, err
}

// ActiveLayers returns the active layer per type for a project.
func (s *Store) ActiveLayers(ctx context.Context, projectID models.ProjectID) (map[models.PromptLayerType]models.PromptLayer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, layer_type, version, content, is_active, created_by, change_reason, created_at
		FROM prompt_layers WHERE project_id = ? AND is_active = 1
	`, string(projectID))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "load active layers", err)
	}
	defer rows.Close()

	out := make(map[models.PromptLayerType]models.PromptLayer, 3)
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		out[layer.LayerType] = layer
	}
	return out, rows.Err()
}

// History lists all versions of one layer type, newest first.
func (s *Store) History(ctx context.Context, projectID models.ProjectID, layerType models.PromptLayerType) ([]models.PromptLayer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, layer_type, version, content, is_active, created_by, change_reason, created_at
		FROM prompt_layers WHERE project_id = ? AND layer_type = ?
		ORDER BY version DESC
	`, string(projectID), string(layerType))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "load layer history", err)
	}
	defer rows.Close()

	var out []models.PromptLayer
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, layer)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLayer(row rowScanner) (models.PromptLayer, error) {
	var layer models.PromptLayer
	var active int
	var reason sql.NullString
	err := row.Scan(&layer.ID, &layer.ProjectID, &layer.LayerType, &layer.Version,
		&layer.Content, &active, &layer.CreatedBy, &reason, &layer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return layer, err
		}
		return layer, nexuserr.Wrap(nexuserr.CodeInternal, "scan prompt layer", err)
	}
	layer.IsActive = active == 1
	layer.ChangeReason = reason.String
	return layer, nil
}
