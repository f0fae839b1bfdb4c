// Package provisioning owns tenant resources: projects, their agents,
// channel integrations, and per-project MCP server instances. Onboarding
// composes these with the prompt store to bring a project up in one call.
package provisioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Store persists tenant resources in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates the store, creating its tables if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			environment TEXT NOT NULL,
			owner TEXT NOT NULL,
			tags TEXT,
			agent_config TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agents_project ON agents(project_id);
		CREATE TABLE IF NOT EXISTS channel_integrations (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			identifier TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_integrations_project ON channel_integrations(project_id);
		CREATE TABLE IF NOT EXISTS mcp_servers (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			template TEXT NOT NULL,
			config TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (project_id, name)
		)
	`); err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "create provisioning tables", err)
	}
	return &Store{db: db}, nil
}

// CreateProject persists a project.
func (s *Store) CreateProject(ctx context.Context, project models.Project) (models.Project, error) {
	if project.ID == "" {
		project.ID = models.NewProjectID()
	}
	if project.Status == "" {
		project.Status = models.ProjectActive
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	project.Config.ProjectID = project.ID

	tags, _ := json.Marshal(project.Tags)
	cfg, _ := json.Marshal(project.Config)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, environment, owner, tags, agent_config, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(project.ID), project.Name, string(project.Environment), project.Owner,
		string(tags), string(cfg), string(project.Status), now, now)
	if err != nil {
		return project, nexuserr.Wrap(nexuserr.CodeInternal, "insert project", err)
	}
	return project, nil
}

// GetProject loads one project. Soft-deleted projects are still readable.
func (s *Store) GetProject(ctx context.Context, id models.ProjectID) (models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, environment, owner, tags, agent_config, status, created_at, updated_at
		FROM projects WHERE id = ?
	`, string(id))

	var project models.Project
	var tags, cfg sql.NullString
	err := row.Scan(&project.ID, &project.Name, &project.Environment, &project.Owner,
		&tags, &cfg, &project.Status, &project.CreatedAt, &project.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return project, nexuserr.Newf(nexuserr.CodeNotFound, "project %s not found", id)
	}
	if err != nil {
		return project, nexuserr.Wrap(nexuserr.CodeInternal, "scan project", err)
	}
	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &project.Tags)
	}
	if cfg.Valid {
		_ = json.Unmarshal([]byte(cfg.String), &project.Config)
	}
	return project, nil
}

// UpdateProjectConfig replaces a project's agent configuration.
func (s *Store) UpdateProjectConfig(ctx context.Context, id models.ProjectID, cfg models.AgentConfig) error {
	cfg.ProjectID = id
	raw, _ := json.Marshal(cfg)
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET agent_config = ?, updated_at = ? WHERE id = ?
	`, string(raw), time.Now().UTC(), string(id))
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "update project config", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nexuserr.Newf(nexuserr.CodeNotFound, "project %s not found", id)
	}
	return nil
}

// SetProjectStatus moves a project between active/paused/deleted.
func (s *Store) SetProjectStatus(ctx context.Context, id models.ProjectID, status models.ProjectStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), string(id))
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "update project status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nexuserr.Newf(nexuserr.CodeNotFound, "project %s not found", id)
	}
	return nil
}

// CreateAgent persists an agent for a project.
func (s *Store) CreateAgent(ctx context.Context, agent models.Agent) (models.Agent, error) {
	if agent.ID == "" {
		agent.ID = models.NewAgentID()
	}
	agent.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, project_id, name, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(agent.ID), string(agent.ProjectID), agent.Name, agent.Description, agent.CreatedAt)
	if err != nil {
		return agent, nexuserr.Wrap(nexuserr.CodeInternal, "insert agent", err)
	}
	return agent, nil
}

// ListAgents returns a project's agents.
func (s *Store) ListAgents(ctx context.Context, projectID models.ProjectID) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, created_at
		FROM agents WHERE project_id = ? ORDER BY created_at ASC
	`, string(projectID))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list agents", err)
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var agent models.Agent
		var desc sql.NullString
		if err := rows.Scan(&agent.ID, &agent.ProjectID, &agent.Name, &desc, &agent.CreatedAt); err != nil {
			return nil, nexuserr.Wrap(nexuserr.CodeInternal, "scan agent", err)
		}
		if desc.Valid {
			agent.Description = desc.String
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

// CreateIntegration persists a channel integration.
func (s *Store) CreateIntegration(ctx context.Context, integ models.ChannelIntegration) (models.ChannelIntegration, error) {
	if integ.ID == "" {
		integ.ID = uuid.NewString()
	}
	if integ.Status == "" {
		integ.Status = "active"
	}
	integ.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_integrations (id, project_id, channel, identifier, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, integ.ID, string(integ.ProjectID), integ.Channel, integ.Identifier, integ.Status, integ.CreatedAt)
	if err != nil {
		return integ, nexuserr.Wrap(nexuserr.CodeInternal, "insert integration", err)
	}
	return integ, nil
}

// ListIntegrations returns a project's channel integrations.
func (s *Store) ListIntegrations(ctx context.Context, projectID models.ProjectID) ([]models.ChannelIntegration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, channel, identifier, status, created_at
		FROM channel_integrations WHERE project_id = ? ORDER BY created_at ASC
	`, string(projectID))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list integrations", err)
	}
	defer rows.Close()

	var out []models.ChannelIntegration
	for rows.Next() {
		var integ models.ChannelIntegration
		var identifier sql.NullString
		if err := rows.Scan(&integ.ID, &integ.ProjectID, &integ.Channel, &identifier, &integ.Status, &integ.CreatedAt); err != nil {
			return nil, nexuserr.Wrap(nexuserr.CodeInternal, "scan integration", err)
		}
		if identifier.Valid {
			integ.Identifier = identifier.String
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

// CreateMCPServer persists a tool-server instance. A duplicate
// (projectId, name) yields CONFLICT.
func (s *Store) CreateMCPServer(ctx context.Context, server models.MCPServer) (models.MCPServer, error) {
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	server.CreatedAt = now
	server.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (id, project_id, name, template, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, server.ID, string(server.ProjectID), server.Name, server.Template,
		nullableJSON(server.Config), boolToInt(server.Enabled), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return server, nexuserr.Newf(nexuserr.CodeConflict,
				"mcp server %q already exists for project %s", server.Name, server.ProjectID)
		}
		return server, nexuserr.Wrap(nexuserr.CodeInternal, "insert mcp server", err)
	}
	return server, nil
}

// GetMCPServer loads one instance by id, scoped to its project.
func (s *Store) GetMCPServer(ctx context.Context, projectID models.ProjectID, id string) (models.MCPServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, template, config, enabled, created_at, updated_at
		FROM mcp_servers WHERE project_id = ? AND id = ?
	`, string(projectID), id)
	server, err := scanMCPServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return server, nexuserr.Newf(nexuserr.CodeNotFound, "mcp server %s not found", id)
	}
	return server, err
}

// ListMCPServers returns a project's instances.
func (s *Store) ListMCPServers(ctx context.Context, projectID models.ProjectID) ([]models.MCPServer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, template, config, enabled, created_at, updated_at
		FROM mcp_servers WHERE project_id = ? ORDER BY created_at ASC
	`, string(projectID))
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.CodeInternal, "list mcp servers", err)
	}
	defer rows.Close()

	var out []models.MCPServer
	for rows.Next() {
		server, err := scanMCPServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	return out, rows.Err()
}

// MCPServerPatch carries the mutable fields of an instance; nil means
// leave unchanged.
type MCPServerPatch struct {
	Config  json.RawMessage
	Enabled *bool
}

// UpdateMCPServer applies a patch.
func (s *Store) UpdateMCPServer(ctx context.Context, projectID models.ProjectID, id string, patch MCPServerPatch) (models.MCPServer, error) {
	server, err := s.GetMCPServer(ctx, projectID, id)
	if err != nil {
		return server, err
	}
	if patch.Config != nil {
		server.Config = patch.Config
	}
	if patch.Enabled != nil {
		server.Enabled = *patch.Enabled
	}
	server.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE mcp_servers SET config = ?, enabled = ?, updated_at = ? WHERE project_id = ? AND id = ?
	`, nullableJSON(server.Config), boolToInt(server.Enabled), server.UpdatedAt, string(projectID), id)
	if err != nil {
		return server, nexuserr.Wrap(nexuserr.CodeInternal, "update mcp server", err)
	}
	return server, nil
}

// DeleteMCPServer removes an instance. Deleting an unknown id is NOT_FOUND.
func (s *Store) DeleteMCPServer(ctx context.Context, projectID models.ProjectID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM mcp_servers WHERE project_id = ? AND id = ?
	`, string(projectID), id)
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeInternal, "delete mcp server", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nexuserr.Newf(nexuserr.CodeNotFound, "mcp server %s not found", id)
	}
	return nil
}

func scanMCPServer(row interface{ Scan(...any) error }) (models.MCPServer, error) {
	var server models.MCPServer
	var config sql.NullString
	var enabled int
	err := row.Scan(&server.ID, &server.ProjectID, &server.Name, &server.Template,
		&config, &enabled, &server.CreatedAt, &server.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return server, err
		}
		return server, nexuserr.Wrap(nexuserr.CodeInternal, "scan mcp server", err)
	}
	if config.Valid {
		server.Config = json.RawMessage(config.String)
	}
	server.Enabled = enabled != 0
	return server, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
