package models

import (
	"encoding/json"
	"time"
)

// Agent is a named persona bound to a project. Sessions reference an agent
// through their metadata; the inter-agent bus addresses agents by id.
type Agent struct {
	ID          AgentID   `json:"id"`
	ProjectID   ProjectID `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChannelIntegration binds a project to one messaging channel. Credentials
// live in the secret store, never here.
type ChannelIntegration struct {
	ID        string    `json:"id"`
	ProjectID ProjectID `json:"project_id"`
	Channel   string    `json:"channel"`

	// Identifier is the channel-native account handle (phone number, bot
	// name, workspace id).
	Identifier string    `json:"identifier,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// MCPServer is a per-project tool-server instance created from a catalog
// template. (projectId, name) is unique.
type MCPServer struct {
	ID        string    `json:"id"`
	ProjectID ProjectID `json:"project_id"`
	Name      string    `json:"name"`
	Template  string    `json:"template"`

	// Config is template-specific settings; secret-valued fields hold
	// secret-store key names, not values.
	Config  json.RawMessage `json:"config,omitempty"`
	Enabled bool            `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
