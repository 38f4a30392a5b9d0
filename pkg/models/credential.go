package models

import (
	"time"

	"github.com/google/uuid"
)

// Integration names. One credential row per (workspace, integration).
const (
	IntegrationPostHog = "posthog"
)

// CredentialMode selects which deployment of the analytics engine the
// workspace connects to.
type CredentialMode string

const (
	CredentialModeCloud      CredentialMode = "cloud"
	CredentialModeSelfHosted CredentialMode = "self_hosted"
)

// CredentialStatus is the connection lifecycle state.
type CredentialStatus string

const (
	CredentialStatusConnected    CredentialStatus = "connected"
	CredentialStatusValidating   CredentialStatus = "validating"
	CredentialStatusDisconnected CredentialStatus = "disconnected"
	CredentialStatusError        CredentialStatus = "error"
)

// WorkspaceCredential is the persisted per-workspace integration secret.
// The API key is stored as ciphertext and is never serialized.
type WorkspaceCredential struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	WorkspaceID      uuid.UUID        `db:"workspace_id" json:"workspace_id"`
	Integration      string           `db:"integration" json:"integration"`
	APIKeyCiphertext string           `db:"api_key_ciphertext" json:"-"`
	ProjectID        string           `db:"project_id" json:"project_id"`
	Host             string           `db:"host" json:"host"`
	Mode             CredentialMode   `db:"mode" json:"mode"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	Status           CredentialStatus `db:"status" json:"status"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (WorkspaceCredential) TableName() string {
	return "workspace_credentials"
}

// Usable reports whether the credential may be used to execute queries.
// Disabled or disconnected credentials are rejected before any remote call.
func (c *WorkspaceCredential) Usable() bool {
	if !c.IsActive {
		return false
	}
	return c.Status == CredentialStatusConnected || c.Status == CredentialStatusValidating
}

// Connection is a resolved, decrypted credential. It exists only for the
// lifetime of a single call and must never be persisted or logged.
type Connection struct {
	WorkspaceID uuid.UUID
	ProjectID   string
	APIKey      string
	Host        string
	Mode        CredentialMode
}
