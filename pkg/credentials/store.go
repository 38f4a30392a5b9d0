package credentials

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/getbeton/inspector-sub003/pkg/crypto"
	qerrors "github.com/getbeton/inspector-sub003/pkg/errors"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/repositories"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// DefaultCloudHost is used when a cloud-mode credential omits the host.
const DefaultCloudHost = "https://app.posthog.com"

// Scope identifies the workspace a call acts for. It is resolved once at the
// entry point: Session reads the workspace from the authenticated context,
// Admin carries an explicit workspace id for the agent/machine surfaces that
// bypass session auth. Either way the workspace filter lands in the SQL.
type Scope struct {
	admin       bool
	workspaceID uuid.UUID
}

// SessionScope binds the call to the workspace in the request context.
func SessionScope() Scope {
	return Scope{}
}

// AdminScope binds the call to an explicit workspace id.
func AdminScope(workspaceID uuid.UUID) Scope {
	return Scope{admin: true, workspaceID: workspaceID}
}

// WorkspaceID resolves the scope against the context.
func (s Scope) WorkspaceID(ctx context.Context) (uuid.UUID, error) {
	if s.admin {
		if s.workspaceID == uuid.Nil {
			return uuid.Nil, qerrors.NewConfigurationError("workspace id is required")
		}
		return s.workspaceID, nil
	}
	return repositories.GetWorkspaceID(ctx)
}

// Store resolves, configures, and disconnects workspace credentials.
// Plaintext keys exist only inside a single call; nothing here caches them.
type Store struct {
	repo   *repositories.CredentialRepository
	cipher *crypto.Cipher
	logger ectologger.Logger
}

// NewStore creates a credential store.
func NewStore(repo *repositories.CredentialRepository, cipher *crypto.Cipher, logger ectologger.Logger) *Store {
	return &Store{repo: repo, cipher: cipher, logger: logger}
}

// Resolve loads and decrypts the credential for the scoped workspace. Any
// state in which the integration cannot be used (missing row, disabled,
// disconnected, empty key or project after decrypt) is a ConfigurationError.
func (s *Store) Resolve(ctx context.Context, scope Scope, integration string) (*models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Resolve")
	defer span.End()

	workspaceID, err := scope.WorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	credential, err := s.repo.GetByIntegration(ctx, workspaceID, integration)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, qerrors.NewConfigurationError("%s is not connected for this workspace", integration)
	}
	if !credential.Usable() {
		return nil, qerrors.NewConfigurationError("%s integration is disabled or disconnected", integration)
	}

	apiKey, err := s.cipher.Decrypt(credential.APIKeyCiphertext)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": workspaceID,
			"integration":  integration,
		}).Error("failed to decrypt credential")
		return nil, qerrors.NewConfigurationError("%s credential cannot be decrypted, reconnect the integration", integration)
	}

	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(credential.ProjectID) == "" {
		return nil, qerrors.NewConfigurationError("%s credential is incomplete, reconnect the integration", integration)
	}

	host := credential.Host
	if host == "" && credential.Mode == models.CredentialModeCloud {
		host = DefaultCloudHost
	}
	if host == "" {
		return nil, qerrors.NewConfigurationError("%s host is not configured", integration)
	}

	return &models.Connection{
		WorkspaceID: workspaceID,
		ProjectID:   credential.ProjectID,
		APIKey:      apiKey,
		Host:        strings.TrimRight(host, "/"),
		Mode:        credential.Mode,
	}, nil
}

// ConfigureInput is the non-secret shape of a configure request plus the
// plaintext key, which is encrypted before it touches the database.
type ConfigureInput struct {
	APIKey    string
	ProjectID string
	Host      string
	Mode      models.CredentialMode
}

// Configure encrypts and upserts the credential, leaving it in the
// validating state until a live query confirms connectivity.
func (s *Store) Configure(ctx context.Context, scope Scope, integration string, input ConfigureInput) (*models.WorkspaceCredential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Configure")
	defer span.End()

	workspaceID, err := scope.WorkspaceID(ctx)
	if err != nil {
		return nil, err
	}

	if input.Mode == models.CredentialModeSelfHosted && strings.TrimSpace(input.Host) == "" {
		return nil, qerrors.NewInvalidQueryError("host is required for self-hosted mode")
	}

	ciphertext, err := s.cipher.Encrypt(input.APIKey)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": workspaceID,
			"integration":  integration,
		}).Error("failed to encrypt credential")
		return nil, qerrors.NewConfigurationError("failed to protect credential").WithCause(err)
	}

	credential := &models.WorkspaceCredential{
		WorkspaceID:      workspaceID,
		Integration:      integration,
		APIKeyCiphertext: ciphertext,
		ProjectID:        input.ProjectID,
		Host:             strings.TrimRight(input.Host, "/"),
		Mode:             input.Mode,
		IsActive:         true,
		Status:           models.CredentialStatusValidating,
	}
	if err := s.repo.Upsert(ctx, credential); err != nil {
		return nil, err
	}

	return credential, nil
}

// SetStatus moves the credential's lifecycle state, e.g. validating →
// connected after a successful probe query.
func (s *Store) SetStatus(ctx context.Context, scope Scope, integration string, status models.CredentialStatus, isActive bool) (bool, error) {
	workspaceID, err := scope.WorkspaceID(ctx)
	if err != nil {
		return false, err
	}
	return s.repo.UpdateStatus(ctx, workspaceID, integration, status, isActive)
}

// Disconnect disables the credential without deleting the row, so the
// non-secret metadata survives for the settings page.
func (s *Store) Disconnect(ctx context.Context, scope Scope, integration string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Disconnect")
	defer span.End()

	workspaceID, err := scope.WorkspaceID(ctx)
	if err != nil {
		return false, err
	}
	return s.repo.UpdateStatus(ctx, workspaceID, integration, models.CredentialStatusDisconnected, false)
}

// Get returns the stored credential metadata for the scoped workspace, or
// (nil, nil) when the integration was never configured. The ciphertext field
// is never serialized; callers present masked status only.
func (s *Store) Get(ctx context.Context, scope Scope, integration string) (*models.WorkspaceCredential, error) {
	workspaceID, err := scope.WorkspaceID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByIntegration(ctx, workspaceID, integration)
}
