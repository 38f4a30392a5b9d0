package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/getbeton/inspector-sub003/pkg/database"
	"github.com/getbeton/inspector-sub003/pkg/models"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

const credentialsTable = "workspace_credentials"

var credentialStruct = database.NewStruct(new(models.WorkspaceCredential))

// CredentialRepository handles database operations for workspace credentials
type CredentialRepository struct {
	*Repository
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db database.DB, logger ectologger.Logger) *CredentialRepository {
	return &CredentialRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetByIntegration retrieves the credential for a workspace and integration.
// A missing row is reported as (nil, nil), not an error: "not configured" is
// an expected state the caller classifies, never a provider error string.
func (r *CredentialRepository) GetByIntegration(ctx context.Context, workspaceID uuid.UUID, integration string) (*models.WorkspaceCredential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.GetByIntegration")
	defer span.End()

	sb := credentialStruct.SelectFrom(credentialsTable)
	sb.Where(sb.Equal("workspace_id", workspaceID), sb.Equal("integration", integration))

	query, args := sb.Build()
	var credential models.WorkspaceCredential
	err := r.DB().GetContext(ctx, &credential, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": workspaceID,
			"integration":  integration,
		}).Error("failed to get credential")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get credential")
	}

	return &credential, nil
}

// Upsert creates or replaces the credential for (workspace, integration).
func (r *CredentialRepository) Upsert(ctx context.Context, credential *models.WorkspaceCredential) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.Upsert")
	defer span.End()

	if credential.ID == uuid.Nil {
		credential.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(credentialsTable).
		Cols("id", "workspace_id", "integration", "api_key_ciphertext", "project_id", "host", "mode", "is_active", "status", "created_at", "updated_at").
		Values(credential.ID, credential.WorkspaceID, credential.Integration, credential.APIKeyCiphertext,
			credential.ProjectID, credential.Host, credential.Mode, credential.IsActive, credential.Status,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ub := ib.OnConflict("workspace_id", "integration")
	ub.Set(
		ub.Assign("api_key_ciphertext", database.Excluded("api_key_ciphertext")),
		ub.Assign("project_id", database.Excluded("project_id")),
		ub.Assign("host", database.Excluded("host")),
		ub.Assign("mode", database.Excluded("mode")),
		ub.Assign("is_active", database.Excluded("is_active")),
		ub.Assign("status", database.Excluded("status")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ub.SQL("RETURNING id, created_at, updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&credential.ID, &credential.CreatedAt, &credential.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": credential.WorkspaceID,
			"integration":  credential.Integration,
		}).Error("failed to upsert credential")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save credential")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"workspace_id": credential.WorkspaceID,
		"integration":  credential.Integration,
	}).Debugf("Upserted %s", credentialsTable)
	return nil
}

// UpdateStatus changes the lifecycle status of a credential.
func (r *CredentialRepository) UpdateStatus(ctx context.Context, workspaceID uuid.UUID, integration string, status models.CredentialStatus, isActive bool) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(credentialsTable).
		Set(
			ub.Assign("status", status),
			ub.Assign("is_active", isActive),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("workspace_id", workspaceID), ub.Equal("integration", integration))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": workspaceID,
			"integration":  integration,
		}).Error("failed to update credential status")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update credential status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update credential status")
	}

	return rows > 0, nil
}

// Delete removes a credential row entirely.
func (r *CredentialRepository) Delete(ctx context.Context, workspaceID uuid.UUID, integration string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(credentialsTable).
		Where(db.Equal("workspace_id", workspaceID), db.Equal("integration", integration))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"workspace_id": workspaceID,
			"integration":  integration,
		}).Error("failed to delete credential")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete credential")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
