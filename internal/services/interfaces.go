package services

import (
	"context"

	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/pkg/airtable"
)

// ParameterSource resolves operation parameters for one input item
type ParameterSource interface {
	// Parameter returns the resolved value of name for the item at itemIndex
	Parameter(name string, itemIndex int) (any, bool)
}

// CredentialSource supplies the Airtable credentials of an invocation
type CredentialSource interface {
	Credentials(ctx context.Context) (airtable.Credentials, error)
}

// OperationServiceInterface defines the interface for resource operations
type OperationServiceInterface interface {
	Execute(ctx context.Context, inv Invocation) ([]models.Item, error)
}

// TriggerServiceInterface defines the interface for poll trigger management
type TriggerServiceInterface interface {
	Activate(ctx context.Context, req *models.ActivateTriggerRequest, creds CredentialSource) (*models.ActivateTriggerResponse, error)
	Deactivate(id string) error
	List() []models.TriggerInfo
	StopAll()
}

// CredentialServiceInterface defines the interface for credential checks
type CredentialServiceInterface interface {
	Test(ctx context.Context, creds airtable.Credentials) *models.CredentialTestResponse
}

// Ensure services implement their interfaces
var _ OperationServiceInterface = (*OperationService)(nil)
var _ TriggerServiceInterface = (*TriggerService)(nil)
var _ CredentialServiceInterface = (*CredentialService)(nil)
