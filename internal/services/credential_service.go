package services

import (
	"context"

	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/internal/repository"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"go.uber.org/zap"
)

const (
	CredentialStatusOK    = "OK"
	CredentialStatusError = "Error"
)

// CredentialService checks Airtable credentials for the host
type CredentialService struct {
	meta repository.MetaRepositoryInterface
}

// NewCredentialService creates a new credential service
func NewCredentialService(meta repository.MetaRepositoryInterface) *CredentialService {
	return &CredentialService{meta: meta}
}

// Test validates creds locally and with one metadata request. It never
// returns an error; the outcome is reported in the response.
func (s *CredentialService) Test(ctx context.Context, creds airtable.Credentials) *models.CredentialTestResponse {
	if err := creds.Validate(); err != nil {
		return &models.CredentialTestResponse{Status: CredentialStatusError, Message: err.Error()}
	}

	if err := s.meta.TestCredentials(ctx, creds); err != nil {
		logger.Info("Credential test failed",
			zap.String("auth_type", string(creds.AuthenticationType)),
			zap.Error(err))
		return &models.CredentialTestResponse{Status: CredentialStatusError, Message: err.Error()}
	}

	return &models.CredentialTestResponse{Status: CredentialStatusOK, Message: "Connection successful!"}
}
