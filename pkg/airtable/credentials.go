package airtable

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
)

// AuthenticationType selects how the token is presented to Airtable
type AuthenticationType string

const (
	// AuthPAT sends "Authorization: Bearer <token>"
	AuthPAT AuthenticationType = "pat"
	// AuthAPIKey is the legacy scheme; the key is sent unprefixed
	AuthAPIKey AuthenticationType = "apiKey"
)

// Credentials are read-only for the lifetime of a request
type Credentials struct {
	AuthenticationType AuthenticationType `json:"authenticationType" binding:"omitempty,oneof=pat apiKey"`
	AccessToken        string             `json:"accessToken,omitempty"`
	APIKey             string             `json:"apiKey,omitempty"`
}

// Token returns the access token when set, otherwise the API key
func (c Credentials) Token() string {
	if token := strings.TrimSpace(c.AccessToken); token != "" {
		return token
	}
	return strings.TrimSpace(c.APIKey)
}

// Validate performs presence checks only
func (c Credentials) Validate() error {
	switch c.AuthenticationType {
	case AuthPAT, AuthAPIKey:
	default:
		return apperrors.InvalidInputError("authenticationType", fmt.Sprintf("must be %q or %q", AuthPAT, AuthAPIKey))
	}
	if c.Token() == "" {
		return apperrors.InvalidInputError("credentials", "an access token or API key is required")
	}
	return nil
}

// AuthorizationHeader builds the Authorization header value
func (c Credentials) AuthorizationHeader() string {
	if c.AuthenticationType == AuthPAT {
		return "Bearer " + c.Token()
	}
	return c.Token()
}

// Fingerprint identifies the credentials without exposing the token
func (c Credentials) Fingerprint() string {
	sum := sha256.Sum256([]byte(string(c.AuthenticationType) + ":" + c.Token()))
	return hex.EncodeToString(sum[:8])
}

// IsZero reports whether no token is present
func (c Credentials) IsZero() bool {
	return c.Token() == ""
}
