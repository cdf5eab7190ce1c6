package models

import "github.com/getmentor/airtable-connector/pkg/airtable"

// Item is one JSON object flowing between the host and the connector
type Item map[string]any

// OperationRequest invokes one resource operation over a list of input items.
// Parameter string values may reference the current item with {{json.field}}.
type OperationRequest struct {
	Credentials    *airtable.Credentials `json:"credentials"`
	Parameters     map[string]any        `json:"parameters"`
	Items          []Item                `json:"items"`
	ContinueOnFail bool                  `json:"continueOnFail"`
}

// OperationResponse carries the output items
type OperationResponse struct {
	Items []Item `json:"items"`
}

// CredentialTestRequest checks a credential against Airtable
type CredentialTestRequest struct {
	Credentials airtable.Credentials `json:"credentials" binding:"required"`
}

// CredentialTestResponse reports the outcome of a credential test
type CredentialTestResponse struct {
	Status  string `json:"status"` // OK or Error
	Message string `json:"message"`
}
