package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
	"github.com/getmentor/airtable-connector/pkg/template"
)

// MapParameters resolves parameters from a flat map, substituting
// {{json.field}} in string values with the fields of the current item.
type MapParameters struct {
	values map[string]any
	items  []models.Item
}

// NewMapParameters creates a parameter source over values and the input items
func NewMapParameters(values map[string]any, items []models.Item) *MapParameters {
	return &MapParameters{values: values, items: items}
}

// Parameter implements ParameterSource
func (p *MapParameters) Parameter(name string, itemIndex int) (any, bool) {
	value, ok := p.values[name]
	if !ok {
		return nil, false
	}
	var item map[string]any
	if itemIndex >= 0 && itemIndex < len(p.items) {
		item = p.items[itemIndex]
	}
	return template.RenderValue(value, item), true
}

// StaticCredentials is a CredentialSource with fixed credentials
type StaticCredentials airtable.Credentials

// Credentials implements CredentialSource
func (s StaticCredentials) Credentials(_ context.Context) (airtable.Credentials, error) {
	creds := airtable.Credentials(s)
	if err := creds.Validate(); err != nil {
		return airtable.Credentials{}, err
	}
	return creds, nil
}

// FallbackCredentials prefers the request credentials and falls back to the
// process-wide default. Either may be nil.
type FallbackCredentials struct {
	Request *airtable.Credentials
	Default *airtable.Credentials
}

// Credentials implements CredentialSource
func (f FallbackCredentials) Credentials(ctx context.Context) (airtable.Credentials, error) {
	if f.Request != nil && !f.Request.IsZero() {
		return StaticCredentials(*f.Request).Credentials(ctx)
	}
	if f.Default != nil && !f.Default.IsZero() {
		return StaticCredentials(*f.Default).Credentials(ctx)
	}
	return airtable.Credentials{}, apperrors.InvalidInputError("credentials", "no Airtable credentials supplied")
}

// The helpers below read typed parameters. Presence checks only.

func stringParam(params ParameterSource, name string, itemIndex int, required bool) (string, error) {
	raw, ok := params.Parameter(name, itemIndex)
	if !ok || raw == nil {
		if required {
			return "", apperrors.InvalidInputError(name, "is required")
		}
		return "", nil
	}

	var value string
	switch v := raw.(type) {
	case string:
		value = v
	case float64:
		value = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		value = fmt.Sprint(v)
	}

	value = strings.TrimSpace(value)
	if value == "" && required {
		return "", apperrors.InvalidInputError(name, "is required")
	}
	return value, nil
}

func boolParam(params ParameterSource, name string, itemIndex int) bool {
	raw, ok := params.Parameter(name, itemIndex)
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

func intParam(params ParameterSource, name string, itemIndex int, fallback int) (int, error) {
	raw, ok := params.Parameter(name, itemIndex)
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return fallback, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, apperrors.InvalidInputError(name, "must be a number")
		}
		return n, nil
	default:
		return 0, apperrors.InvalidInputError(name, "must be a number")
	}
}

func fieldsParam(params ParameterSource, name string, itemIndex int) (map[string]any, error) {
	raw, ok := params.Parameter(name, itemIndex)
	if !ok || raw == nil {
		return nil, apperrors.InvalidInputError(name, "is required")
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, apperrors.InvalidInputError(name, "must be an object")
	}
	return fields, nil
}

// stringListParam accepts a JSON array or a comma-separated string
func stringListParam(params ParameterSource, name string, itemIndex int) []string {
	raw, ok := params.Parameter(name, itemIndex)
	if !ok || raw == nil {
		return nil
	}

	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
	case []string:
		parts = v
	}

	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}

// sortParam reads [{"field": "...", "direction": "asc|desc"}]
func sortParam(params ParameterSource, name string, itemIndex int) ([]airtable.Sort, error) {
	raw, ok := params.Parameter(name, itemIndex)
	if !ok || raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, apperrors.InvalidInputError(name, "must be a list of {field, direction}")
	}

	sorts := make([]airtable.Sort, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, apperrors.InvalidInputError(name, "must be a list of {field, direction}")
		}
		field, _ := m["field"].(string)
		if strings.TrimSpace(field) == "" {
			return nil, apperrors.InvalidInputError(name+".field", "is required")
		}
		direction := airtable.SortAsc
		if d, _ := m["direction"].(string); d == string(airtable.SortDesc) {
			direction = airtable.SortDesc
		}
		sorts = append(sorts, airtable.Sort{Field: field, Direction: direction})
	}
	return sorts, nil
}
