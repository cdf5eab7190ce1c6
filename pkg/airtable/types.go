package airtable

import (
	"encoding/json"
	"time"
)

// Record is Airtable's representation of a table row
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// CreatedAt parses CreatedTime. Airtable sends RFC 3339 with milliseconds.
func (r Record) CreatedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.CreatedTime)
}

// RecordList is one page of a list response
type RecordList struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// DeletedRecord is the response to a single record delete
type DeletedRecord struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// RecordUpdate is one entry of a PATCH body
type RecordUpdate struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// SortDirection is asc or desc
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort orders a list query by one field
type Sort struct {
	Field     string
	Direction SortDirection
}

// ListOptions are the query parameters of a record list request
type ListOptions struct {
	PageSize        int
	FilterByFormula string
	View            string
	Fields          []string
	Sort            []Sort
	Offset          string
}

// Base is an entry of the meta/bases listing
type Base struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel,omitempty"`
}

// BaseList is one page of meta/bases
type BaseList struct {
	Bases  []Base `json:"bases"`
	Offset string `json:"offset,omitempty"`
}

// Field describes a table column
type Field struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"`
}

// View describes a table view
type View struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table describes a table of a base
type Table struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	PrimaryFieldID string  `json:"primaryFieldId,omitempty"`
	Description    string  `json:"description,omitempty"`
	Fields         []Field `json:"fields,omitempty"`
	Views          []View  `json:"views,omitempty"`
}

// TableList is the meta/bases/{id}/tables response
type TableList struct {
	Tables []Table `json:"tables"`
}
