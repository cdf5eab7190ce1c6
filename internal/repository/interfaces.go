package repository

import (
	"context"

	"github.com/getmentor/airtable-connector/internal/poller"
	"github.com/getmentor/airtable-connector/pkg/airtable"
)

// RecordRepositoryInterface defines record access on behalf of one credential
type RecordRepositoryInterface interface {
	ListRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, opts airtable.ListOptions) (*airtable.RecordList, error)
	ListAllRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, opts airtable.ListOptions, limit int) ([]airtable.Record, error)
	GetRecord(ctx context.Context, creds airtable.Credentials, baseID, table, recordID string) (*airtable.Record, error)
	CreateRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, fields []map[string]any, typecast bool) ([]airtable.Record, error)
	UpdateRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, updates []airtable.RecordUpdate, typecast bool) ([]airtable.Record, error)
	DeleteRecord(ctx context.Context, creds airtable.Credentials, baseID, table, recordID string) (*airtable.DeletedRecord, error)

	// Lister binds creds for a poll trigger
	Lister(creds airtable.Credentials) poller.RecordLister
}

// MetaRepositoryInterface defines access to base and table metadata
type MetaRepositoryInterface interface {
	ListBases(ctx context.Context, creds airtable.Credentials) ([]airtable.Base, error)
	GetBase(ctx context.Context, creds airtable.Credentials, baseID string) (map[string]any, error)
	GetBaseSchema(ctx context.Context, creds airtable.Credentials, baseID string) ([]airtable.Table, error)
	TestCredentials(ctx context.Context, creds airtable.Credentials) error
}

// Ensure AirtableRepository implements both interfaces
var _ RecordRepositoryInterface = (*AirtableRepository)(nil)
var _ MetaRepositoryInterface = (*AirtableRepository)(nil)
