package repository

import (
	"context"

	"github.com/getmentor/airtable-connector/internal/cache"
	"github.com/getmentor/airtable-connector/internal/poller"
	"github.com/getmentor/airtable-connector/pkg/airtable"
)

// AirtableRepository issues every call through a shared executor and caches
// metadata responses per credential.
type AirtableRepository struct {
	executor *airtable.Executor
	config   airtable.ClientConfig
	meta     *cache.MetaCache
}

// NewAirtableRepository creates a repository. meta may be nil.
func NewAirtableRepository(executor *airtable.Executor, cfg airtable.ClientConfig, meta *cache.MetaCache) *AirtableRepository {
	return &AirtableRepository{
		executor: executor,
		config:   cfg,
		meta:     meta,
	}
}

// Client returns an Airtable client bound to creds
func (r *AirtableRepository) Client(creds airtable.Credentials) *airtable.Client {
	return airtable.NewClient(r.executor, r.config, creds)
}

// Lister returns the client for creds as a poll source
func (r *AirtableRepository) Lister(creds airtable.Credentials) poller.RecordLister {
	return r.Client(creds)
}

func (r *AirtableRepository) ListRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, opts airtable.ListOptions) (*airtable.RecordList, error) {
	return r.Client(creds).ListRecords(ctx, baseID, table, opts)
}

func (r *AirtableRepository) ListAllRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, opts airtable.ListOptions, limit int) ([]airtable.Record, error) {
	return r.Client(creds).ListAllRecords(ctx, baseID, table, opts, limit)
}

func (r *AirtableRepository) GetRecord(ctx context.Context, creds airtable.Credentials, baseID, table, recordID string) (*airtable.Record, error) {
	return r.Client(creds).GetRecord(ctx, baseID, table, recordID)
}

func (r *AirtableRepository) CreateRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, fields []map[string]any, typecast bool) ([]airtable.Record, error) {
	return r.Client(creds).CreateRecords(ctx, baseID, table, fields, typecast)
}

func (r *AirtableRepository) UpdateRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, updates []airtable.RecordUpdate, typecast bool) ([]airtable.Record, error) {
	return r.Client(creds).UpdateRecords(ctx, baseID, table, updates, typecast)
}

func (r *AirtableRepository) DeleteRecord(ctx context.Context, creds airtable.Credentials, baseID, table, recordID string) (*airtable.DeletedRecord, error) {
	return r.Client(creds).DeleteRecord(ctx, baseID, table, recordID)
}

// ListBases returns every base visible to creds, cached
func (r *AirtableRepository) ListBases(ctx context.Context, creds airtable.Credentials) ([]airtable.Base, error) {
	return cache.GetOrLoad(r.meta, cache.Key(creds.Fingerprint(), "meta/bases"), func() ([]airtable.Base, error) {
		return r.Client(creds).ListBases(ctx)
	})
}

// GetBase returns one base, cached
func (r *AirtableRepository) GetBase(ctx context.Context, creds airtable.Credentials, baseID string) (map[string]any, error) {
	return cache.GetOrLoad(r.meta, cache.Key(creds.Fingerprint(), "meta/bases/"+baseID), func() (map[string]any, error) {
		return r.Client(creds).GetBase(ctx, baseID)
	})
}

// GetBaseSchema returns the tables of a base, cached
func (r *AirtableRepository) GetBaseSchema(ctx context.Context, creds airtable.Credentials, baseID string) ([]airtable.Table, error) {
	return cache.GetOrLoad(r.meta, cache.Key(creds.Fingerprint(), "meta/bases/"+baseID+"/tables"), func() ([]airtable.Table, error) {
		return r.Client(creds).GetBaseSchema(ctx, baseID)
	})
}

// TestCredentials always reaches Airtable
func (r *AirtableRepository) TestCredentials(ctx context.Context, creds airtable.Credentials) error {
	return r.Client(creds).TestCredentials(ctx)
}
