package repository

import (
	"context"
	"testing"
	"time"

	"github.com/getmentor/airtable-connector/internal/cache"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/getmentor/airtable-connector/pkg/airtable/airtabletest"
	"github.com/getmentor/airtable-connector/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepository(server *airtabletest.Server, ttl time.Duration) *AirtableRepository {
	executor := airtable.NewExecutor(httpclient.NewStandardClient(0))
	return NewAirtableRepository(executor, airtable.ClientConfig{
		BaseURL: server.URL(),
		Timeout: 2 * time.Second,
		Retry:   airtable.DefaultRetryPolicy(),
	}, cache.NewMetaCache(ttl))
}

var (
	alice = airtable.Credentials{AuthenticationType: airtable.AuthPAT, AccessToken: "patAlice"}
	bob   = airtable.Credentials{AuthenticationType: airtable.AuthPAT, AccessToken: "patBob"}
)

func TestAirtableRepository_MetaResponsesAreCachedPerCredential(t *testing.T) {
	server := airtabletest.NewServer()
	defer server.Close()
	server.AddBase("appOne", "CRM", map[string]any{"id": "tblA", "name": "Contacts"})
	repo := newRepository(server, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bases, err := repo.ListBases(ctx, alice)
		require.NoError(t, err)
		require.Len(t, bases, 1)

		tables, err := repo.GetBaseSchema(ctx, alice, "appOne")
		require.NoError(t, err)
		require.Len(t, tables, 1)
	}
	assert.Equal(t, 2, server.RequestCount())

	_, err := repo.ListBases(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 3, server.RequestCount())
	assert.Equal(t, "Bearer patBob", server.Requests()[2].Authorization)
}

func TestAirtableRepository_RecordsAreNeverCached(t *testing.T) {
	server := airtabletest.NewServer()
	defer server.Close()
	server.Seed("appOne", "Tasks", airtabletest.Record{ID: "rec1", Fields: map[string]any{"Name": "A"}})
	repo := newRepository(server, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		record, err := repo.GetRecord(ctx, alice, "appOne", "Tasks", "rec1")
		require.NoError(t, err)
		assert.Equal(t, "A", record.Fields["Name"])
	}
	assert.Equal(t, 2, server.RequestCount())
}

func TestAirtableRepository_TestCredentialsBypassesCache(t *testing.T) {
	server := airtabletest.NewServer()
	defer server.Close()
	repo := newRepository(server, time.Minute)
	ctx := context.Background()

	_, err := repo.ListBases(ctx, alice)
	require.NoError(t, err)
	require.NoError(t, repo.TestCredentials(ctx, alice))

	assert.Equal(t, 2, server.RequestCount())
}

func TestAirtableRepository_ListerUsesCredentials(t *testing.T) {
	server := airtabletest.NewServer()
	defer server.Close()
	server.Seed("appOne", "Tasks", airtabletest.Record{ID: "rec1"})
	repo := newRepository(server, 0)

	records, err := repo.Lister(bob).ListAllRecords(context.Background(), "appOne", "Tasks", airtable.ListOptions{}, 0)

	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "Bearer patBob", server.Requests()[0].Authorization)
}
