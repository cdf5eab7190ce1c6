package services_test

import (
	"context"
	"sync"

	"github.com/getmentor/airtable-connector/internal/poller"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/stretchr/testify/mock"
)

// MockRecordRepository is a mock implementation of RecordRepositoryInterface
type MockRecordRepository struct {
	mock.Mock
}

func (m *MockRecordRepository) ListRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, opts airtable.ListOptions) (*airtable.RecordList, error) {
	args := m.Called(ctx, creds, baseID, table, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*airtable.RecordList), args.Error(1)
}

func (m *MockRecordRepository) ListAllRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, opts airtable.ListOptions, limit int) ([]airtable.Record, error) {
	args := m.Called(ctx, creds, baseID, table, opts, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]airtable.Record), args.Error(1)
}

func (m *MockRecordRepository) GetRecord(ctx context.Context, creds airtable.Credentials, baseID, table, recordID string) (*airtable.Record, error) {
	args := m.Called(ctx, creds, baseID, table, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*airtable.Record), args.Error(1)
}

func (m *MockRecordRepository) CreateRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, fields []map[string]any, typecast bool) ([]airtable.Record, error) {
	args := m.Called(ctx, creds, baseID, table, fields, typecast)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]airtable.Record), args.Error(1)
}

func (m *MockRecordRepository) UpdateRecords(ctx context.Context, creds airtable.Credentials, baseID, table string, updates []airtable.RecordUpdate, typecast bool) ([]airtable.Record, error) {
	args := m.Called(ctx, creds, baseID, table, updates, typecast)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]airtable.Record), args.Error(1)
}

func (m *MockRecordRepository) DeleteRecord(ctx context.Context, creds airtable.Credentials, baseID, table, recordID string) (*airtable.DeletedRecord, error) {
	args := m.Called(ctx, creds, baseID, table, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*airtable.DeletedRecord), args.Error(1)
}

func (m *MockRecordRepository) Lister(creds airtable.Credentials) poller.RecordLister {
	args := m.Called(creds)
	return args.Get(0).(poller.RecordLister)
}

// MockMetaRepository is a mock implementation of MetaRepositoryInterface
type MockMetaRepository struct {
	mock.Mock
}

func (m *MockMetaRepository) ListBases(ctx context.Context, creds airtable.Credentials) ([]airtable.Base, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]airtable.Base), args.Error(1)
}

func (m *MockMetaRepository) GetBase(ctx context.Context, creds airtable.Credentials, baseID string) (map[string]any, error) {
	args := m.Called(ctx, creds, baseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockMetaRepository) GetBaseSchema(ctx context.Context, creds airtable.Credentials, baseID string) ([]airtable.Table, error) {
	args := m.Called(ctx, creds, baseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]airtable.Table), args.Error(1)
}

func (m *MockMetaRepository) TestCredentials(ctx context.Context, creds airtable.Credentials) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

// MockLister is a mock implementation of poller.RecordLister
type MockLister struct {
	mock.Mock
}

func (m *MockLister) ListAllRecords(ctx context.Context, baseID, table string, opts airtable.ListOptions, limit int) ([]airtable.Record, error) {
	args := m.Called(ctx, baseID, table, opts, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]airtable.Record), args.Error(1)
}

// recordingSink collects batches instead of posting them
type recordingSink struct {
	mu      sync.Mutex
	batches []poller.Batch
	emitted chan poller.Batch
	waited  bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{emitted: make(chan poller.Batch, 16)}
}

func (s *recordingSink) Emit(_ context.Context, batch poller.Batch) error {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	s.emitted <- batch
	return nil
}

func (s *recordingSink) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waited = true
}

func (s *recordingSink) wasWaited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waited
}
