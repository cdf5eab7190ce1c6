package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
)

const (
	// DefaultBaseURL is the Airtable REST API root
	DefaultBaseURL = "https://api.airtable.com/v0/"

	// MaxPageSize is the largest page Airtable returns
	MaxPageSize = 100

	// maxRecordsPerWrite is Airtable's per-request limit for create and update
	maxRecordsPerWrite = 10

	// maxPages guards pagination against a server that never stops returning offsets
	maxPages = 10000
)

// ClientConfig holds the per-call settings shared by every operation
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryPolicy
}

// DefaultClientConfig returns the production defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
		Retry:   DefaultRetryPolicy(),
	}
}

// Client binds an Executor to one set of credentials and exposes the
// Airtable record and metadata endpoints.
type Client struct {
	executor *Executor
	config   ClientConfig
	creds    Credentials
}

// NewClient creates a client. An empty BaseURL falls back to DefaultBaseURL.
func NewClient(executor *Executor, cfg ClientConfig, creds Credentials) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	return &Client{
		executor: executor,
		config:   cfg,
		creds:    creds,
	}
}

// Credentials returns the credentials the client was created with
func (c *Client) Credentials() Credentials {
	return c.creds
}

func (c *Client) do(ctx context.Context, operation, method, rawURL string, body any, out any) error {
	data, err := c.executor.Execute(ctx, RequestSpec{
		Operation: operation,
		Method:    method,
		URL:       rawURL,
		Body:      body,
		Timeout:   c.config.Timeout,
	}, c.creds, c.config.Retry)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode Airtable response: %w", operation, err)
	}
	return nil
}

func (c *Client) tableURL(baseID, table string) string {
	return c.config.BaseURL + url.PathEscape(baseID) + "/" + url.PathEscape(table)
}

func (c *Client) recordURL(baseID, table, recordID string) string {
	return c.tableURL(baseID, table) + "/" + url.PathEscape(recordID)
}

func (c *Client) metaURL(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, "meta")
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.config.BaseURL + strings.Join(escaped, "/")
}

// ListQuery encodes opts as Airtable query parameters
func ListQuery(opts ListOptions) url.Values {
	query := url.Values{}
	if opts.PageSize > 0 {
		pageSize := opts.PageSize
		if pageSize > MaxPageSize {
			pageSize = MaxPageSize
		}
		query.Set("pageSize", strconv.Itoa(pageSize))
	}
	if opts.FilterByFormula != "" {
		query.Set("filterByFormula", opts.FilterByFormula)
	}
	if opts.View != "" {
		query.Set("view", opts.View)
	}
	for _, field := range opts.Fields {
		query.Add("fields[]", field)
	}
	for i, s := range opts.Sort {
		query.Set(fmt.Sprintf("sort[%d][field]", i), s.Field)
		direction := s.Direction
		if direction == "" {
			direction = SortAsc
		}
		query.Set(fmt.Sprintf("sort[%d][direction]", i), string(direction))
	}
	if opts.Offset != "" {
		query.Set("offset", opts.Offset)
	}
	return query
}

// ListRecords fetches a single page of records
func (c *Client) ListRecords(ctx context.Context, baseID, table string, opts ListOptions) (*RecordList, error) {
	if err := requireIDs(map[string]string{"baseId": baseID, "table": table}); err != nil {
		return nil, err
	}

	target := c.tableURL(baseID, table)
	if query := ListQuery(opts).Encode(); query != "" {
		target += "?" + query
	}

	var page RecordList
	if err := c.do(ctx, "record.list", http.MethodGet, target, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllRecords follows offsets until the table is exhausted or limit records
// were collected. limit <= 0 means no limit.
func (c *Client) ListAllRecords(ctx context.Context, baseID, table string, opts ListOptions, limit int) ([]Record, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = MaxPageSize
	}
	if limit > 0 && limit < opts.PageSize {
		opts.PageSize = limit
	}

	var all []Record
	for page := 0; page < maxPages; page++ {
		result, err := c.ListRecords(ctx, baseID, table, opts)
		if err != nil {
			return nil, err
		}

		all = append(all, result.Records...)

		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if result.Offset == "" {
			return all, nil
		}
		opts.Offset = result.Offset
	}

	return all, nil
}

// GetRecord fetches one record by ID
func (c *Client) GetRecord(ctx context.Context, baseID, table, recordID string) (*Record, error) {
	if err := requireIDs(map[string]string{"baseId": baseID, "table": table, "recordId": recordID}); err != nil {
		return nil, err
	}

	var record Record
	if err := c.do(ctx, "record.read", http.MethodGet, c.recordURL(baseID, table, recordID), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateRecords creates one record per entry of fields, in batches of ten
func (c *Client) CreateRecords(ctx context.Context, baseID, table string, fields []map[string]any, typecast bool) ([]Record, error) {
	if err := requireIDs(map[string]string{"baseId": baseID, "table": table}); err != nil {
		return nil, err
	}

	created := make([]Record, 0, len(fields))
	for start := 0; start < len(fields); start += maxRecordsPerWrite {
		end := min(start+maxRecordsPerWrite, len(fields))

		records := make([]map[string]any, 0, end-start)
		for _, f := range fields[start:end] {
			records = append(records, map[string]any{"fields": f})
		}

		body := map[string]any{"records": records}
		if typecast {
			body["typecast"] = true
		}

		var result RecordList
		if err := c.do(ctx, "record.create", http.MethodPost, c.tableURL(baseID, table), body, &result); err != nil {
			return created, err
		}
		created = append(created, result.Records...)
	}

	return created, nil
}

// UpdateRecords applies partial updates, in batches of ten
func (c *Client) UpdateRecords(ctx context.Context, baseID, table string, updates []RecordUpdate, typecast bool) ([]Record, error) {
	if err := requireIDs(map[string]string{"baseId": baseID, "table": table}); err != nil {
		return nil, err
	}
	for _, u := range updates {
		if u.ID == "" {
			return nil, apperrors.InvalidInputError("recordId", "is required")
		}
	}

	updated := make([]Record, 0, len(updates))
	for start := 0; start < len(updates); start += maxRecordsPerWrite {
		end := min(start+maxRecordsPerWrite, len(updates))

		body := map[string]any{"records": updates[start:end]}
		if typecast {
			body["typecast"] = true
		}

		var result RecordList
		if err := c.do(ctx, "record.update", http.MethodPatch, c.tableURL(baseID, table), body, &result); err != nil {
			return updated, err
		}
		updated = append(updated, result.Records...)
	}

	return updated, nil
}

// DeleteRecord deletes one record by ID
func (c *Client) DeleteRecord(ctx context.Context, baseID, table, recordID string) (*DeletedRecord, error) {
	if err := requireIDs(map[string]string{"baseId": baseID, "table": table, "recordId": recordID}); err != nil {
		return nil, err
	}

	var deleted DeletedRecord
	if err := c.do(ctx, "record.delete", http.MethodDelete, c.recordURL(baseID, table, recordID), nil, &deleted); err != nil {
		return nil, err
	}
	return &deleted, nil
}

// ListBases returns every base the credentials can access
func (c *Client) ListBases(ctx context.Context) ([]Base, error) {
	var all []Base
	offset := ""

	for page := 0; page < maxPages; page++ {
		target := c.metaURL("bases")
		if offset != "" {
			target += "?" + url.Values{"offset": {offset}}.Encode()
		}

		var result BaseList
		if err := c.do(ctx, "base.list", http.MethodGet, target, nil, &result); err != nil {
			return nil, err
		}

		all = append(all, result.Bases...)
		if result.Offset == "" {
			break
		}
		offset = result.Offset
	}

	return all, nil
}

// GetBase returns the metadata object of one base
func (c *Client) GetBase(ctx context.Context, baseID string) (map[string]any, error) {
	if err := requireIDs(map[string]string{"baseId": baseID}); err != nil {
		return nil, err
	}

	var base map[string]any
	if err := c.do(ctx, "base.get", http.MethodGet, c.metaURL("bases", baseID), nil, &base); err != nil {
		return nil, err
	}
	return base, nil
}

// GetBaseSchema returns the tables of a base with their fields and views
func (c *Client) GetBaseSchema(ctx context.Context, baseID string) ([]Table, error) {
	if err := requireIDs(map[string]string{"baseId": baseID}); err != nil {
		return nil, err
	}

	var result TableList
	if err := c.do(ctx, "base.getSchema", http.MethodGet, c.metaURL("bases", baseID, "tables"), nil, &result); err != nil {
		return nil, err
	}
	return result.Tables, nil
}

// TestCredentials issues the cheapest authenticated call
func (c *Client) TestCredentials(ctx context.Context) error {
	return c.do(ctx, "credentials.test", http.MethodGet, c.metaURL("bases"), nil, nil)
}

func requireIDs(values map[string]string) error {
	// Stable order keeps error messages deterministic
	for _, name := range []string{"baseId", "table", "recordId"} {
		value, ok := values[name]
		if ok && strings.TrimSpace(value) == "" {
			return apperrors.InvalidInputError(name, "is required")
		}
	}
	return nil
}
