package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/internal/repository"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/getmentor/airtable-connector/pkg/metrics"
	"github.com/getmentor/airtable-connector/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// defaultListLimit applies to record.list when returnAll is false and no limit is given
const defaultListLimit = 100

// Invocation is one host call of a resource operation
type Invocation struct {
	Resource       string
	Operation      string
	Parameters     ParameterSource
	Credentials    CredentialSource
	Items          []models.Item
	ContinueOnFail bool
}

type operationFunc func(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, itemIndex int) ([]models.Item, error)

var operations = map[string]map[string]operationFunc{
	"record": {
		"create": createRecord,
		"read":   readRecord,
		"update": updateRecord,
		"delete": deleteRecord,
		"list":   listRecords,
	},
	"base": {
		"list":      listBases,
		"get":       getBase,
		"getSchema": getBaseSchema,
	},
	"table": {
		"list": listTables,
	},
}

// SupportedOperations returns "resource.operation" names in sorted order
func SupportedOperations() []string {
	var names []string
	for resource, ops := range operations {
		for op := range ops {
			names = append(names, resource+"."+op)
		}
	}
	sort.Strings(names)
	return names
}

// OperationService maps host invocations to Airtable calls
type OperationService struct {
	records repository.RecordRepositoryInterface
	meta    repository.MetaRepositoryInterface
}

// NewOperationService creates a new operation service
func NewOperationService(records repository.RecordRepositoryInterface, meta repository.MetaRepositoryInterface) *OperationService {
	return &OperationService{
		records: records,
		meta:    meta,
	}
}

// Execute runs the operation once per input item (once when there are none).
// With ContinueOnFail a failed item yields {"error": message} and the
// remaining items still run; otherwise the first failure aborts the call.
func (s *OperationService) Execute(ctx context.Context, inv Invocation) ([]models.Item, error) {
	start := time.Now()

	op, ok := operations[inv.Resource][inv.Operation]
	if !ok {
		return nil, apperrors.InvalidInputError("operation",
			fmt.Sprintf("unsupported operation %q on resource %q (supported: %s)", inv.Operation, inv.Resource, strings.Join(SupportedOperations(), ", ")))
	}

	ctx, span := tracing.StartSpan(ctx, "operation."+inv.Resource+"."+inv.Operation,
		attribute.Int("operation.items", len(inv.Items)),
		attribute.Bool("operation.continue_on_fail", inv.ContinueOnFail))

	out, err := s.run(ctx, op, inv)

	tracing.EndSpan(span, err)

	status := airtable.StatusLabel(err)
	metrics.OperationTotal.WithLabelValues(inv.Resource, inv.Operation, status).Inc()
	if err != nil {
		logger.Warn("Operation failed",
			zap.String("resource", inv.Resource),
			zap.String("operation", inv.Operation),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	metrics.OperationItems.WithLabelValues(inv.Resource, inv.Operation).Observe(float64(len(out)))
	logger.Info("Operation completed",
		zap.String("resource", inv.Resource),
		zap.String("operation", inv.Operation),
		zap.Int("input_items", len(inv.Items)),
		zap.Int("output_items", len(out)),
		zap.Duration("duration", time.Since(start)))

	return out, nil
}

func (s *OperationService) run(ctx context.Context, op operationFunc, inv Invocation) ([]models.Item, error) {
	creds, err := inv.Credentials.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	count := max(len(inv.Items), 1)
	out := make([]models.Item, 0, count)

	for i := 0; i < count; i++ {
		items, err := op(ctx, s, creds, inv.Parameters, i)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if inv.ContinueOnFail {
				logger.Debug("Item failed, continuing",
					zap.Int("item_index", i),
					zap.Error(err))
				out = append(out, models.Item{"error": err.Error()})
				continue
			}
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, items...)
	}

	return out, nil
}

func baseAndTable(params ParameterSource, i int) (string, string, error) {
	baseID, err := stringParam(params, "baseId", i, true)
	if err != nil {
		return "", "", err
	}
	table, err := stringParam(params, "table", i, true)
	if err != nil {
		return "", "", err
	}
	return baseID, table, nil
}

func recordItem(r airtable.Record) models.Item {
	fields := r.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return models.Item{
		"id":          r.ID,
		"createdTime": r.CreatedTime,
		"fields":      fields,
	}
}

func recordItems(records []airtable.Record) []models.Item {
	items := make([]models.Item, 0, len(records))
	for _, r := range records {
		items = append(items, recordItem(r))
	}
	return items
}

// toItem converts a typed response into a JSON object
func toItem(v any) (models.Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.InternalError("failed to encode output item")
	}
	var item models.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, apperrors.InternalError("failed to encode output item")
	}
	return item, nil
}

func createRecord(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, table, err := baseAndTable(params, i)
	if err != nil {
		return nil, err
	}
	fields, err := fieldsParam(params, "fields", i)
	if err != nil {
		return nil, err
	}

	created, err := s.records.CreateRecords(ctx, creds, baseID, table, []map[string]any{fields}, boolParam(params, "typecast", i))
	if err != nil {
		return nil, err
	}
	return recordItems(created), nil
}

func readRecord(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, table, err := baseAndTable(params, i)
	if err != nil {
		return nil, err
	}
	recordID, err := stringParam(params, "recordId", i, true)
	if err != nil {
		return nil, err
	}

	record, err := s.records.GetRecord(ctx, creds, baseID, table, recordID)
	if err != nil {
		return nil, err
	}
	return []models.Item{recordItem(*record)}, nil
}

func updateRecord(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, table, err := baseAndTable(params, i)
	if err != nil {
		return nil, err
	}
	recordID, err := stringParam(params, "recordId", i, true)
	if err != nil {
		return nil, err
	}
	fields, err := fieldsParam(params, "fields", i)
	if err != nil {
		return nil, err
	}

	updated, err := s.records.UpdateRecords(ctx, creds, baseID, table,
		[]airtable.RecordUpdate{{ID: recordID, Fields: fields}}, boolParam(params, "typecast", i))
	if err != nil {
		return nil, err
	}
	return recordItems(updated), nil
}

func deleteRecord(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, table, err := baseAndTable(params, i)
	if err != nil {
		return nil, err
	}
	recordID, err := stringParam(params, "recordId", i, true)
	if err != nil {
		return nil, err
	}

	deleted, err := s.records.DeleteRecord(ctx, creds, baseID, table, recordID)
	if err != nil {
		return nil, err
	}
	return []models.Item{{"id": deleted.ID, "deleted": deleted.Deleted}}, nil
}

func listRecords(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, table, err := baseAndTable(params, i)
	if err != nil {
		return nil, err
	}

	limit := 0
	if !boolParam(params, "returnAll", i) {
		limit, err = intParam(params, "limit", i, defaultListLimit)
		if err != nil {
			return nil, err
		}
		if limit <= 0 {
			return nil, apperrors.InvalidInputError("limit", "must be positive")
		}
	}

	filter, _ := stringParam(params, "filterByFormula", i, false)
	view, _ := stringParam(params, "view", i, false)
	sorts, err := sortParam(params, "sort", i)
	if err != nil {
		return nil, err
	}

	records, err := s.records.ListAllRecords(ctx, creds, baseID, table, airtable.ListOptions{
		FilterByFormula: filter,
		View:            view,
		Fields:          stringListParam(params, "fields", i),
		Sort:            sorts,
	}, limit)
	if err != nil {
		return nil, err
	}
	return recordItems(records), nil
}

func listBases(ctx context.Context, s *OperationService, creds airtable.Credentials, _ ParameterSource, _ int) ([]models.Item, error) {
	bases, err := s.meta.ListBases(ctx, creds)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(bases))
	for _, b := range bases {
		item, err := toItem(b)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func getBase(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, err := stringParam(params, "baseId", i, true)
	if err != nil {
		return nil, err
	}

	base, err := s.meta.GetBase(ctx, creds, baseID)
	if err != nil {
		return nil, err
	}
	return []models.Item{base}, nil
}

func getBaseSchema(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, err := stringParam(params, "baseId", i, true)
	if err != nil {
		return nil, err
	}

	tables, err := s.meta.GetBaseSchema(ctx, creds, baseID)
	if err != nil {
		return nil, err
	}

	item, err := toItem(map[string]any{"id": baseID, "tables": tables})
	if err != nil {
		return nil, err
	}
	return []models.Item{item}, nil
}

func listTables(ctx context.Context, s *OperationService, creds airtable.Credentials, params ParameterSource, i int) ([]models.Item, error) {
	baseID, err := stringParam(params, "baseId", i, true)
	if err != nil {
		return nil, err
	}

	tables, err := s.meta.GetBaseSchema(ctx, creds, baseID)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(tables))
	for _, t := range tables {
		item, err := toItem(t)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
