package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/getmentor/airtable-connector/config"
	"github.com/getmentor/airtable-connector/internal/models"
	"github.com/getmentor/airtable-connector/internal/poller"
	"github.com/getmentor/airtable-connector/internal/repository"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/getmentor/airtable-connector/pkg/metrics"
	"github.com/getmentor/airtable-connector/pkg/trigger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink receives the batches of one trigger
type Sink interface {
	poller.Emitter
	// Wait blocks until every accepted batch has been delivered or dropped
	Wait()
}

// SinkFactory creates the sink for a callback URL
type SinkFactory func(callbackURL string) Sink

// webhookSink posts batches to the host callback without blocking the poll loop
type webhookSink struct {
	*trigger.Webhook
}

func (s webhookSink) Emit(ctx context.Context, batch poller.Batch) error {
	s.SendAsync(ctx, batch.TriggerID, batch.Records)
	return nil
}

// WebhookSinks returns a SinkFactory backed by trigger.Webhook
func WebhookSinks(cfg config.PollConfig) SinkFactory {
	timeout := time.Duration(cfg.WebhookTimeoutMS) * time.Millisecond
	return func(callbackURL string) Sink {
		return webhookSink{trigger.NewWebhook(callbackURL, timeout, cfg.WebhookRetries)}
	}
}

type activeTrigger struct {
	info   models.TriggerInfo
	handle *poller.Handle
	sink   Sink
}

// TriggerService owns the running poll triggers
type TriggerService struct {
	records         repository.RecordRepositoryInterface
	defaultInterval int
	newSink         SinkFactory
	pollerOptions   []poller.Option
	now             func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	triggers map[string]*activeTrigger
}

// TriggerOption configures a TriggerService
type TriggerOption func(*TriggerService)

// WithSinkFactory replaces the webhook sinks
func WithSinkFactory(factory SinkFactory) TriggerOption {
	return func(s *TriggerService) {
		s.newSink = factory
	}
}

// WithPollerOptions passes options to every poller the service starts
func WithPollerOptions(opts ...poller.Option) TriggerOption {
	return func(s *TriggerService) {
		s.pollerOptions = append(s.pollerOptions, opts...)
	}
}

// NewTriggerService creates a new trigger service
func NewTriggerService(records repository.RecordRepositoryInterface, cfg *config.Config, opts ...TriggerOption) *TriggerService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TriggerService{
		records:         records,
		defaultInterval: cfg.Poll.DefaultIntervalSeconds,
		newSink:         WebhookSinks(cfg.Poll),
		now:             time.Now,
		ctx:             ctx,
		cancel:          cancel,
		triggers:        make(map[string]*activeTrigger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate checks that the table is readable and starts polling it. The first
// cycle runs immediately and only reports records created after activation.
func (s *TriggerService) Activate(ctx context.Context, req *models.ActivateTriggerRequest, source CredentialSource) (*models.ActivateTriggerResponse, error) {
	creds, err := source.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.records.ListRecords(ctx, creds, req.BaseID, req.Table, airtable.ListOptions{
		PageSize:        1,
		FilterByFormula: req.FilterFormula,
	}); err != nil {
		logger.Warn("Trigger activation check failed",
			zap.String("base_id", req.BaseID),
			zap.String("table", req.Table),
			zap.Error(err))
		return nil, err
	}

	configured := req.PollIntervalSeconds
	if configured == 0 {
		configured = s.defaultInterval
	}
	interval := poller.EffectiveInterval(configured)

	id := uuid.NewString()
	sink := s.newSink(req.CallbackURL)

	opts := append([]poller.Option{poller.WithID(id)}, s.pollerOptions...)
	p := poller.New(poller.Config{
		BaseID:          req.BaseID,
		Table:           req.Table,
		FilterFormula:   req.FilterFormula,
		IntervalSeconds: configured,
	}, s.records.Lister(creds), sink, opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, apperrors.InternalError("trigger service is shutting down")
	}

	s.triggers[id] = &activeTrigger{
		info: models.TriggerInfo{
			ID:              id,
			BaseID:          req.BaseID,
			Table:           req.Table,
			FilterFormula:   req.FilterFormula,
			IntervalSeconds: int(interval / time.Second),
			CallbackURL:     req.CallbackURL,
			ActivatedAt:     s.now(),
		},
		handle: p.Start(s.ctx),
		sink:   sink,
	}
	metrics.ActiveTriggers.Set(float64(len(s.triggers)))

	logger.Info("Trigger activated",
		zap.String("trigger_id", id),
		zap.String("base_id", req.BaseID),
		zap.String("table", req.Table),
		zap.Duration("interval", interval))

	return &models.ActivateTriggerResponse{
		ID:              id,
		IntervalSeconds: int(interval / time.Second),
	}, nil
}

// Deactivate stops a trigger. No batch is emitted for it once this returns.
func (s *TriggerService) Deactivate(id string) error {
	s.mu.Lock()
	t, ok := s.triggers[id]
	if ok {
		delete(s.triggers, id)
		metrics.ActiveTriggers.Set(float64(len(s.triggers)))
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("trigger %s: %w", id, apperrors.ErrNotFound)
	}

	t.handle.Stop()
	logger.Info("Trigger deactivated", zap.String("trigger_id", id))
	return nil
}

// List returns the active triggers ordered by activation time
func (s *TriggerService) List() []models.TriggerInfo {
	s.mu.Lock()
	list := make([]models.TriggerInfo, 0, len(s.triggers))
	for _, t := range s.triggers {
		info := t.info
		info.LastCheck = t.handle.State().LastCheck
		list = append(list, info)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].ActivatedAt.Equal(list[j].ActivatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].ActivatedAt.Before(list[j].ActivatedAt)
	})
	return list
}

// StopAll stops every trigger and waits for pending callback deliveries.
// Activate fails after StopAll.
func (s *TriggerService) StopAll() {
	s.mu.Lock()
	s.cancel()
	triggers := s.triggers
	s.triggers = make(map[string]*activeTrigger)
	metrics.ActiveTriggers.Set(0)
	s.mu.Unlock()

	for _, t := range triggers {
		t.handle.Stop()
	}
	for _, t := range triggers {
		t.sink.Wait()
	}

	logger.Info("All triggers stopped", zap.Int("count", len(triggers)))
}
