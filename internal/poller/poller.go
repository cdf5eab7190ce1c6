package poller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/getmentor/airtable-connector/pkg/metrics"
	"go.uber.org/zap"
)

// MinInterval is the floor applied to every configured poll interval
const MinInterval = 30 * time.Second

// MaxIntervalSeconds is the largest interval accepted, one week
const MaxIntervalSeconds = 7 * 24 * 60 * 60

// createdAfterSlack widens the server-side creation filter. The exact
// comparison against the watermark happens on the client.
const createdAfterSlack = time.Minute

// PollState is owned by exactly one running trigger
type PollState struct {
	LastCheck time.Time
}

// Config describes what a trigger watches
type Config struct {
	BaseID          string
	Table           string
	FilterFormula   string
	IntervalSeconds int
}

// EffectiveInterval applies the MinInterval floor to a configured number of seconds
// and caps it at MaxIntervalSeconds
func EffectiveInterval(configuredSeconds int) time.Duration {
	configuredSeconds = min(configuredSeconds, MaxIntervalSeconds)
	return max(time.Duration(configuredSeconds)*time.Second, MinInterval)
}

// CreatedAfterFormula narrows filter to records created shortly before
// lastCheck or later, so a cycle does not page through the whole table.
func CreatedAfterFormula(filter string, lastCheck time.Time) string {
	if lastCheck.IsZero() {
		return filter
	}
	since := lastCheck.Add(-createdAfterSlack).UTC().Format(time.RFC3339)
	created := fmt.Sprintf("IS_AFTER(CREATED_TIME(), DATETIME_PARSE('%s'))", since)
	if strings.TrimSpace(filter) == "" {
		return created
	}
	return fmt.Sprintf("AND(%s, %s)", filter, created)
}

// EmittedRecord is the projection of an Airtable record handed downstream
type EmittedRecord struct {
	RecordID    string         `json:"recordId"`
	Fields      map[string]any `json:"fields"`
	CreatedTime time.Time      `json:"createdTime"`
}

// Batch is the set of new records found by one cycle
type Batch struct {
	TriggerID string          `json:"triggerId"`
	Records   []EmittedRecord `json:"items"`
}

// RecordLister fetches the records of a table. *airtable.Client implements it.
type RecordLister interface {
	ListAllRecords(ctx context.Context, baseID, table string, opts airtable.ListOptions, limit int) ([]airtable.Record, error)
}

// Emitter receives non-empty batches
type Emitter interface {
	Emit(ctx context.Context, batch Batch) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, batch Batch) error

// Emit calls f(ctx, batch)
func (f EmitterFunc) Emit(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Ticker is the subset of *time.Ticker the loop needs
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// Poller detects records created since the previous cycle
type Poller struct {
	id        string
	config    Config
	lister    RecordLister
	emitter   Emitter
	clock     func() time.Time
	newTicker func(time.Duration) Ticker
}

// Option configures a Poller
type Option func(*Poller)

// WithID sets the trigger ID reported in batches and logs
func WithID(id string) Option {
	return func(p *Poller) {
		p.id = id
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

// WithTicker replaces time.NewTicker
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(p *Poller) {
		p.newTicker = newTicker
	}
}

// New creates a poller
func New(cfg Config, lister RecordLister, emitter Emitter, opts ...Option) *Poller {
	p := &Poller{
		config:    cfg,
		lister:    lister,
		emitter:   emitter,
		clock:     time.Now,
		newTicker: newTimeTicker,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval is the schedule period after the floor is applied
func (p *Poller) Interval() time.Duration {
	return EffectiveInterval(p.config.IntervalSeconds)
}

// Cycle lists the table once and returns the records created after
// state.LastCheck. On success the returned state carries the completion time
// as its watermark; on failure state is returned unchanged.
func (p *Poller) Cycle(ctx context.Context, state PollState) (PollState, []EmittedRecord, error) {
	records, err := p.lister.ListAllRecords(ctx, p.config.BaseID, p.config.Table, airtable.ListOptions{
		PageSize:        airtable.MaxPageSize,
		FilterByFormula: CreatedAfterFormula(p.config.FilterFormula, state.LastCheck),
	}, 0)
	if err != nil {
		return state, nil, err
	}

	var fresh []EmittedRecord
	for _, record := range records {
		created, err := record.CreatedAt()
		if err != nil {
			logger.Debug("Skipping record with unparseable createdTime",
				zap.String("trigger_id", p.id),
				zap.String("record_id", record.ID),
				zap.String("created_time", record.CreatedTime))
			continue
		}
		if !created.After(state.LastCheck) {
			continue
		}
		fresh = append(fresh, EmittedRecord{
			RecordID:    record.ID,
			Fields:      record.Fields,
			CreatedTime: created,
		})
	}

	return PollState{LastCheck: p.clock()}, fresh, nil
}

// Handle controls one running poll loop
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	inFlight atomic.Bool

	// mu guards stopped and serializes emission against Stop
	mu      sync.Mutex
	stopped bool

	stateMu sync.Mutex
	state   PollState
}

// Stop prevents any further cycle from starting and any further batch from
// being emitted. An in-flight list call is left to finish and its result is
// dropped. Stop waits for the loop to exit, not for the call. Stop is idempotent.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		h.cancel()
	})
	<-h.done
}

// Done is closed once the loop has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the current watermark
func (h *Handle) State() PollState {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state
}

func (h *Handle) setState(state PollState) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state = state
}

func (h *Handle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Start seeds the watermark with the current time, polls immediately and then
// once per Interval until the handle is stopped or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		state:  PollState{LastCheck: p.clock()},
	}

	ticker := p.newTicker(p.Interval())
	go p.run(ctx, h, ticker)

	logger.Info("Poll trigger started",
		zap.String("trigger_id", p.id),
		zap.String("base_id", p.config.BaseID),
		zap.String("table", p.config.Table),
		zap.Duration("interval", p.Interval()))

	return h
}

func (p *Poller) run(ctx context.Context, h *Handle, ticker Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	p.dispatch(ctx, h)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Poll trigger stopped", zap.String("trigger_id", p.id))
			return
		case <-ticker.C():
			p.dispatch(ctx, h)
		}
	}
}

// dispatch starts a cycle unless one is still running
func (p *Poller) dispatch(ctx context.Context, h *Handle) {
	if ctx.Err() != nil || h.isStopped() {
		return
	}
	if !h.inFlight.CompareAndSwap(false, true) {
		metrics.PollTicksSkipped.Inc()
		logger.Warn("Skipping poll tick, previous cycle still running", zap.String("trigger_id", p.id))
		return
	}

	go func() {
		defer h.inFlight.Store(false)
		p.poll(ctx, h)
	}()
}

func (p *Poller) poll(ctx context.Context, h *Handle) {
	start := time.Now()

	// Stopping the trigger must not abort the request already on the wire
	state, records, err := p.Cycle(context.WithoutCancel(ctx), h.State())
	if p.halted(ctx, h) {
		logger.Debug("Dropping poll cycle result of stopped trigger", zap.String("trigger_id", p.id))
		return
	}
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		logger.Warn("Poll cycle failed, watermark unchanged",
			zap.String("trigger_id", p.id),
			zap.Time("last_check", h.State().LastCheck),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	h.setState(state)

	if len(records) == 0 {
		metrics.PollCyclesTotal.WithLabelValues("empty").Inc()
		logger.Debug("Poll cycle found no new records",
			zap.String("trigger_id", p.id),
			zap.Duration("duration", time.Since(start)))
		return
	}
	metrics.PollCyclesTotal.WithLabelValues("success").Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || ctx.Err() != nil {
		return
	}

	if err := p.emitter.Emit(ctx, Batch{TriggerID: p.id, Records: records}); err != nil {
		logger.Error("Failed to emit poll batch",
			zap.String("trigger_id", p.id),
			zap.Int("records", len(records)),
			zap.Error(err))
		return
	}

	metrics.PollRecordsEmitted.Add(float64(len(records)))
	logger.Info("Poll cycle emitted new records",
		zap.String("trigger_id", p.id),
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)))
}

func (p *Poller) halted(ctx context.Context, h *Handle) bool {
	return ctx.Err() != nil || h.isStopped()
}
