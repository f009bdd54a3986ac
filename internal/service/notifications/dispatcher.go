package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	"github.com/mamadbah2/wagonmaint/pkg/clients/erp"
)

// RecordStore persists delivery state. Every Mark* call only applies to a
// pending record and returns ErrInvalidState otherwise.
type RecordStore interface {
	CreateIfAbsent(ctx context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error)
	Get(ctx context.Context, id string) (models.NotificationRecord, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, error)
	ListPending(ctx context.Context, limit int) ([]models.NotificationRecord, error)
	MarkSent(ctx context.Context, id string, attempt models.DeliveryAttempt) (models.NotificationRecord, error)
	MarkRetry(ctx context.Context, id string, attempt models.DeliveryAttempt, nextAttemptAt time.Time) (models.NotificationRecord, error)
	MarkFailed(ctx context.Context, id string, attempt models.DeliveryAttempt) (models.NotificationRecord, error)
	Stats(ctx context.Context, since time.Time) (models.NotificationStats, error)
}

// Sender performs one webhook call. Targets lists the targets it has an
// endpoint for.
type Sender interface {
	Targets() []models.TargetSystem
	Send(ctx context.Context, target models.TargetSystem, payload map[string]any) (erp.Response, error)
}

// Dispatcher turns domain events into per-target webhook deliveries.
//
// Each target owns a queue and a worker pool, so a slow target only slows its
// own lane. Retries wait on timers rather than workers.
type Dispatcher struct {
	records   RecordStore
	templates TemplateStore
	sender    Sender
	cfg       config.DispatcherConfig
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	lanes map[models.TargetSystem]chan string

	mu       sync.Mutex
	inflight map[string]*time.Timer
	started  bool
	stopped  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher wires a dispatcher with one lane per sender target.
func NewDispatcher(records RecordStore, templates TemplateStore, sender Sender, cfg config.DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkersPerTarget < 1 {
		cfg.WorkersPerTarget = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	targets := sender.Targets()
	lanes := make(map[models.TargetSystem]chan string, len(targets))
	for _, target := range targets {
		lanes[target] = make(chan string, cfg.QueueSize)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		records:   records,
		templates: templates,
		sender:    sender,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("wagonmaint/notifications"),
		now:       time.Now,
		lanes:     lanes,
		inflight:  make(map[string]*time.Timer),
		baseCtx:   baseCtx,
		cancel:    cancel,
		stop:      make(chan struct{}),
	}
}

// Start launches the lane workers and resumes pending records.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	for target, lane := range d.lanes {
		for i := 0; i < d.cfg.WorkersPerTarget; i++ {
			d.wg.Add(1)
			go d.worker(target, lane)
		}
	}

	d.logger.Info("notification dispatcher started",
		zap.Int("targets", len(d.lanes)),
		zap.Int("workers_per_target", d.cfg.WorkersPerTarget))

	if _, err := d.ResumePending(ctx); err != nil {
		return fmt.Errorf("resume pending notifications: %w", err)
	}
	return nil
}

// Stop lets in-flight attempts finish, up to ctx. Scheduled retries are
// cancelled; their records stay pending and are resumed on the next start.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	for id, timer := range d.inflight {
		if timer != nil {
			timer.Stop()
			delete(d.inflight, id)
		}
	}
	close(d.stop)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// HandleEvent creates one pending record per template target and queues
// delivery. Events without an active template are ignored.
func (d *Dispatcher) HandleEvent(ctx context.Context, event models.DomainEvent) error {
	tpl, err := d.templates.GetTemplate(ctx, event.EventType)
	if errors.Is(err, models.ErrNotFound) {
		d.logger.Debug("no template for event", zap.String("event_type", string(event.EventType)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve template %s: %w", event.EventType, err)
	}
	if !tpl.Active {
		d.logger.Debug("template inactive", zap.String("event_type", string(event.EventType)))
		return nil
	}

	now := d.now().UTC()
	var errs []error
	for _, target := range templateTargets(tpl) {
		if _, ok := d.lanes[target]; !ok {
			d.logger.Warn("template target has no endpoint",
				zap.String("event_type", string(event.EventType)),
				zap.String("target", string(target)))
			continue
		}
		static := tpl.Targets[target]

		rec, created, err := d.records.CreateIfAbsent(ctx, models.NotificationRecord{
			ID:            uuid.NewString(),
			EventType:     event.EventType,
			EventID:       event.EventID,
			SourceService: event.SourceService,
			Target:        target,
			Payload:       buildPayload(event, static),
			Status:        models.NotificationPending,
			MaxRetries:    d.cfg.MaxRetries,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("create notification for %s: %w", target, err))
			continue
		}
		if !created {
			d.logger.Debug("duplicate event ignored",
				zap.String("event_id", event.EventID),
				zap.String("target", string(target)),
				zap.String("status", string(rec.Status)))
		}
		if rec.Status == models.NotificationPending {
			d.enqueue(rec.ID, rec.Target)
		}
	}
	return errors.Join(errs...)
}

func templateTargets(tpl models.NotificationTemplate) []models.TargetSystem {
	out := make([]models.TargetSystem, 0, len(tpl.Targets))
	for target := range tpl.Targets {
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResumePending queues pending records that are not already scheduled.
// Records whose next attempt lies in the future get a timer instead.
func (d *Dispatcher) ResumePending(ctx context.Context) (int, error) {
	pending, err := d.records.ListPending(ctx, d.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	resumed := 0
	now := d.now()
	for _, rec := range pending {
		if d.isInflight(rec.ID) {
			continue
		}
		if rec.NextAttemptAt != nil && rec.NextAttemptAt.After(now) {
			d.schedule(rec.ID, rec.Target, rec.NextAttemptAt.Sub(now))
		} else {
			d.enqueue(rec.ID, rec.Target)
		}
		resumed++
	}
	if resumed > 0 {
		d.logger.Info("pending notifications resumed", zap.Int("count", resumed))
	}
	return resumed, nil
}

// RetryNow brings the next attempt of a pending record forward.
func (d *Dispatcher) RetryNow(ctx context.Context, id string) (models.NotificationRecord, error) {
	rec, err := d.records.Get(ctx, id)
	if err != nil {
		return models.NotificationRecord{}, err
	}
	if rec.Status != models.NotificationPending {
		return models.NotificationRecord{}, models.InvalidStateError("notification %s is %s", id, rec.Status)
	}

	d.mu.Lock()
	timer, scheduled := d.inflight[id]
	if scheduled && timer != nil && timer.Stop() {
		delete(d.inflight, id)
		scheduled = false
	}
	d.mu.Unlock()

	if !scheduled {
		d.enqueue(rec.ID, rec.Target)
	}
	return rec, nil
}

// Defaults of a manual test delivery.
const (
	TestEventType models.EventType = "test.notification"
	testSource                     = "manual"
)

// SendTest queues a one-off delivery to a single target, outside any
// template. Empty arguments fall back to a test event for the client ERP.
func (d *Dispatcher) SendTest(ctx context.Context, target models.TargetSystem, eventType models.EventType, payload map[string]any) (models.NotificationRecord, error) {
	if target == "" {
		target = models.TargetClientERP
	}
	if eventType == "" {
		eventType = TestEventType
	}
	if payload == nil {
		payload = map[string]any{"test": true}
	}
	if _, ok := d.lanes[target]; !ok {
		return models.NotificationRecord{}, fmt.Errorf("target %s: %w", target, models.ErrNotFound)
	}

	now := d.now().UTC()
	event := models.DomainEvent{
		EventType:     eventType,
		EventID:       "test-" + uuid.NewString(),
		SourceService: testSource,
		OccurredAt:    now,
		Payload:       payload,
	}
	rec, _, err := d.records.CreateIfAbsent(ctx, models.NotificationRecord{
		ID:            uuid.NewString(),
		EventType:     event.EventType,
		EventID:       event.EventID,
		SourceService: event.SourceService,
		Target:        target,
		Payload:       buildPayload(event, nil),
		Status:        models.NotificationPending,
		MaxRetries:    d.cfg.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("create test notification: %w", err)
	}

	d.enqueue(rec.ID, rec.Target)
	d.logger.Info("test notification queued", zap.String("notification_id", rec.ID), zap.String("target", string(target)))
	return rec, nil
}

// Get returns a record by id.
func (d *Dispatcher) Get(ctx context.Context, id string) (models.NotificationRecord, error) {
	return d.records.Get(ctx, id)
}

// List returns records matching filter.
func (d *Dispatcher) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, error) {
	return d.records.List(ctx, filter)
}

// Stats summarizes the audit trail; SentToday counts from local midnight.
func (d *Dispatcher) Stats(ctx context.Context) (models.NotificationStats, error) {
	now := d.now()
	y, m, day := now.Date()
	return d.records.Stats(ctx, time.Date(y, m, day, 0, 0, 0, 0, now.Location()))
}

// Backoff is the delay before retry number n (1-based): base doubled per
// retry, capped at the configured maximum.
func (d *Dispatcher) Backoff(n int) time.Duration {
	return backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, n)
}

func backoff(base, ceiling time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := base
	for i := 1; i < n; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}

func (d *Dispatcher) worker(target models.TargetSystem, lane <-chan string) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case id := <-lane:
			d.deliver(target, id)
		}
	}
}

// enqueue hands a record to its lane without blocking. A full lane leaves
// the record pending for the next sweep.
func (d *Dispatcher) enqueue(id string, target models.TargetSystem) {
	lane, ok := d.lanes[target]
	if !ok {
		d.logger.Warn("no delivery lane for target", zap.String("notification_id", id), zap.String("target", string(target)))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if _, busy := d.inflight[id]; busy {
		return
	}

	select {
	case lane <- id:
		d.inflight[id] = nil
	default:
		d.logger.Warn("delivery lane full, left for sweep", zap.String("notification_id", id), zap.String("target", string(target)))
	}
}

// schedule re-queues id after delay. The record stays marked in flight while
// its timer runs so sweeps skip it. A record already waiting on a timer is
// left alone.
func (d *Dispatcher) schedule(id string, target models.TargetSystem, delay time.Duration) {
	lane, ok := d.lanes[target]
	if !ok {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if timer := d.inflight[id]; timer != nil {
		return
	}

	d.inflight[id] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		d.inflight[id] = nil
		d.mu.Unlock()

		select {
		case lane <- id:
		case <-d.stop:
			d.done(id)
		}
	})
}

func (d *Dispatcher) done(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

func (d *Dispatcher) isInflight(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

// deliver performs one attempt and records its outcome.
func (d *Dispatcher) deliver(target models.TargetSystem, id string) {
	ctx := d.baseCtx
	logger := d.logger.With(zap.String("notification_id", id), zap.String("target", string(target)))

	rec, err := d.records.Get(ctx, id)
	if err != nil {
		logger.Error("failed to load notification", zap.Error(err))
		d.done(id)
		return
	}
	if rec.Status != models.NotificationPending {
		d.done(id)
		return
	}

	ctx, span := d.tracer.Start(ctx, "notification.deliver", trace.WithAttributes(
		attribute.String("notification.id", rec.ID),
		attribute.String("notification.target", string(rec.Target)),
		attribute.String("event.type", string(rec.EventType)),
		attribute.String("event.id", rec.EventID),
		attribute.Int("notification.retry_count", rec.RetryCount),
	))
	defer span.End()

	resp, sendErr := d.sender.Send(ctx, rec.Target, rec.Payload)
	attempt := models.DeliveryAttempt{
		HTTPStatusCode: resp.StatusCode,
		ResponseBody:   resp.Body,
		At:             d.now().UTC(),
	}

	if sendErr == nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Ok, "delivered")
		if _, err := d.records.MarkSent(ctx, id, attempt); err != nil {
			logger.Error("failed to mark notification sent", zap.Error(err))
		} else {
			logger.Info("notification sent", zap.Int("http_status", resp.StatusCode), zap.Int("retry_count", rec.RetryCount))
		}
		d.done(id)
		return
	}

	attempt.ErrorMessage = sendErr.Error()
	span.RecordError(sendErr)
	span.SetStatus(codes.Error, sendErr.Error())

	if rec.RetryCount < rec.MaxRetries {
		delay := d.Backoff(rec.RetryCount + 1)
		updated, err := d.records.MarkRetry(ctx, id, attempt, attempt.At.Add(delay))
		if err != nil {
			logger.Error("failed to record retry", zap.Error(err))
			d.done(id)
			return
		}
		logger.Warn("notification attempt failed, retry scheduled",
			zap.Int("retry_count", updated.RetryCount),
			zap.Duration("backoff", delay),
			zap.Error(sendErr))
		d.schedule(id, rec.Target, delay)
		return
	}

	if _, err := d.records.MarkFailed(ctx, id, attempt); err != nil {
		logger.Error("failed to mark notification failed", zap.Error(err))
	} else {
		logger.Error("notification failed after retries",
			zap.Int("retry_count", rec.RetryCount),
			zap.Error(sendErr))
	}
	d.done(id)
}
