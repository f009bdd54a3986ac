package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	"github.com/mamadbah2/wagonmaint/internal/repository/memory"
	"github.com/mamadbah2/wagonmaint/pkg/clients/erp"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// target is a webhook endpoint whose answers are scripted per call.
type target struct {
	srv   *httptest.Server
	calls atomic.Int32
}

func newTarget(t *testing.T, answer func(call int32) int) *target {
	t.Helper()
	tg := &target{}
	tg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := tg.calls.Add(1)
		code := answer(n)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(http.StatusText(code)))
	}))
	t.Cleanup(tg.srv.Close)
	return tg
}

func always(code int) func(int32) int { return func(int32) int { return code } }

type harness struct {
	dispatcher *Dispatcher
	records    *memory.NotificationStore
	templates  *memory.TemplateStore
}

func newHarness(t *testing.T, wagl, demat *target) harness {
	t.Helper()
	return newHarnessWithEndpoints(t, map[models.TargetSystem]string{
		models.TargetClientERP:   wagl.srv.URL,
		models.TargetInternalERP: demat.srv.URL,
	}, nil)
}

func newHarnessWithEndpoints(t *testing.T, endpoints map[models.TargetSystem]string, logger *zap.Logger) harness {
	t.Helper()
	records := memory.NewNotificationStore()
	templates := memory.NewTemplateStore()
	require.NoError(t, SeedTemplates(context.Background(), templates, nil))

	sender := erp.NewClientWithEndpoints(endpoints, time.Second)

	d := NewDispatcher(records, templates, sender, config.DispatcherConfig{
		WorkersPerTarget: 2,
		QueueSize:        16,
		MaxRetries:       3,
		BaseBackoff:      5 * time.Millisecond,
		MaxBackoff:       40 * time.Millisecond,
		SweepBatchSize:   50,
	}, logger)
	return harness{dispatcher: d, records: records, templates: templates}
}

func (h harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.dispatcher.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.dispatcher.Stop(ctx)
	})
}

func (h harness) record(t *testing.T, eventID string, tg models.TargetSystem) (models.NotificationRecord, bool) {
	t.Helper()
	recs, err := h.records.List(context.Background(), models.NotificationFilter{Target: tg})
	require.NoError(t, err)
	for _, r := range recs {
		if r.EventID == eventID {
			return r, true
		}
	}
	return models.NotificationRecord{}, false
}

func (h harness) waitStatus(t *testing.T, eventID string, tg models.TargetSystem, status models.NotificationStatus) models.NotificationRecord {
	t.Helper()
	var rec models.NotificationRecord
	require.Eventually(t, func() bool {
		r, ok := h.record(t, eventID, tg)
		rec = r
		return ok && r.Status == status
	}, waitFor, tick, "%s never reached %s", tg, status)
	return rec
}

func validatedEvent(id string) models.DomainEvent {
	return models.DomainEvent{
		EventType:     models.EventQuoteValidated,
		EventID:       id,
		SourceService: "devis-service",
		AggregateID:   "q-1",
		OccurredAt:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Payload:       map[string]any{"devis_id": "q-1", "final_amount": 2170.0, "type": "overridden"},
	}
}

func TestDispatcher_DeliversToEveryTarget(t *testing.T) {
	wagl := newTarget(t, always(http.StatusOK))
	demat := newTarget(t, always(http.StatusCreated))
	h := newHarness(t, wagl, demat)
	h.start(t)

	require.NoError(t, h.dispatcher.HandleEvent(context.Background(), validatedEvent("evt-1")))

	sent := h.waitStatus(t, "evt-1", models.TargetClientERP, models.NotificationSent)
	assert.Equal(t, 0, sent.RetryCount)
	assert.Equal(t, http.StatusOK, sent.HTTPStatusCode)
	assert.Equal(t, "OK", sent.ResponseBody)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, "DEVIS", sent.Payload["type"])
	assert.Equal(t, "CONFIRMATION_CLIENT", sent.Payload["action"])
	assert.Equal(t, "q-1", sent.Payload["devis_id"])

	other := h.waitStatus(t, "evt-1", models.TargetInternalERP, models.NotificationSent)
	assert.Equal(t, "ORDRE_TRAVAIL", other.Payload["type"])
	assert.Equal(t, http.StatusCreated, other.HTTPStatusCode)
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	wagl := newTarget(t, func(call int32) int {
		if call <= 2 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	demat := newTarget(t, always(http.StatusOK))
	h := newHarness(t, wagl, demat)
	h.start(t)

	require.NoError(t, h.dispatcher.HandleEvent(context.Background(), validatedEvent("evt-1")))

	rec := h.waitStatus(t, "evt-1", models.TargetClientERP, models.NotificationSent)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, http.StatusOK, rec.HTTPStatusCode)
	assert.Equal(t, int32(3), wagl.calls.Load())
}

func TestDispatcher_FailsAfterExhaustingRetries(t *testing.T) {
	wagl := newTarget(t, always(http.StatusInternalServerError))
	demat := newTarget(t, always(http.StatusOK))
	h := newHarness(t, wagl, demat)
	h.start(t)

	require.NoError(t, h.dispatcher.HandleEvent(context.Background(), validatedEvent("evt-1")))

	rec := h.waitStatus(t, "evt-1", models.TargetClientERP, models.NotificationFailed)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, http.StatusInternalServerError, rec.HTTPStatusCode)
	assert.Contains(t, rec.ErrorMessage, "500")
	assert.Nil(t, rec.NextAttemptAt)

	h.waitStatus(t, "evt-1", models.TargetInternalERP, models.NotificationSent)

	// No attempt follows the terminal one.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(4), wagl.calls.Load())

	_, err := h.dispatcher.RetryNow(context.Background(), rec.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestDispatcher_SlowTargetDoesNotBlockTheOther(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	slow := &target{}
	slow.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		slow.calls.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.srv.Close)
	t.Cleanup(unblock)
	fast := newTarget(t, always(http.StatusOK))

	h := newHarness(t, slow, fast)
	h.start(t)

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		require.NoError(t, h.dispatcher.HandleEvent(context.Background(), validatedEvent(id)))
	}
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		h.waitStatus(t, id, models.TargetInternalERP, models.NotificationSent)
	}

	rec, ok := h.record(t, "evt-1", models.TargetClientERP)
	require.True(t, ok)
	assert.Equal(t, models.NotificationPending, rec.Status)

	unblock()
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		h.waitStatus(t, id, models.TargetClientERP, models.NotificationSent)
	}
}

func TestDispatcher_SkipsEventsWithoutActiveTemplate(t *testing.T) {
	wagl := newTarget(t, always(http.StatusOK))
	demat := newTarget(t, always(http.StatusOK))
	h := newHarness(t, wagl, demat)
	h.start(t)
	ctx := context.Background()

	tpl, err := h.templates.GetTemplate(ctx, models.EventQuoteRejected)
	require.NoError(t, err)
	tpl.Active = false
	require.NoError(t, h.templates.UpsertTemplate(ctx, tpl))

	require.NoError(t, h.dispatcher.HandleEvent(ctx, models.DomainEvent{EventType: models.EventQuoteRejected, EventID: "evt-r"}))
	require.NoError(t, h.dispatcher.HandleEvent(ctx, models.DomainEvent{EventType: "wagon.scrapped", EventID: "evt-x"}))

	all, err := h.records.List(ctx, models.NotificationFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, wagl.calls.Load())
}

func TestDispatcher_DuplicateEventKeepsOneRecordPerTarget(t *testing.T) {
	wagl := newTarget(t, always(http.StatusOK))
	demat := newTarget(t, always(http.StatusOK))
	h := newHarness(t, wagl, demat)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.dispatcher.HandleEvent(ctx, validatedEvent("evt-1")))
	h.waitStatus(t, "evt-1", models.TargetClientERP, models.NotificationSent)
	h.waitStatus(t, "evt-1", models.TargetInternalERP, models.NotificationSent)

	require.NoError(t, h.dispatcher.HandleEvent(ctx, validatedEvent("evt-1")))

	all, err := h.records.List(ctx, models.NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, int32(1), wagl.calls.Load())
	assert.Equal(t, int32(1), demat.calls.Load())
}

func TestDispatcher_StartResumesPendingRecords(t *testing.T) {
	wagl := newTarget(t, always(http.StatusOK))
	demat := newTarget(t, always(http.StatusOK))
	h := newHarness(t, wagl, demat)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, created, err := h.records.CreateIfAbsent(ctx, models.NotificationRecord{
		ID:            "n-stale",
		EventType:     models.EventInspectionCompleted,
		EventID:       "evt-before-restart",
		Target:        models.TargetInternalERP,
		Payload:       map[string]any{"type": "INSPECTION"},
		Status:        models.NotificationPending,
		RetryCount:    1,
		MaxRetries:    3,
		NextAttemptAt: &past,
		CreatedAt:     past,
	})
	require.NoError(t, err)
	require.True(t, created)

	h.start(t)

	rec := h.waitStatus(t, "evt-before-restart", models.TargetInternalERP, models.NotificationSent)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, int32(1), demat.calls.Load())

	stats, err := h.dispatcher.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.SentToday)
}

func TestDispatcher_RetryNowBringsScheduledAttemptForward(t *testing.T) {
	wagl := newTarget(t, func(call int32) int {
		if call == 1 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})
	demat := newTarget(t, always(http.StatusOK))
	h := newHarness(t, wagl, demat)
	h.dispatcher.cfg.BaseBackoff = time.Hour
	h.dispatcher.cfg.MaxBackoff = time.Hour
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.dispatcher.HandleEvent(ctx, validatedEvent("evt-1")))

	var pending models.NotificationRecord
	require.Eventually(t, func() bool {
		r, ok := h.record(t, "evt-1", models.TargetClientERP)
		pending = r
		if !ok || r.RetryCount != 1 {
			return false
		}
		h.dispatcher.mu.Lock()
		defer h.dispatcher.mu.Unlock()
		return h.dispatcher.inflight[r.ID] != nil
	}, waitFor, tick)
	assert.Equal(t, models.NotificationPending, pending.Status)

	_, err := h.dispatcher.RetryNow(ctx, pending.ID)
	require.NoError(t, err)

	rec := h.waitStatus(t, "evt-1", models.TargetClientERP, models.NotificationSent)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestBackoff(t *testing.T) {
	base, ceiling := 5*time.Second, 30*time.Second
	assert.Equal(t, 5*time.Second, backoff(base, ceiling, 0))
	assert.Equal(t, 5*time.Second, backoff(base, ceiling, 1))
	assert.Equal(t, 10*time.Second, backoff(base, ceiling, 2))
	assert.Equal(t, 20*time.Second, backoff(base, ceiling, 3))
	assert.Equal(t, 30*time.Second, backoff(base, ceiling, 4))
	assert.Equal(t, 30*time.Second, backoff(base, ceiling, 60))
}

func TestBuildPayload_TemplateFieldsWin(t *testing.T) {
	payload := buildPayload(validatedEvent("evt-9"), map[string]any{"type": "DEVIS", "action": "CONFIRMATION_CLIENT"})

	assert.Equal(t, "DEVIS", payload["type"])
	assert.Equal(t, "CONFIRMATION_CLIENT", payload["action"])
	assert.Equal(t, "q-1", payload["devis_id"])
	assert.Equal(t, "devis.validated", payload["event_type"])
	assert.Equal(t, "evt-9", payload["event_id"])
	assert.Equal(t, "2026-03-10T09:00:00Z", payload["timestamp"])
}

func TestSeedTemplates_KeepsExistingTemplates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTemplateStore()
	require.NoError(t, store.UpsertTemplate(ctx, models.NotificationTemplate{EventType: models.EventQuoteGenerated, Active: false}))

	require.NoError(t, SeedTemplates(ctx, store, nil))

	all, err := store.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(models.AllEventTypes))

	generated, err := store.GetTemplate(ctx, models.EventQuoteGenerated)
	require.NoError(t, err)
	assert.False(t, generated.Active)
}

func TestDispatcher_DeliversToTargetsAddedByTemplateAndEndpoint(t *testing.T) {
	const audit models.TargetSystem = "ERP_AUDIT"
	wagl := newTarget(t, always(http.StatusOK))
	demat := newTarget(t, always(http.StatusOK))
	auditTarget := newTarget(t, always(http.StatusCreated))
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarnessWithEndpoints(t, map[models.TargetSystem]string{
		models.TargetClientERP:   wagl.srv.URL,
		models.TargetInternalERP: demat.srv.URL,
		audit:                    auditTarget.srv.URL,
	}, zap.New(core))
	ctx := context.Background()

	tpl, err := h.templates.GetTemplate(ctx, models.EventQuoteValidated)
	require.NoError(t, err)
	tpl.Targets[audit] = map[string]any{"type": "AUDIT", "action": "ARCHIVE"}
	tpl.Targets["ERP_LEGACY"] = map[string]any{"type": "DEVIS"}
	require.NoError(t, h.templates.UpsertTemplate(ctx, tpl))
	h.start(t)

	require.NoError(t, h.dispatcher.HandleEvent(ctx, validatedEvent("evt-1")))

	rec := h.waitStatus(t, "evt-1", audit, models.NotificationSent)
	assert.Equal(t, "ARCHIVE", rec.Payload["action"])
	h.waitStatus(t, "evt-1", models.TargetClientERP, models.NotificationSent)
	h.waitStatus(t, "evt-1", models.TargetInternalERP, models.NotificationSent)

	_, found := h.record(t, "evt-1", "ERP_LEGACY")
	assert.False(t, found)
	warnings := logs.FilterMessage("template target has no endpoint").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "ERP_LEGACY", warnings[0].ContextMap()["target"])
}

func TestDispatcher_SendTestDeliversToOneTarget(t *testing.T) {
	wagl := newTarget(t, always(http.StatusOK))
	demat := newTarget(t, always(http.StatusAccepted))
	h := newHarness(t, wagl, demat)
	h.start(t)
	ctx := context.Background()

	queued, err := h.dispatcher.SendTest(ctx, models.TargetInternalERP, "", nil)
	require.NoError(t, err)
	assert.Equal(t, TestEventType, queued.EventType)
	assert.Equal(t, "manual", queued.SourceService)
	assert.Equal(t, true, queued.Payload["test"])

	rec := h.waitStatus(t, queued.EventID, models.TargetInternalERP, models.NotificationSent)
	assert.Equal(t, http.StatusAccepted, rec.HTTPStatusCode)
	assert.Zero(t, wagl.calls.Load())

	_, err = h.dispatcher.SendTest(ctx, "ERP_NOPE", "", nil)
	require.ErrorIs(t, err, models.ErrNotFound)
}
