package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	"github.com/mamadbah2/wagonmaint/internal/repository/memory"
	"github.com/mamadbah2/wagonmaint/internal/server/handlers"
	"github.com/mamadbah2/wagonmaint/internal/service/quotes"
)

type stubNotifications struct {
	records map[string]models.NotificationRecord
	limit   int
}

func (s *stubNotifications) Get(_ context.Context, id string) (models.NotificationRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return models.NotificationRecord{}, models.ErrNotFound
	}
	return rec, nil
}

func (s *stubNotifications) List(_ context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, error) {
	s.limit = filter.Limit
	out := make([]models.NotificationRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *stubNotifications) Stats(context.Context) (models.NotificationStats, error) {
	return models.NotificationStats{Total: int64(len(s.records))}, nil
}

func (s *stubNotifications) RetryNow(_ context.Context, id string) (models.NotificationRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return models.NotificationRecord{}, models.ErrNotFound
	}
	if rec.Status != models.NotificationPending {
		return models.NotificationRecord{}, models.InvalidStateError("notification %s is %s", id, rec.Status)
	}
	return rec, nil
}

func (s *stubNotifications) ResumePending(context.Context) (int, error) {
	return 2, nil
}

func (s *stubNotifications) SendTest(_ context.Context, target models.TargetSystem, eventType models.EventType, payload map[string]any) (models.NotificationRecord, error) {
	if target == "" {
		target = models.TargetClientERP
	}
	if target != models.TargetClientERP && target != models.TargetInternalERP {
		return models.NotificationRecord{}, models.ErrNotFound
	}
	return models.NotificationRecord{ID: "n-test", Target: target, EventType: eventType, Payload: payload, Status: models.NotificationPending}, nil
}

type testServer struct {
	engine *gin.Engine
	ledger *memory.Ledger
	notifs *stubNotifications
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ledger := memory.NewLedger(
		models.Part{Reference: "BP-001", Name: "Brake pad", Category: "freinage", CatalogPrice: decimal.RequireFromString("45.50"), StockQuantity: 120, ReorderThreshold: 20, LeadTimeDays: 7},
		models.Part{Reference: "RL-220", Name: "Roller bearing", Category: "roulement", CatalogPrice: decimal.NewFromInt(320), StockQuantity: 4, ReorderThreshold: 5, LeadTimeDays: 14},
	)
	svc := quotes.NewService(ledger, memory.NewQuoteStore(), nil, nil, config.PricingConfig{
		HourlyRate:        decimal.NewFromInt(85),
		InspectionForfait: decimal.NewFromInt(1360),
	}, nil)
	notifs := &stubNotifications{records: map[string]models.NotificationRecord{
		"n-sent":    {ID: "n-sent", Status: models.NotificationSent, Target: models.TargetClientERP},
		"n-pending": {ID: "n-pending", Status: models.NotificationPending, Target: models.TargetInternalERP},
	}}

	engine := New(Handlers{
		Stock:         handlers.NewStockHandler(svc, nil),
		Devis:         handlers.NewDevisHandler(svc, nil),
		Notifications: handlers.NewNotificationHandler(notifs, nil),
	}, nil)
	return testServer{engine: engine, ledger: ledger, notifs: notifs}
}

func (s testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (s testServer) generate(t *testing.T, reference string, quantity int) map[string]any {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/devis/generate", gin.H{
		"wagon_id":       "WAG-77",
		"client_company": "SNCF Fret",
		"parts":          []gin.H{{"reference": reference, "quantity": quantity}},
	})
	require.Equal(t, http.StatusCreated, code, body)
	return body
}

func devisID(t *testing.T, body map[string]any) string {
	t.Helper()
	devis, ok := body["devis"].(map[string]any)
	require.True(t, ok)
	id, ok := devis["id"].(string)
	require.True(t, ok)
	return id
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, config.ServiceName, body["service"])
}

func TestGenerateRequiresWagonAndClient(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodPost, "/devis/generate", gin.H{"client_company": "SNCF Fret"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGenerateReportsModifications(t *testing.T) {
	s := newTestServer(t)
	body := s.generate(t, "RL-220", 10)

	assert.Equal(t, false, body["can_validate"])
	mods, ok := body["modifications_required"].([]any)
	require.True(t, ok)
	require.Len(t, mods, 1)
	assert.Equal(t, "MODIFIER_QUANTITE", mods[0].(map[string]any)["action"])
}

func TestValidateLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := devisID(t, s.generate(t, "BP-001", 2))

	code, _ := s.do(t, http.MethodPost, "/devis/"+id+"/validate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, http.MethodPost, "/devis/"+id+"/validate", gin.H{"confirmed_by": "m.diallo"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, "confirmation")

	part, err := s.ledger.GetPart(context.Background(), "BP-001")
	require.NoError(t, err)
	assert.Equal(t, 118, part.StockQuantity)

	code, _ = s.do(t, http.MethodPost, "/devis/"+id+"/validate", gin.H{"confirmed_by": "m.diallo"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPost, "/devis/"+id+"/reject", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestValidateReportsLiveShortage(t *testing.T) {
	s := newTestServer(t)
	id := devisID(t, s.generate(t, "RL-220", 3))

	require.NoError(t, s.ledger.Reserve(context.Background(), "devis", "other", []models.Reservation{{PartReference: "RL-220", Quantity: 3}}))

	code, body := s.do(t, http.MethodPost, "/devis/"+id+"/validate", gin.H{"confirmed_by": "m.diallo"})
	require.Equal(t, http.StatusConflict, code)
	shortages, ok := body["shortages"].([]any)
	require.True(t, ok)
	require.Len(t, shortages, 1)
	assert.Equal(t, "RL-220", shortages[0].(map[string]any)["reference"])
	assert.EqualValues(t, 1, shortages[0].(map[string]any)["available"])
}

func TestNegotiateAndReject(t *testing.T) {
	s := newTestServer(t)
	id := devisID(t, s.generate(t, "BP-001", 2))

	code, _ := s.do(t, http.MethodPut, "/devis/"+id+"/negotiate", gin.H{"discount_percentage": 150})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, http.MethodPut, "/devis/"+id+"/negotiate", gin.H{
		"discount_percentage":   10,
		"new_intervention_date": "2026-04-01",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "10", fmt.Sprint(body["discount_percentage"]))

	code, body = s.do(t, http.MethodPost, "/devis/"+id+"/reject", gin.H{"reason": "budget"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "rejected", body["status"])

	code, list := s.do(t, http.MethodGet, "/devis?status=rejected", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, list["total"])
}

func TestUnknownDevisIsNotFound(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/devis/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStockRoutes(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/stock/parts/RL-220", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["low_stock_warning"])

	code, body = s.do(t, http.MethodGet, "/stock/categories", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"freinage", "roulement"}, body["categories"])

	code, _ = s.do(t, http.MethodPost, "/stock/check", gin.H{"parts": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodPost, "/stock/check", gin.H{"parts": []gin.H{{"reference": "NOPE", "quantity": 1}}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["can_proceed"])

	code, body = s.do(t, http.MethodPost, "/stock/parts/RL-220/restock", gin.H{"quantity": 6})
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 10, body["stock_quantity"])

	code, body = s.do(t, http.MethodGet, "/stock/parts/RL-220/movements", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, _ = s.do(t, http.MethodPost, "/stock/parts/NOPE/restock", gin.H{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNotificationRoutes(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/notifications?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, http.MethodGet, "/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])
	assert.Equal(t, 100, s.notifs.limit)

	code, _ = s.do(t, http.MethodPost, "/notifications/n-sent/retry", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPost, "/notifications/n-pending/retry", nil)
	assert.Equal(t, http.StatusAccepted, code)

	code, _ = s.do(t, http.MethodGet, "/notifications/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(t, http.MethodPost, "/notifications/retry-pending", nil)
	require.Equal(t, http.StatusAccepted, code)
	assert.EqualValues(t, 2, body["processed"])

	code, body = s.do(t, http.MethodGet, "/notifications/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])

	code, body = s.do(t, http.MethodPost, "/notifications/send-test", nil)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["queued"])

	code, body = s.do(t, http.MethodPost, "/notifications/send-test", map[string]any{
		"target_erp": "ERP_DEMAT",
		"event_type": "devis.validated",
		"payload":    map[string]any{"devis_id": "q-1"},
	})
	require.Equal(t, http.StatusAccepted, code)
	notification, ok := body["notification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ERP_DEMAT", notification["target_erp"])

	code, _ = s.do(t, http.MethodPost, "/notifications/send-test", map[string]any{"target_erp": "ERP_NOPE"})
	assert.Equal(t, http.StatusNotFound, code)
}
