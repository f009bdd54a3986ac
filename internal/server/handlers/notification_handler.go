package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

const defaultNotificationLimit = 100

// NotificationService exposes the delivery audit trail and manual retries.
type NotificationService interface {
	Get(ctx context.Context, id string) (models.NotificationRecord, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, error)
	Stats(ctx context.Context) (models.NotificationStats, error)
	RetryNow(ctx context.Context, id string) (models.NotificationRecord, error)
	ResumePending(ctx context.Context) (int, error)
	SendTest(ctx context.Context, target models.TargetSystem, eventType models.EventType, payload map[string]any) (models.NotificationRecord, error)
}

// NotificationHandler serves the notification audit API.
type NotificationHandler struct {
	svc    NotificationService
	logger *zap.Logger
}

// NewNotificationHandler constructs the notification HTTP adapter.
func NewNotificationHandler(svc NotificationService, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{svc: svc, logger: logger}
}

// List returns records filtered by status, target_erp, event_type and limit.
func (h *NotificationHandler) List(c *gin.Context) {
	limit := defaultNotificationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, h.logger, "limit must be a positive integer", fmt.Errorf("limit=%q", raw))
			return
		}
		limit = n
	}

	records, err := h.svc.List(c.Request.Context(), models.NotificationFilter{
		Status:    models.NotificationStatus(c.Query("status")),
		Target:    models.TargetSystem(c.Query("target_erp")),
		EventType: models.EventType(c.Query("event_type")),
		Limit:     limit,
	})
	if err != nil {
		respondError(c, h.logger, "failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records, "total": len(records)})
}

// Get returns one delivery record.
func (h *NotificationHandler) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to load notification", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Stats returns counts per status and target.
func (h *NotificationHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to compute notification stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Retry brings the next attempt of a pending record forward. The attempt runs
// asynchronously.
func (h *NotificationHandler) Retry(c *gin.Context) {
	rec, err := h.svc.RetryNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to retry notification", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "notification": rec})
}

// RetryPending queues every pending record that is not already in flight.
func (h *NotificationHandler) RetryPending(c *gin.Context) {
	n, err := h.svc.ResumePending(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to resume pending notifications", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"processed": n})
}

type sendTestRequest struct {
	EventType models.EventType    `json:"event_type"`
	TargetERP models.TargetSystem `json:"target_erp"`
	Payload   map[string]any      `json:"payload"`
}

// SendTest queues a manual delivery to one target. An empty body sends a
// test event to the client ERP.
func (h *NotificationHandler) SendTest(c *gin.Context) {
	var req sendTestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "invalid test notification payload", err)
			return
		}
	}

	rec, err := h.svc.SendTest(c.Request.Context(), req.TargetERP, req.EventType, req.Payload)
	if err != nil {
		respondError(c, h.logger, "failed to send test notification", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "notification": rec})
}
