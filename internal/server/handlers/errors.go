package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// respondError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as 500.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	var shortage *models.StockUnavailableError
	switch {
	case errors.As(err, &shortage):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "stock unavailable",
			"shortages": shortage.Shortages,
			"message":   "Le stock a changé depuis la génération du devis. Régénérez le devis avec les quantités disponibles.",
		})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn(msg, zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request timed out"})
	default:
		logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func badRequest(c *gin.Context, logger *zap.Logger, msg string, err error) {
	logger.Warn(msg, zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "details": err.Error()})
}
