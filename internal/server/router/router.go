package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/server/handlers"
)

// Handlers groups the HTTP adapters mounted by the router.
type Handlers struct {
	Stock         *handlers.StockHandler
	Devis         *handlers.DevisHandler
	Notifications *handlers.NotificationHandler
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": config.ServiceName})
	}
	r.GET("/healthz", health)
	r.GET("/health", health)

	stock := r.Group("/stock")
	stock.GET("/parts", h.Stock.ListParts)
	stock.GET("/parts/:reference", h.Stock.GetPart)
	stock.POST("/parts/:reference/restock", h.Stock.Restock)
	stock.GET("/parts/:reference/movements", h.Stock.Movements)
	stock.GET("/categories", h.Stock.Categories)
	stock.POST("/check", h.Stock.Check)

	devis := r.Group("/devis")
	devis.POST("/generate", h.Devis.Generate)
	devis.GET("", h.Devis.List)
	devis.GET("/:id", h.Devis.Get)
	devis.PUT("/:id/negotiate", h.Devis.Negotiate)
	devis.POST("/:id/validate", h.Devis.Validate)
	devis.POST("/:id/reject", h.Devis.Reject)

	notifications := r.Group("/notifications")
	notifications.GET("", h.Notifications.List)
	notifications.GET("/stats", h.Notifications.Stats)
	notifications.POST("/retry-pending", h.Notifications.RetryPending)
	notifications.POST("/send-test", h.Notifications.SendTest)
	notifications.GET("/:id", h.Notifications.Get)
	notifications.POST("/:id/retry", h.Notifications.Retry)

	if logger != nil {
		logger.Info("router initialized", zap.Int("routes", len(r.Routes())))
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
