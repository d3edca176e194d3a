package httpt

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *PaymentHandler) setupRoutes() {
	h.router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	v1 := h.router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("", h.createPaymentHandler)
			payments.GET("/:payment_id", h.getPaymentHandler)
			payments.GET("/:payment_id/audit", h.getAuditTrailHandler)
			payments.POST("/:payment_id/process", h.processPaymentHandler)
			payments.POST("/:payment_id/cancel", h.cancelPaymentHandler)
			payments.POST("/:payment_id/refund", h.refundPaymentHandler)
		}

		users := v1.Group("/users/:user_id")
		{
			users.GET("/payments", h.listUserPaymentsHandler)
			users.GET("/methods", h.listMethodsHandler)
			users.POST("/methods", h.createMethodHandler)
			users.POST("/methods/:method_id/default", h.setDefaultMethodHandler)
			users.DELETE("/methods/:method_id", h.deleteMethodHandler)
		}

		v1.POST("/webhooks/gateway", h.gatewayWebhookHandler)

		admin := v1.Group("/admin")
		{
			admin.GET("/outbox/stats", h.outboxStatsHandler)
			admin.POST("/outbox/requeue-failed", h.requeueFailedHandler)
			admin.POST("/outbox/:entry_id/requeue", h.requeueEntryHandler)
			admin.GET("/audit", h.auditQueryHandler)
		}
	}
}
