package httpt

import (
	"errors"
	"net/http"

	"paycore/internal/entity"

	"github.com/gin-gonic/gin"
)

// gatewayWebhookHandler receives provider callbacks. 2xx stops the
// provider's redelivery loop, so anything already absorbed (duplicates,
// replays, unknown references) answers 200. Only transient failures
// answer 5xx to invite another delivery.
func (h *PaymentHandler) gatewayWebhookHandler(c *gin.Context) {
	const op = "transport.gatewayWebhookHandler"

	var callback entity.GatewayCallback
	if err := c.ShouldBindJSON(&callback); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid callback body: " + err.Error()})
		return
	}

	if err := h.reconciler.Process(c.Request.Context(), callback); err != nil {
		if errors.Is(err, entity.ErrInvalidData) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid callback"})
			return
		}
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "accepted"})
}
