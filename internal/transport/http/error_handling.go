package httpt

import (
	"context"
	"errors"
	"net/http"

	"paycore/internal/entity"
	"paycore/pkg/logger"

	"github.com/gin-gonic/gin"
)

// handleServiceError translates the domain error taxonomy to HTTP. Every
// business rejection has a stable status so clients can branch on it.
func (h *PaymentHandler) handleServiceError(c *gin.Context, err error, op string) {
	ctx := c.Request.Context()
	log := h.log.Ctx(ctx)

	switch {
	case errors.Is(err, entity.ErrInvalidData):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request data"})

	case errors.Is(err, entity.ErrDataNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})

	case errors.Is(err, entity.ErrDuplicateOrder):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "order already has a live payment"})

	case errors.Is(err, entity.ErrConcurrentModification):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment was modified concurrently, retry with fresh state"})

	case errors.Is(err, entity.ErrConflictingData):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflicting data"})

	case errors.Is(err, entity.ErrRefundExceedsAmount):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "refund exceeds refundable amount"})

	case errors.Is(err, entity.ErrInvalidState), errors.Is(err, entity.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "operation not allowed in current payment state"})

	case errors.Is(err, entity.ErrGatewayDeclined):
		c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "payment gateway declined the operation"})

	case errors.Is(err, entity.ErrGatewayTransient), errors.Is(err, entity.ErrBreakerOpen):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "payment gateway temporarily unavailable"})

	case errors.Is(err, entity.ErrGatewayFatal):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway rejected the request"})

	case errors.Is(err, context.DeadlineExceeded):
		log.LogAttrs(ctx, logger.WarnLevel, "request timeout",
			logger.String("op", op),
			logger.String("path", c.Request.URL.Path),
		)
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out"})

	default:
		log.LogAttrs(ctx, logger.ErrorLevel, "internal server error",
			logger.String("op", op),
			logger.Any("error", err),
			logger.String("path", c.Request.URL.Path),
			logger.String("client_ip", c.ClientIP()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal service error"})
		return
	}

	log.LogAttrs(ctx, logger.WarnLevel, op+" rejected",
		logger.Any("error", err),
		logger.String("client_ip", c.ClientIP()),
	)
}

func (h *PaymentHandler) handleInvalidUUID(c *gin.Context, op, param, value string) {
	h.log.Ctx(c.Request.Context()).LogAttrs(c.Request.Context(), logger.WarnLevel, "invalid uuid in path",
		logger.String("op", op),
		logger.String("param", param),
		logger.String("value", value),
	)

	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + " format"})
}
