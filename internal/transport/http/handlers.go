package httpt

import (
	"net/http"
	"strconv"

	"paycore/internal/entity"
	"paycore/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	_defaultPageLimit = 50
	_maxPageLimit     = 200
)

func (h *PaymentHandler) createPaymentHandler(c *gin.Context) {
	const op = "transport.createPaymentHandler"

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount is not a valid decimal"})
		return
	}

	input := service.CreatePaymentInput{
		OrderRef: uuid.MustParse(req.OrderRef),
		UserRef:  uuid.MustParse(req.UserRef),
		Amount:   amount,
		Currency: req.Currency,
	}
	if req.MethodID != nil {
		methodID := uuid.MustParse(*req.MethodID)
		input.MethodID = &methodID
	}

	payment, err := h.svc.CreatePayment(c.Request.Context(), input)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) getPaymentHandler(c *gin.Context) {
	const op = "transport.getPaymentHandler"

	paymentID, ok := h.pathUUID(c, op, "payment_id")
	if !ok {
		return
	}

	payment, err := h.svc.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) processPaymentHandler(c *gin.Context) {
	const op = "transport.processPaymentHandler"

	paymentID, ok := h.pathUUID(c, op, "payment_id")
	if !ok {
		return
	}

	payment, err := h.svc.ProcessPayment(c.Request.Context(), paymentID,
		entity.Actor{Type: entity.ActorSystem})
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) cancelPaymentHandler(c *gin.Context) {
	const op = "transport.cancelPaymentHandler"

	paymentID, ok := h.pathUUID(c, op, "payment_id")
	if !ok {
		return
	}

	payment, err := h.svc.CancelPayment(c.Request.Context(), paymentID,
		entity.Actor{Type: entity.ActorUser})
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) refundPaymentHandler(c *gin.Context) {
	const op = "transport.refundPaymentHandler"

	paymentID, ok := h.pathUUID(c, op, "payment_id")
	if !ok {
		return
	}

	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount is not a valid decimal"})
		return
	}

	payment, err := h.svc.RefundPayment(c.Request.Context(), paymentID, amount,
		entity.Actor{Type: entity.ActorAdmin})
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) getAuditTrailHandler(c *gin.Context) {
	const op = "transport.getAuditTrailHandler"

	paymentID, ok := h.pathUUID(c, op, "payment_id")
	if !ok {
		return
	}
	limit, offset := h.pagination(c)

	entries, err := h.svc.GetAuditTrail(c.Request.Context(), paymentID, limit, offset)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "audit trail", Data: entries})
}

func (h *PaymentHandler) listUserPaymentsHandler(c *gin.Context) {
	const op = "transport.listUserPaymentsHandler"

	userID, ok := h.pathUUID(c, op, "user_id")
	if !ok {
		return
	}
	limit, offset := h.pagination(c)

	payments, err := h.svc.GetPaymentsByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "payments", Data: payments})
}

func (h *PaymentHandler) pathUUID(c *gin.Context, op, param string) (uuid.UUID, bool) {
	value := c.Param(param)
	id, err := uuid.Parse(value)
	if err != nil {
		h.handleInvalidUUID(c, op, param, value)
		return uuid.Nil, false
	}
	return id, true
}

func (h *PaymentHandler) pagination(c *gin.Context) (limit, offset uint64) {
	limit = _defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil && parsed > 0 {
			limit = min(parsed, _maxPageLimit)
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			offset = parsed
		}
	}
	return limit, offset
}
