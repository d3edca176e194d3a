package httpt

import (
	"net/http"

	"paycore/internal/entity"

	"github.com/gin-gonic/gin"
)

func (h *PaymentHandler) createMethodHandler(c *gin.Context) {
	const op = "transport.createMethodHandler"

	userID, ok := h.pathUUID(c, op, "user_id")
	if !ok {
		return
	}

	var req CreateMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	method, err := h.svc.AddMethod(c.Request.Context(), &entity.PaymentMethod{
		UserRef:       userID,
		Type:          entity.PaymentMethodType(req.Type),
		ProviderToken: req.ProviderToken,
		MaskedID:      req.MaskedID,
		ExpiresAt:     req.ExpiresAt,
		IsDefault:     req.IsDefault,
	})
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusCreated, method)
}

func (h *PaymentHandler) listMethodsHandler(c *gin.Context) {
	const op = "transport.listMethodsHandler"

	userID, ok := h.pathUUID(c, op, "user_id")
	if !ok {
		return
	}

	methods, err := h.svc.ListMethods(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "payment methods", Data: methods})
}

func (h *PaymentHandler) setDefaultMethodHandler(c *gin.Context) {
	const op = "transport.setDefaultMethodHandler"

	userID, ok := h.pathUUID(c, op, "user_id")
	if !ok {
		return
	}
	methodID, ok := h.pathUUID(c, op, "method_id")
	if !ok {
		return
	}

	if err := h.svc.SetDefaultMethod(c.Request.Context(), userID, methodID); err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "default method updated"})
}

func (h *PaymentHandler) deleteMethodHandler(c *gin.Context) {
	const op = "transport.deleteMethodHandler"

	userID, ok := h.pathUUID(c, op, "user_id")
	if !ok {
		return
	}
	methodID, ok := h.pathUUID(c, op, "method_id")
	if !ok {
		return
	}

	if err := h.svc.DeleteMethod(c.Request.Context(), userID, methodID); err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.Status(http.StatusNoContent)
}
