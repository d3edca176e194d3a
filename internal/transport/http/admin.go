package httpt

import (
	"net/http"
	"time"

	"paycore/internal/entity"

	"github.com/gin-gonic/gin"
)

func (h *PaymentHandler) outboxStatsHandler(c *gin.Context) {
	const op = "transport.outboxStatsHandler"

	counts, err := h.svc.OutboxStats(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "outbox stats", Data: counts})
}

func (h *PaymentHandler) requeueEntryHandler(c *gin.Context) {
	const op = "transport.requeueEntryHandler"

	entryID, ok := h.pathUUID(c, op, "entry_id")
	if !ok {
		return
	}

	if err := h.svc.RequeueOutboxEntry(c.Request.Context(), entryID); err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "entry requeued"})
}

func (h *PaymentHandler) requeueFailedHandler(c *gin.Context) {
	const op = "transport.requeueFailedHandler"

	count, err := h.svc.RequeueFailedEntries(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "failed entries requeued",
		Data:    gin.H{"requeued": count},
	})
}

// auditQueryHandler serves the operator view of the audit trail, filtered
// by actor type or by an RFC 3339 time window.
func (h *PaymentHandler) auditQueryHandler(c *gin.Context) {
	const op = "transport.auditQueryHandler"

	limit, offset := h.pagination(c)

	if actor := c.Query("actor_type"); actor != "" {
		entries, err := h.svc.AuditByActor(c.Request.Context(), entity.ActorType(actor), limit, offset)
		if err != nil {
			h.handleServiceError(c, err, op)
			return
		}
		c.JSON(http.StatusOK, SuccessResponse{Message: "audit entries", Data: entries})
		return
	}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "from must be RFC 3339"})
		return
	}
	to := time.Now()
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "to must be RFC 3339"})
			return
		}
	}

	entries, err := h.svc.AuditByTimeRange(c.Request.Context(), from, to, limit, offset)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "audit entries", Data: entries})
}
