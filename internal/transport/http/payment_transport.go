package httpt

import (
	"paycore/internal/reconciler"
	"paycore/internal/service"
	"paycore/pkg/logger"
	"paycore/pkg/metric"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	svc        *service.PaymentService
	reconciler *reconciler.Reconciler
	log        logger.Logger
	metrics    metric.HTTP
	router     *gin.Engine
}

func NewPaymentHandler(
	svc *service.PaymentService,
	rec *reconciler.Reconciler,
	log logger.Logger,
	metrics metric.HTTP,
) *PaymentHandler {
	h := &PaymentHandler{
		svc:        svc,
		reconciler: rec,
		log:        log,
		metrics:    metrics,
	}

	router := gin.New()

	router.Use(h.requestIDMiddleware())
	router.Use(h.loggingMiddleware())
	router.Use(gin.Recovery())

	h.router = router
	h.setupRoutes()

	return h
}

func (h *PaymentHandler) Engine() *gin.Engine {
	return h.router
}
