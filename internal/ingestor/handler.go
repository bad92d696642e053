package ingestor

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskflow/internal/logger"
	"taskflow/pkg/errors"
)

type Handler struct {
	service      *Service
	logger       logger.Logger
	maxBatchSize int
}

func NewHandler(service *Service, log logger.Logger, maxBatchSize int) *Handler {
	return &Handler{
		service:      service,
		logger:       log,
		maxBatchSize: maxBatchSize,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages", h.CreateMessage)
		v1.POST("/messages/batch", h.CreateBatch)
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) CreateMessage(c *gin.Context) {
	var req Message
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	id, err := h.service.IngestMessage(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, IngestResponse{MessageID: id})
}

func (h *Handler) CreateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if h.maxBatchSize > 0 && len(req.Messages) > h.maxBatchSize {
		err := errors.ErrValidation.WithMessage(fmt.Sprintf("batch exceeds %d messages", h.maxBatchSize))
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(err))
		return
	}

	ids := h.service.IngestBatch(c.Request.Context(), req.Messages)
	c.JSON(http.StatusAccepted, BatchResponse{
		MessageIDs: ids,
		Submitted:  len(req.Messages),
		Accepted:   len(ids),
	})
}
