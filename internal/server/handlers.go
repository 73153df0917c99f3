package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jittakal/actionstore/internal/ingest"
	"github.com/jittakal/actionstore/pkg/buffer"
)

// Ingestor accepts raw action request bodies.
type Ingestor interface {
	IngestJSON(ctx context.Context, body []byte, meta ingest.RequestMeta) (*ingest.Response, error)
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Success          bool         `json:"success"`
	Error            string       `json:"error"`
	Message          string       `json:"message"`
	RetryRecommended bool         `json:"retry_recommended"`
	Details          []FieldError `json:"details,omitempty"`
}

// FieldError is one validation failure.
type FieldError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ActionHandler serves action ingestion.
type ActionHandler struct {
	ingestor Ingestor
}

// NewActionHandler creates a new ActionHandler.
func NewActionHandler(ingestor Ingestor) *ActionHandler {
	return &ActionHandler{ingestor: ingestor}
}

// Ingest accepts a single action or an {"actions": [...]} batch.
// POST /api/v1/actions
func (h *ActionHandler) Ingest(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "payload_too_large",
				Message: "request body exceeds the configured limit",
			})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_body",
			Message: "could not read request body",
		})
		return
	}

	resp, err := h.ingestor.IngestJSON(c.Request.Context(), body, ingest.RequestMeta{
		RequestID: c.GetString(RequestIDKey),
		ClientIP:  c.ClientIP(),
	})

	var failure *ingest.ValidationFailure
	switch {
	case errors.As(err, &failure):
		details := make([]FieldError, 0, len(failure.Errors))
		for _, fe := range failure.Errors {
			details = append(details, FieldError{Index: fe.Index, Field: fe.Field, Message: fe.Reason})
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Message: failure.Error(),
			Details: details,
		})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:            "processing_failed",
			Message:          err.Error(),
			RetryRecommended: true,
		})
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// AdminHandler exposes buffer administration.
type AdminHandler struct {
	svc buffer.Service
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(svc buffer.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// Flush uploads the whole buffer.
// POST /api/v1/admin/buffer/flush
func (h *AdminHandler) Flush(c *gin.Context) {
	respondFlush(c, h.svc.Flush(c.Request.Context(), buffer.TriggerManual))
}

// FlushOld uploads only events older than the maximum age.
// POST /api/v1/admin/buffer/flush-old
func (h *AdminHandler) FlushOld(c *gin.Context) {
	respondFlush(c, h.svc.FlushOldActions(c.Request.Context()))
}

// Clear drops every buffered event without uploading.
// DELETE /api/v1/admin/buffer
func (h *AdminHandler) Clear(c *gin.Context) {
	res := h.svc.ClearBuffer()
	c.JSON(http.StatusOK, res)
}

// Status returns the live buffer view.
// GET /api/v1/admin/buffer/status
func (h *AdminHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetBufferStatus())
}

// Stats returns cumulative counters.
// GET /api/v1/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetStats())
}

func respondFlush(c *gin.Context, res buffer.FlushResult) {
	if !res.Success {
		c.JSON(http.StatusInternalServerError, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
