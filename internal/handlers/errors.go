package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/session"
	"github.com/example/mammo-check/internal/upload"
	"github.com/example/mammo-check/internal/usecase"
)

func writeDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		vErr *upload.ValidationError
		pErr *predictclient.PredictionError
	)
	switch {
	case errors.As(err, &vErr):
		status := http.StatusUnsupportedMediaType
		if vErr.TooLarge() {
			status = http.StatusRequestEntityTooLarge
		}
		writeDetail(c, status, vErr.Reason)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed):
		writeDetail(c, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrAnalysisInProgress):
		writeDetail(c, http.StatusConflict, err.Error())
	case errors.As(err, &pErr):
		writeDetail(c, predictionStatus(pErr), pErr.Error())
	case errors.Is(err, usecase.ErrAnalysisNotFound):
		writeDetail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, usecase.ErrAuditDisabled):
		writeDetail(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeDetail(c, http.StatusGatewayTimeout, predictclient.MsgTimeout)
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		writeDetail(c, http.StatusInternalServerError, "internal error")
	}
}

// predictionStatus keeps backend client errors as they are and reports every
// other backend failure as a gateway error.
func predictionStatus(err *predictclient.PredictionError) int {
	switch err.Kind {
	case predictclient.KindTimeout:
		return http.StatusGatewayTimeout
	case predictclient.KindRemote:
		if err.StatusCode >= 400 && err.StatusCode < 500 {
			return err.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) writeUploadError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeDetail(c, http.StatusRequestEntityTooLarge, upload.ReasonTooLarge)
		return
	}
	if errors.Is(err, http.ErrMissingFile) {
		writeDetail(c, http.StatusBadRequest, "file field is required")
		return
	}
	h.logger.Debug("malformed upload", zap.Error(err))
	writeDetail(c, http.StatusBadRequest, "invalid multipart body")
}
