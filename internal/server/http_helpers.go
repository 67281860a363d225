package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tabletop-signup/internal/apperr"
)

const retryAfterSeconds = "1"

func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrForbidden:
		return http.StatusForbidden
	case apperr.ErrInvalidState, apperr.ErrAlreadyVoted, apperr.ErrAlreadyVotedThisOption, apperr.ErrCannotRemoveVotedOption:
		return http.StatusConflict
	case apperr.ErrConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var fieldErr *apperr.FieldError
	if errors.As(err, &fieldErr) {
		body["field"] = fieldErr.Field
	}
	switch status {
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", retryAfterSeconds)
		s.logger.Warn("request conflicted", zap.String("path", c.FullPath()), zap.Error(err))
	case http.StatusInternalServerError:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}
