package api

import (
	"crypto/rand"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	Category      string `json:"category,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// StatusForError maps an error category to an HTTP status.
func StatusForError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as an ErrorResponse. Server errors are logged with
// the correlation id; their message is not echoed back.
func (s *Server) handleError(c echo.Context, err error, message string) error {
	code := StatusForError(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		Category:      string(errors.CategoryOf(err)),
		CorrelationID: generateCorrelationID(),
	}
	if code >= http.StatusInternalServerError {
		resp.Error = http.StatusText(code)
		s.log.WithContext(c.Request().Context()).Error("API error",
			logger.String("correlation_id", resp.CorrelationID),
			logger.String("message", message),
			logger.String("path", c.Request().URL.Path),
			logger.String("method", c.Request().Method),
			logger.Error(err))
	}
	return c.JSON(code, resp)
}

// httpErrorHandler renders echo errors such as 404 routes and 401 auth
// failures in the ErrorResponse shape.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	message := http.StatusText(StatusForError(err))
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if werr := s.handleError(c, err, message); werr != nil {
		s.log.Error("failed to write error response", logger.Error(werr))
	}
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
