// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelope shared by every endpoint. Errors
// always serialize as an ErrorResponse with a stable machine-readable code,
// so clients can branch on "insufficient_credits" versus "not_found" without
// parsing prose, and the request id ties a client-visible failure back to
// the server log line. 5xx responses additionally log through the
// request-scoped logger before the body is written.
//
// Example error response:
//
//	HTTP/1.1 402 Payment Required
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "insufficient_credits",
//	  "message": "checkup submission requires 100 credits"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medmind/go-derm-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints. Code is a
// stable machine-readable string (see errors.go); Message is safe to show
// to the doctor; RequestID echoes X-Request-ID for log correlation.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"insufficient_credits"`
	Message   string `json:"message" example:"checkup submission requires 100 credits"`
}

// fail aborts the request with a structured error envelope. Server-side
// errors (>= 500) are logged with the request-scoped logger so the
// request id on the envelope matches a log line.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail, for router-level fallbacks
// (unmatched routes, disallowed methods) that live outside this package's
// handler funcs.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
