// Package response provides the JSON envelope every API handler returns.
package response

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"secretary_server/pkg/apperr"
)

// =============================================================================
// Standard API Response
// =============================================================================

// Response is the standard API response structure.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Meta      *Meta      `json:"meta,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta carries list metadata.
type Meta struct {
	Total int `json:"total"`
	Limit int `json:"limit,omitempty"`
}

func envelope(c *fiber.Ctx) Response {
	requestID, _ := c.Locals("request_id").(string)
	return Response{RequestID: requestID, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// =============================================================================
// Response Builders
// =============================================================================

// OK returns a successful response.
func OK(c *fiber.Ctx, data any) error {
	r := envelope(c)
	r.Success, r.Data = true, data
	return c.JSON(r)
}

// List returns a successful response with a total count.
func List[T any](c *fiber.Ctx, items []T, limit int) error {
	if items == nil {
		items = []T{}
	}
	r := envelope(c)
	r.Success, r.Data = true, items
	r.Meta = &Meta{Total: len(items), Limit: limit}
	return c.JSON(r)
}

// Created returns 201.
func Created(c *fiber.Ctx, data any) error {
	c.Status(fiber.StatusCreated)
	return OK(c, data)
}

// Accepted returns 202 for work handed to the queue.
func Accepted(c *fiber.Ctx, data any) error {
	c.Status(fiber.StatusAccepted)
	return OK(c, data)
}

// NoContent returns 204.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Error returns an error response.
func Error(c *fiber.Ctx, status int, code, message string) error {
	r := envelope(c)
	r.Error = &ErrorInfo{Code: code, Message: message}
	return c.Status(status).JSON(r)
}

// FromError renders err, using its AppError code and status when present.
func FromError(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	r := envelope(c)
	r.Error = &ErrorInfo{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	return c.Status(appErr.HTTPStatus()).JSON(r)
}

// BadRequest returns a 400 bad request response.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, apperr.CodeBadRequest, message)
}

// Unauthorized returns a 401 unauthorized response.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, apperr.CodeUnauthorized, message)
}

// NotFound returns a 404 not found response.
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, apperr.CodeNotFound, message)
}
