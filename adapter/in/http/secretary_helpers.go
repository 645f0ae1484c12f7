package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"secretary_server/infra/middleware"
	"secretary_server/pkg/apperr"
)

// requireUser returns the authenticated user id.
func requireUser(c *fiber.Ctx) (string, error) {
	userID := middleware.UserID(c)
	if userID == "" {
		return "", apperr.Unauthorized("")
	}
	return userID, nil
}

// parseBody decodes a JSON body into T.
func parseBody[T any](c *fiber.Ctx) (*T, error) {
	var req T
	if err := c.BodyParser(&req); err != nil {
		return nil, apperr.BadRequest("invalid request body")
	}
	return &req, nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.MissingField(name)
	}
	return nil
}
