package server

import (
	"errors"

	"bilimshare/internal/models"
	"bilimshare/internal/repository"
	"bilimshare/internal/service"

	"github.com/gofiber/fiber/v2"
)

// respondError writes err in the standard error shape, normalizing store
// errors first.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = repository.ToAppError(err)
	}
	return models.RespondWithAppError(c, appErr)
}

// respondResult writes the fault of a failed action, or body with status.
func respondResult(c *fiber.Ctx, res service.Result, status int, body any) error {
	if !res.OK {
		fault := res.Fault
		if fault == nil {
			fault = models.NewInternalError(errors.New(res.Message))
		}
		return models.RespondWithAppError(c, fault)
	}
	return c.Status(status).JSON(body)
}

// parseBody decodes the JSON body into dst, answering 400 on malformed input.
// Callers return nil when ok is false.
func parseBody(c *fiber.Ctx, dst any) (ok bool) {
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return false
	}
	return true
}
