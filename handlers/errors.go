package handlers

import (
	"errors"

	"imi-student-dashboard/services"

	"github.com/gofiber/fiber/v2"
)

// writeError maps service errors onto HTTP responses. Not-found and storage
// failures stay distinguishable for callers that provision and retry.
func writeError(c *fiber.Ctx, err error) error {
	var pe *services.PersistenceError
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": services.ErrUserNotFound.Error()})
	case errors.Is(err, services.ErrStudentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": services.ErrStudentNotFound.Error()})
	case errors.Is(err, services.ErrBalanceExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInvalidSettings):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrStorageDisabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &pe):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "storage failure",
			"cause": pe.Op,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
			"cause": err.Error(),
		})
	}
}
