// handlers/student_routes.go
package handlers

import (
	"context"
	"errors"

	"imi-student-dashboard/middleware"
	"imi-student-dashboard/services"

	"github.com/gofiber/fiber/v2"
)

// SetupStudentRoutes mounts profile and settings endpoints on the student router.
func SetupStudentRoutes(user fiber.Router, settings *services.SettingsService, ledger *services.LedgerService) {
	user.Get("/profile", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)

		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		student, err := settings.Profile(ctx, userID)
		if err != nil {
			return writeError(c, err)
		}

		response := fiber.Map{"student": student}
		view, err := ledger.GetBalance(ctx, userID)
		switch {
		case err == nil:
			response["xp"] = view
		case errors.Is(err, services.ErrUserNotFound):
			response["xp"] = nil
		default:
			return writeError(c, err)
		}
		return c.JSON(response)
	})

	user.Patch("/settings", func(c *fiber.Ctx) error {
		patch, err := services.DecodeSettingsPatch(c.Body())
		if err != nil {
			return writeError(c, err)
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		student, err := settings.Update(ctx, middleware.UserID(c), patch)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(student)
	})
}
