package handlers

import (
	"imi-student-dashboard/middleware"
	"imi-student-dashboard/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AppDeps is everything the HTTP layer needs.
type AppDeps struct {
	Ledger     *services.LedgerService
	Statements *services.StatementService
	Settings   *services.SettingsService

	ServiceToken   string
	UserAuth       middleware.UserAuthConfig
	AllowedOrigins string
	Log            *zap.Logger
}

// NewApp builds the fiber app with all routes mounted.
func NewApp(d AppDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
		AppName:   "imi-student-dashboard",
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     d.AllowedOrigins,
		AllowMethods:     "GET,POST,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, " + middleware.DevUserHeader,
		AllowCredentials: d.AllowedOrigins != "*",
		MaxAge:           86400,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if d.UserAuth.Log == nil {
		d.UserAuth.Log = d.Log
	}
	userAuth := middleware.UserAuth(d.UserAuth)

	service := app.Group("/s", middleware.GatewayAuth(d.ServiceToken, d.Log))
	user := app.Group("/user", userAuth)
	xp := app.Group("/xp", userAuth)

	SetupXPRoutes(service, user, xp, d.Ledger, d.Statements)
	SetupStudentRoutes(user, d.Settings, d.Ledger)

	return app
}
