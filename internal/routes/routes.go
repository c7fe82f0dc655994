package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/example/busticket/internal/handlers"
	"github.com/example/busticket/internal/middleware"
	"github.com/example/busticket/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, auth *services.AuthService) {
	authHandler := handlers.NewAuthHandler(auth)
	healthHandler := handlers.NewHealthHandler(db)

	app.Get("/healthz", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Auth routes
	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/logout", authHandler.Logout)
	authGroup.Get("/me", middleware.AuthMiddleware(auth), authHandler.Me)

	// OTP
	otp := authGroup.Group("/otp")
	otp.Post("/generate", authHandler.GenerateOTP)
	otp.Post("/verify", authHandler.VerifyOTP)
}
