package handlers

import (
	"bytes"

	"github.com/gofiber/fiber/v2"

	"github.com/example/busticket/internal/middleware"
	"github.com/example/busticket/internal/services"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	auth *services.AuthService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

type otpGenerateRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// parseBody decodes a JSON body into dst whatever the Content-Type. An empty body leaves
// dst zeroed so the operation reports its own missing-field error.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return nil
	}
	if err := c.App().Config().JSONDecoder(body, dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

// Register creates a password account and opens a session.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Register(c.UserContext(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"token":   res.Token,
		"user":    res.User.Public(),
	})
}

// Login authenticates with email and password.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"token":   res.Token,
		"user":    res.User.Public(),
	})
}

// Logout revokes the session named in the request body.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req logoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := h.auth.Logout(c.UserContext(), req.Token); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Me returns the user resolved by middleware.AuthMiddleware.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		return services.ErrMissingToken
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user":    user.Public(),
	})
}

// GenerateOTP issues a fresh code for the email and attempts delivery.
func (h *AuthHandler) GenerateOTP(c *fiber.Ctx) error {
	var req otpGenerateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	issue, err := h.auth.GenerateOTP(c.UserContext(), req.Email)
	if err != nil {
		return err
	}

	message := "OTP sent to your email"
	if !issue.Delivered {
		message = "OTP generated but the email could not be delivered"
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":   true,
		"email":     issue.Email,
		"message":   message,
		"delivered": issue.Delivered,
	})
}

// VerifyOTP redeems a code and opens a session.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var req otpVerifyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	res, err := h.auth.VerifyOTP(c.UserContext(), req.Email, req.OTP)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"token":    res.Token,
		"userId":   res.User.ID,
		"email":    res.User.Email,
		"name":     res.User.Name,
		"verified": res.User.Verified,
	})
}
