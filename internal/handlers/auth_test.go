package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/busticket/internal/middleware"
	"github.com/example/busticket/internal/services"
	"github.com/example/busticket/internal/store"
	"github.com/example/busticket/internal/testkit"
)

type capturingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func (n *capturingNotifier) SendOTP(_ context.Context, email, code, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codes == nil {
		n.codes = map[string]string{}
	}
	n.codes[email] = code
	if n.fail {
		return errors.New("relay refused")
	}
	return nil
}

func (n *capturingNotifier) code(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[email]
}

func newTestApp(t *testing.T) (*fiber.App, *capturingNotifier) {
	t.Helper()

	db := testkit.NewSQLite(t)
	notifier := &capturingNotifier{}
	auth := services.NewAuthService(store.NewGormStore(db), notifier, zap.NewNop(), services.AuthOptions{
		JWTSecret:      "handler-secret",
		SessionTTL:     24 * time.Hour,
		OTPTTL:         10 * time.Minute,
		OTPMaxAttempts: 5,
		BcryptCost:     bcrypt.MinCost,
	})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	h := NewAuthHandler(auth)

	app.Get("/healthz", NewHealthHandler(db).Check)
	api := app.Group("/api/auth")
	api.Post("/register", h.Register)
	api.Post("/login", h.Login)
	api.Post("/logout", h.Logout)
	api.Get("/me", middleware.AuthMiddleware(auth), h.Me)
	api.Post("/otp/generate", h.GenerateOTP)
	api.Post("/otp/verify", h.VerifyOTP)
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("database exploded") })

	return app, notifier
}

func call(t *testing.T, app *fiber.App, method, path, body, token string) (int, map[string]interface{}) {
	t.Helper()

	req := newRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, app, req)
}

func newRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return httptest.NewRequest(method, path, reader)
}

func send(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]interface{}) {
	t.Helper()

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestRegisterLoginMeLogout(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := call(t, app, http.MethodPost, "/api/auth/register",
		`{"name":"Jo Li","email":"JO@B.COM","password":"secret1"}`, "")
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, true, body["success"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "jo@b.com", user["email"])
	assert.Equal(t, "Jo Li", user["name"])
	assert.Equal(t, true, user["verified"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotContains(t, user, "PasswordHash")

	status, body = call(t, app, http.MethodPost, "/api/auth/login",
		`{"email":"jo@b.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusOK, status, body)
	token := body["token"].(string)

	status, body = call(t, app, http.MethodGet, "/api/auth/me", "", token)
	require.Equal(t, http.StatusOK, status, body)
	me := body["user"].(map[string]interface{})
	assert.Equal(t, "jo@b.com", me["email"])
	assert.NotEmpty(t, me["createdAt"])

	status, body = call(t, app, http.MethodPost, "/api/auth/logout", `{"token":"`+token+`"}`, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Logged out successfully", body["message"])

	status, body = call(t, app, http.MethodGet, "/api/auth/me", "", token)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "SESSION_EXPIRED", body["code"])

	status, body = call(t, app, http.MethodPost, "/api/auth/logout", `{"token":"`+token+`"}`, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
}

func TestErrorResponses(t *testing.T) {
	app, _ := newTestApp(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"register malformed json", http.MethodPost, "/api/auth/register", `{"name":`, http.StatusBadRequest, "BAD_REQUEST"},
		{"register wrong field type", http.MethodPost, "/api/auth/register", `{"name":"Jo","email":42,"password":"secret1"}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"register empty body", http.MethodPost, "/api/auth/register", "", http.StatusBadRequest, "MISSING_FIELDS"},
		{"register short name", http.MethodPost, "/api/auth/register", `{"name":"J","email":"a@b.com","password":"secret1"}`, http.StatusBadRequest, "INVALID_NAME"},
		{"login unknown", http.MethodPost, "/api/auth/login", `{"email":"x@b.com","password":"secret1"}`, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"login empty body", http.MethodPost, "/api/auth/login", "", http.StatusBadRequest, "MISSING_FIELDS"},
		{"logout without token", http.MethodPost, "/api/auth/logout", `{}`, http.StatusBadRequest, "MISSING_TOKEN"},
		{"me without header", http.MethodGet, "/api/auth/me", "", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"otp generate bad email", http.MethodPost, "/api/auth/otp/generate", `{"email":"nope"}`, http.StatusBadRequest, "INVALID_EMAIL"},
		{"otp generate malformed json", http.MethodPost, "/api/auth/otp/generate", `not json`, http.StatusBadRequest, "BAD_REQUEST"},
		{"logout malformed json", http.MethodPost, "/api/auth/logout", `{"token":`, http.StatusBadRequest, "BAD_REQUEST"},
		{"otp verify bad format", http.MethodPost, "/api/auth/otp/verify", `{"email":"a@b.com","otp":"12345"}`, http.StatusBadRequest, "INVALID_OTP_FORMAT"},
		{"otp verify unknown", http.MethodPost, "/api/auth/otp/verify", `{"email":"a@b.com","otp":"123456"}`, http.StatusNotFound, "OTP_NOT_FOUND"},
		{"unexpected failure", http.MethodGet, "/boom", "", http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := call(t, app, tc.method, tc.path, tc.body, "")
			assert.Equal(t, tc.status, status, body)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestMeWithGarbageToken(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := call(t, app, http.MethodGet, "/api/auth/me", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", body["code"])
}

func TestOTPFlow(t *testing.T) {
	app, notifier := newTestApp(t)

	status, body := call(t, app, http.MethodPost, "/api/auth/otp/generate", `{"email":" Rider@B.com "}`, "")
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "rider@b.com", body["email"])
	assert.Equal(t, true, body["delivered"])
	assert.NotEmpty(t, body["message"])

	status, body = call(t, app, http.MethodPost, "/api/auth/otp/verify", `{"email":"rider@b.com","otp":"000000"}`, "")
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_OTP", body["code"])
	assert.EqualValues(t, 4, body["attemptsRemaining"])

	code := notifier.code("rider@b.com")
	status, body = call(t, app, http.MethodPost, "/api/auth/otp/verify", `{"email":"rider@b.com","otp":"`+code+`"}`, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "rider@b.com", body["email"])
	assert.Equal(t, true, body["verified"])
	assert.Nil(t, body["name"])
	assert.NotZero(t, body["userId"])

	status, _ = call(t, app, http.MethodGet, "/api/auth/me", "", body["token"].(string))
	assert.Equal(t, http.StatusOK, status)
}

func TestOTPGenerateReportsDeliveryFailure(t *testing.T) {
	app, notifier := newTestApp(t)
	notifier.fail = true

	status, body := call(t, app, http.MethodPost, "/api/auth/otp/generate", `{"email":"down@b.com"}`, "")
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, false, body["delivered"])
	assert.Equal(t, true, body["success"])
}

func TestHealthz(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := call(t, app, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := call(t, app, http.MethodGet, "/api/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestBodyDecodedWithoutContentType(t *testing.T) {
	app, notifier := newTestApp(t)

	status, body := send(t, app, newRequest(http.MethodPost, "/api/auth/register",
		`{"name":"Jo Li","email":"plain@b.com","password":"secret1"}`))
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "plain@b.com", body["user"].(map[string]interface{})["email"])

	req := newRequest(http.MethodPost, "/api/auth/otp/generate", `{"email":"plain@b.com"}`)
	req.Header.Set("Content-Type", "text/plain")
	status, body = send(t, app, req)
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, notifier.code("plain@b.com"))

	status, body = send(t, app, newRequest(http.MethodPost, "/api/auth/login", `{"email":`))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", body["code"])
	assert.Equal(t, "invalid request body", body["error"])
}
