package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"

	"github.com/example/busticket/internal/metrics"
	"github.com/example/busticket/internal/models"
	"github.com/example/busticket/internal/ratelimit"
	"github.com/example/busticket/internal/store"
	"github.com/example/busticket/internal/utils"
)

const (
	minNameLength     = 2
	minPasswordLength = 6
	otpMin            = 100000
	otpMax            = 999999
	maxIncrementTries = 3
)

// AuthOptions carries the process-wide settings injected at construction.
type AuthOptions struct {
	JWTSecret      string
	SessionTTL     time.Duration
	OTPTTL         time.Duration
	OTPMaxAttempts int
	BcryptCost     int
}

// RequestLimiter throttles OTP generation; nil disables throttling.
type RequestLimiter interface {
	Allow(ctx context.Context, email string) error
}

// AuthService implements registration, login, OTP and session verification.
type AuthService struct {
	store    store.Store
	notifier Notifier
	limiter  RequestLimiter
	log      *zap.Logger
	opts     AuthOptions
	now      func() time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(st store.Store, notifier Notifier, log *zap.Logger, opts AuthOptions) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		store:    st,
		notifier: notifier,
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithLimiter enables OTP request throttling.
func (s *AuthService) WithLimiter(l RequestLimiter) *AuthService {
	s.limiter = l
	return s
}

// WithClock overrides the time source.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = func() time.Time { return now().UTC() }
	return s
}

// AuthResult is returned by every flow that opens a session.
type AuthResult struct {
	Token string
	User  *models.User
}

// OTPIssue reports a generated code. Delivered is false when the notifier failed;
// the code is stored either way.
type OTPIssue struct {
	Email       string
	Delivered   bool
	DeliveryErr error
}

// RegisterInput holds the registration form.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a verified password account and opens a session.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (result *AuthResult, err error) {
	defer s.observe("register", time.Now(), &err)

	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, ErrMissingFields
	}

	name := strings.TrimSpace(in.Name)
	if textLength(name) < minNameLength {
		return nil, ErrInvalidName
	}

	email := utils.NormalizeEmail(in.Email)
	if !utils.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	if textLength(in.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := utils.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		user, err := tx.CreateUser(ctx, store.NewUser{
			Email:        email,
			Name:         &name,
			PasswordHash: &hash,
			Verified:     true,
		})
		if err != nil {
			return err
		}

		token, err := s.issueSession(ctx, tx, user)
		if err != nil {
			return err
		}
		result = &AuthResult{Token: token, User: user}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("user registered", zap.Uint("user_id", result.User.ID))
	return result, nil
}

// Login checks email and password. Unknown emails, OTP-only accounts and wrong
// passwords all yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (result *AuthResult, err error) {
	defer s.observe("login", time.Now(), &err)

	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	user, err := s.store.FindUserByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasPassword() || !utils.CheckPassword(*user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.issueSession(ctx, s.store, user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

// Logout deletes the session row whose token matches exactly. Other sessions of
// the same user stay valid.
func (s *AuthService) Logout(ctx context.Context, token string) (err error) {
	defer s.observe("logout", time.Now(), &err)

	if token == "" {
		return ErrLogoutTokenRequired
	}

	deleted, err := s.store.DeleteSessionByToken(ctx, token)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AuthenticateHeader resolves an "Authorization: Bearer <token>" header value.
func (s *AuthService) AuthenticateHeader(ctx context.Context, header string) (*models.User, error) {
	token, _ := BearerToken(header)
	return s.Authenticate(ctx, token)
}

// Authenticate checks the token signature and expiry, then requires a live session
// row, then loads the user named by the token.
func (s *AuthService) Authenticate(ctx context.Context, token string) (user *models.User, err error) {
	defer s.observe("authenticate", time.Now(), &err)

	if token == "" {
		return nil, ErrMissingToken
	}

	now := s.now()
	claims, err := utils.ParseToken(s.opts.JWTSecret, token, now)
	if err != nil {
		s.log.Debug("token rejected", zap.Error(err))
		return nil, ErrInvalidToken
	}

	session, err := s.store.FindSessionByToken(ctx, token, now)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionExpired
	}

	user, err = s.store.FindUserByID(ctx, claims.ResolvedUserID())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GenerateOTP replaces any active code for email with a fresh one, creating an
// unverified user on first contact, then hands the code to the notifier.
func (s *AuthService) GenerateOTP(ctx context.Context, rawEmail string) (issue *OTPIssue, err error) {
	defer s.observe("otp_generate", time.Now(), &err)

	email := utils.NormalizeEmail(rawEmail)
	if !utils.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, email); err != nil {
			if ratelimit.IsLimited(err) {
				return nil, ErrOTPRateLimited
			}
			return nil, fmt.Errorf("otp limiter: %w", err)
		}
	}

	code, err := generateOTPCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	hashed, err := utils.HashPassword(code, s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}

	now := s.now()
	var displayName string
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.DeleteActiveOTPs(ctx, email, now); err != nil {
			return err
		}

		user, err := tx.FindUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user == nil {
			user, err = tx.CreateUser(ctx, store.NewUser{Email: email})
			if err != nil {
				return err
			}
		}
		displayName = user.DisplayName()

		return tx.CreateOTP(ctx, &models.OTPCode{
			UserID:     user.ID,
			Email:      email,
			HashedCode: hashed,
			ExpiresAt:  now.Add(s.opts.OTPTTL),
		})
	})
	if err != nil {
		return nil, err
	}

	issue = &OTPIssue{Email: email, Delivered: true}
	if err := s.notifier.SendOTP(ctx, email, code, displayName); err != nil {
		s.log.Warn("failed to send otp email", zap.String("recipient", email), zap.Error(err))
		issue.Delivered = false
		issue.DeliveryErr = err
	}
	metrics.ObserveOTPDelivery(issue.Delivered)

	return issue, nil
}

// VerifyOTP redeems the newest active code for email. The fifth wrong guess burns
// the code; a correct guess marks the user verified and opens a session.
func (s *AuthService) VerifyOTP(ctx context.Context, rawEmail, code string) (result *AuthResult, err error) {
	defer s.observe("otp_verify", time.Now(), &err)

	if rawEmail == "" || code == "" {
		return nil, ErrMissingFields
	}
	email := utils.NormalizeEmail(rawEmail)
	if !utils.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !utils.ValidOTP(code) {
		return nil, ErrInvalidOTPFormat
	}

	now := s.now()
	var outcome error
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		result, outcome = nil, nil

		otp, err := tx.FindActiveOTP(ctx, email, now)
		if err != nil {
			return err
		}

		for try := 0; ; try++ {
			if otp == nil {
				outcome = ErrOTPNotFound
				return nil
			}
			if otp.Expired(now) {
				outcome = ErrOTPExpired
				return nil
			}
			if otp.Attempts >= s.opts.OTPMaxAttempts {
				if _, err := tx.MarkOTPUsed(ctx, otp.ID, now); err != nil {
					return err
				}
				outcome = ErrTooManyAttempts
				return nil
			}

			if utils.CheckPassword(otp.HashedCode, code) {
				break
			}

			ok, err := tx.IncrementOTPAttempts(ctx, otp.ID, otp.Attempts)
			if err != nil {
				return err
			}
			if !ok {
				if try >= maxIncrementTries {
					return fmt.Errorf("otp %d: attempts counter still contended after %d retries", otp.ID, try)
				}
				// Another verification moved the counter; retry against the fresh row.
				if otp, err = tx.FindActiveOTP(ctx, email, now); err != nil {
					return err
				}
				continue
			}

			attempts := otp.Attempts + 1
			if attempts >= s.opts.OTPMaxAttempts {
				if _, err := tx.MarkOTPUsed(ctx, otp.ID, now); err != nil {
					return err
				}
				outcome = ErrTooManyAttempts
				return nil
			}
			outcome = invalidOTP(s.opts.OTPMaxAttempts - attempts)
			return nil
		}

		consumed, err := tx.MarkOTPUsed(ctx, otp.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			outcome = ErrOTPNotFound
			return nil
		}

		verified := true
		user, err := tx.UpdateUser(ctx, otp.UserID, store.UserUpdate{Verified: &verified, UpdatedAt: now})
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("otp %d references missing user %d", otp.ID, otp.UserID)
		}

		token, err := s.issueSession(ctx, tx, user)
		if err != nil {
			return err
		}
		result = &AuthResult{Token: token, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return nil, outcome
	}
	return result, nil
}

// issueSession signs a token for user and records it as a session with the same expiry.
func (s *AuthService) issueSession(ctx context.Context, st store.Store, user *models.User) (string, error) {
	now := s.now()
	token, err := utils.GenerateToken(s.opts.JWTSecret, user.ID, user.Email, now, s.opts.SessionTTL)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if _, err := st.CreateSession(ctx, user.ID, token, now.Add(s.opts.SessionTTL)); err != nil {
		return "", err
	}
	return token, nil
}

func (s *AuthService) observe(operation string, started time.Time, err *error) {
	outcome := metrics.OutcomeSuccess
	if *err != nil {
		outcome = ErrorCode(*err)
	}
	metrics.ObserveOperation(operation, outcome, started)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// textLength counts UTF-16 code units, so characters outside the BMP count twice.
func textLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}
