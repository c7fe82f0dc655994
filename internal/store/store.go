package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/example/busticket/internal/models"
)

// ErrDuplicateEmail is returned when a user row with the same normalized email exists.
var ErrDuplicateEmail = errors.New("email already registered")

// Store is the credential store backing authentication. Lookup misses return a nil
// record and a nil error; any returned error means the backing database failed.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	CreateUser(ctx context.Context, user NewUser) (*models.User, error)
	UpdateUser(ctx context.Context, id uint, update UserUpdate) (*models.User, error)

	FindSessionByToken(ctx context.Context, token string, notExpiredAsOf time.Time) (*models.Session, error)
	CreateSession(ctx context.Context, userID uint, token string, expiresAt time.Time) (*models.Session, error)
	DeleteSessionByToken(ctx context.Context, token string) (int64, error)

	DeleteActiveOTPs(ctx context.Context, email string, now time.Time) (int64, error)
	CreateOTP(ctx context.Context, otp *models.OTPCode) error
	FindActiveOTP(ctx context.Context, email string, now time.Time) (*models.OTPCode, error)
	IncrementOTPAttempts(ctx context.Context, id uint, expected int) (bool, error)
	MarkOTPUsed(ctx context.Context, id uint, usedAt time.Time) (bool, error)

	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// NewUser describes a user row to insert. Name and PasswordHash are optional.
type NewUser struct {
	Email        string
	Name         *string
	PasswordHash *string
	Verified     bool
}

// UserUpdate lists the mutable user columns; nil fields are left untouched.
type UserUpdate struct {
	Name         *string
	PasswordHash *string
	Verified     *bool
	UpdatedAt    time.Time
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// WithTx runs fn against a store bound to a single transaction. The transaction is
// rolled back when fn returns an error.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	result := s.db.WithContext(ctx).Where("email = ?", email).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("find user by email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &user, nil
}

func (s *GormStore) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("find user by id: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &user, nil
}

func (s *GormStore) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	user := models.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		Verified:     in.Verified,
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

func (s *GormStore) UpdateUser(ctx context.Context, id uint, update UserUpdate) (*models.User, error) {
	fields := map[string]interface{}{}
	if update.Name != nil {
		fields["name"] = *update.Name
	}
	if update.PasswordHash != nil {
		fields["password_hash"] = *update.PasswordHash
	}
	if update.Verified != nil {
		fields["verified"] = *update.Verified
	}
	if !update.UpdatedAt.IsZero() {
		fields["updated_at"] = update.UpdatedAt
	}

	if len(fields) > 0 {
		result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumns(fields)
		if result.Error != nil {
			return nil, fmt.Errorf("update user: %w", result.Error)
		}
	}

	return s.FindUserByID(ctx, id)
}

func (s *GormStore) FindSessionByToken(ctx context.Context, token string, notExpiredAsOf time.Time) (*models.Session, error) {
	var session models.Session
	result := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, notExpiredAsOf).
		Limit(1).
		Find(&session)
	if result.Error != nil {
		return nil, fmt.Errorf("find session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &session, nil
}

func (s *GormStore) CreateSession(ctx context.Context, userID uint, token string, expiresAt time.Time) (*models.Session, error) {
	session := models.Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &session, nil
}

func (s *GormStore) DeleteSessionByToken(ctx context.Context, token string) (int64, error) {
	result := s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete session: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteActiveOTPs removes unused, unexpired codes for email.
func (s *GormStore) DeleteActiveOTPs(ctx context.Context, email string, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("email = ? AND used_at IS NULL AND expires_at > ?", email, now).
		Delete(&models.OTPCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete active otps: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) CreateOTP(ctx context.Context, otp *models.OTPCode) error {
	if err := s.db.WithContext(ctx).Create(otp).Error; err != nil {
		return fmt.Errorf("create otp: %w", err)
	}
	return nil
}

// FindActiveOTP returns the newest unused, unexpired code for email.
func (s *GormStore) FindActiveOTP(ctx context.Context, email string, now time.Time) (*models.OTPCode, error) {
	var otp models.OTPCode
	result := s.db.WithContext(ctx).
		Where("email = ? AND used_at IS NULL AND expires_at > ?", email, now).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&otp)
	if result.Error != nil {
		return nil, fmt.Errorf("find active otp: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &otp, nil
}

// IncrementOTPAttempts bumps the attempts counter only if it still equals expected,
// reporting false when a concurrent verification got there first.
func (s *GormStore) IncrementOTPAttempts(ctx context.Context, id uint, expected int) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.OTPCode{}).
		Where("id = ? AND attempts = ? AND used_at IS NULL", id, expected).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if result.Error != nil {
		return false, fmt.Errorf("increment otp attempts: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkOTPUsed consumes the code, reporting false if it was already consumed.
func (s *GormStore) MarkOTPUsed(ctx context.Context, id uint, usedAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.OTPCode{}).
		Where("id = ? AND used_at IS NULL", id).
		UpdateColumn("used_at", usedAt)
	if result.Error != nil {
		return false, fmt.Errorf("mark otp used: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
