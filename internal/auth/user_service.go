package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/pkg/crypto"
	apperrors "github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/validator"
)

// LockoutConfig tunes the failed-login lockout behaviour.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
	Clock     func() time.Time
}

// RegisterInput captures the details required to register a new account.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginInput contains the credentials and request metadata for a login attempt.
type LoginInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IPAddress string `json:"-"`
}

// UserService implements registration and email/password authentication with
// account lockout controls.
type UserService struct {
	db        *gorm.DB
	jwt       *JWTService
	clock     func() time.Time
	threshold int
	duration  time.Duration
}

// NewUserService builds the service with sane lockout defaults.
func NewUserService(db *gorm.DB, jwtService *JWTService, cfg LockoutConfig) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("user service: jwt service is required")
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	duration := cfg.Duration
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &UserService{
		db:        db,
		jwt:       jwtService,
		clock:     clock,
		threshold: threshold,
		duration:  duration,
	}, nil
}

// Register creates a new account with a hashed password.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Name = strings.TrimSpace(input.Name)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := models.User{
		Email:    input.Email,
		Name:     input.Name,
		Password: hash,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, apperrors.New("user.exists", "An account with this email or name already exists", 409)
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	return &user, nil
}

// Login verifies the credentials and returns a signed token for the account.
// Repeated failures lock the account for the configured duration.
func (s *UserService) Login(ctx context.Context, input LoginInput) (string, *models.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validator.ValidateStruct(input); err != nil {
		return "", nil, apperrors.NewValidation(err.Error())
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", input.Email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failed").Inc()
		return "", nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("user service: query user: %w", err)
	}

	now := s.clock().UTC()

	if !user.IsActive {
		metrics.AuthAttempts.WithLabelValues("failed").Inc()
		return "", nil, apperrors.ErrInvalidCredentials
	}

	if user.Locked(now) {
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		return "", nil, apperrors.ErrAccountLocked
	}

	// A lockout that has elapsed is cleared before the attempt is evaluated.
	if user.LockedUntil != nil {
		user.LockedUntil = nil
		user.FailedAttempts = 0
		if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
			"locked_until":    nil,
			"failed_attempts": 0,
		}).Error; err != nil {
			return "", nil, fmt.Errorf("user service: reset lock state: %w", err)
		}
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		metrics.AuthAttempts.WithLabelValues("failed").Inc()
		if err := s.recordFailedAttempt(ctx, &user, now); err != nil {
			return "", nil, err
		}
		return "", nil, apperrors.ErrInvalidCredentials
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now,
		"last_login_ip":   strings.TrimSpace(input.IPAddress),
		"login_count":     gorm.Expr("login_count + 1"),
	}).Error; err != nil {
		return "", nil, fmt.Errorf("user service: update login state: %w", err)
	}

	token, err := s.jwt.Issue(user.ID, user.Email, user.Name)
	if err != nil {
		return "", nil, err
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return token, &user, nil
}

// GetUser loads an account by id.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: query user: %w", err)
	}
	return &user, nil
}

func (s *UserService) recordFailedAttempt(ctx context.Context, user *models.User, now time.Time) error {
	user.FailedAttempts++

	updates := map[string]any{"failed_attempts": user.FailedAttempts}
	if user.FailedAttempts >= s.threshold {
		lockUntil := now.Add(s.duration)
		user.LockedUntil = &lockUntil
		updates["locked_until"] = lockUntil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("user service: update failed attempts: %w", err)
	}
	return nil
}
