package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/database/testutil"
	apperrors "github.com/parleyhq/parley/pkg/errors"
)

func newUserService(t *testing.T, db *gorm.DB, clock *time.Time) *UserService {
	t.Helper()

	jwtService, err := NewJWTService(JWTConfig{Secret: "test-secret", Issuer: "parley-test"})
	require.NoError(t, err)

	cfg := LockoutConfig{Threshold: 3, Duration: 15 * time.Minute}
	if clock != nil {
		cfg.Clock = func() time.Time { return *clock }
	}

	svc, err := NewUserService(db, jwtService, cfg)
	require.NoError(t, err)
	return svc
}

func TestUserService_RegisterAndLogin(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Email:    "Alice@Example.com",
		Name:     "Alice",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.NotEqual(t, "correct horse battery", user.Password)

	token, loggedIn, err := svc.Login(ctx, LoginInput{
		Email:    "alice@example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, user.ID, loggedIn.ID)
	require.NotNil(t, loggedIn.LastLoginAt)

	_, err = svc.Register(ctx, RegisterInput{
		Email:    "alice@example.com",
		Name:     "Alice",
		Password: "another password",
	})
	require.Error(t, err)
}

func TestUserService_RegisterValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db, nil)
	ctx := context.Background()

	cases := []RegisterInput{
		{Email: "not-an-email", Name: "Bob", Password: "long enough pw"},
		{Email: "bob@example.com", Name: "B", Password: "long enough pw"},
		{Email: "bob@example.com", Name: "Bob", Password: "short"},
	}
	for i, input := range cases {
		_, err := svc.Register(ctx, input)
		require.Error(t, err, "case %d", i)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, "VALIDATION_ERROR", appErr.Code)
	}
}

func TestUserService_LockoutAfterRepeatedFailures(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc := newUserService(t, db, &now)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{
		Email:    "carol@example.com",
		Name:     "Carol",
		Password: "the real password",
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := svc.Login(ctx, LoginInput{
			Email:    "carol@example.com",
			Password: fmt.Sprintf("wrong-%d", i),
		})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}

	// Locked now, even with the correct password.
	_, _, err = svc.Login(ctx, LoginInput{
		Email:    "carol@example.com",
		Password: "the real password",
	})
	require.ErrorIs(t, err, apperrors.ErrAccountLocked)

	// The lockout expires on its own.
	now = now.Add(16 * time.Minute)
	token, _, err := svc.Login(ctx, LoginInput{
		Email:    "carol@example.com",
		Password: "the real password",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestUserService_LoginUnknownUser(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db, nil)

	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "ghost@example.com",
		Password: "whatever",
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}
