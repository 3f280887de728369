package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/database/testutil"
	"github.com/parleyhq/parley/internal/models"
)

// testClock is a controllable clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db        *gorm.DB
	clock     *testClock
	meetings  *MeetingService
	admission *AdmissionService
	audit     *AuditService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	clock := newTestClock()

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	meetings, err := NewMeetingService(db, audit, WithMeetingClock(clock.Now))
	require.NoError(t, err)

	admission, err := NewAdmissionService(db, audit, WithAdmissionClock(clock.Now))
	require.NoError(t, err)

	return &testEnv{db: db, clock: clock, meetings: meetings, admission: admission, audit: audit}
}

func seedUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	user := models.User{
		Email:    fmt.Sprintf("%s@example.com", name),
		Name:     name,
		Password: "hashed-password",
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func (env *testEnv) createMeeting(t *testing.T, ownerID string, mutate func(*CreateMeetingParams)) *models.Meeting {
	t.Helper()

	params := CreateMeetingParams{
		OwnerID:   ownerID,
		Title:     "Weekly sync",
		StartTime: env.clock.Now(),
		EndTime:   env.clock.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(&params)
	}

	meeting, err := env.meetings.Create(context.Background(), params)
	require.NoError(t, err)
	return meeting
}
