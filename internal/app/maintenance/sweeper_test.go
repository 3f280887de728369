package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/database/testutil"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/services"
)

func seedMeeting(t *testing.T, db *gorm.DB, endTime time.Time, endedAt *time.Time) *models.Meeting {
	t.Helper()

	user := models.User{Email: endTime.String() + "@example.com", Name: endTime.String(), Password: "x"}
	require.NoError(t, db.Create(&user).Error)

	meeting := models.Meeting{
		Title:     "Sweep target",
		StartTime: endTime.Add(-time.Hour),
		EndTime:   endTime,
		CreatedBy: user.ID,
		EndedAt:   endedAt,
	}
	require.NoError(t, db.Create(&meeting).Error)
	return &meeting
}

func TestSweeper_EndOverdueMeetings(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sweeper := NewSweeper(db, audit, WithNow(func() time.Time { return now }))

	overdue := seedMeeting(t, db, now.Add(-25*time.Hour), nil)
	recent := seedMeeting(t, db, now.Add(-time.Hour), nil)
	alreadyEnded := seedMeeting(t, db, now.Add(-48*time.Hour), &now)

	swept, err := sweeper.EndOverdueMeetings(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, swept)

	var reloaded models.Meeting
	require.NoError(t, db.First(&reloaded, "id = ?", overdue.ID).Error)
	require.NotNil(t, reloaded.EndedAt)

	reloaded = models.Meeting{}
	require.NoError(t, db.First(&reloaded, "id = ?", recent.ID).Error)
	require.Nil(t, reloaded.EndedAt)

	history, err := audit.History(context.Background(), overdue.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.AuditEnded, history[0].Action)

	// Already-ended meetings are untouched and gain no extra entries.
	history, err = audit.History(context.Background(), alreadyEnded.ID)
	require.NoError(t, err)
	require.Empty(t, history)

	// A second sweep finds nothing.
	swept, err = sweeper.EndOverdueMeetings(context.Background())
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestSweeper_RunOnceCoversRetention(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	endedAt := time.Now().AddDate(0, 0, -120)
	stale := seedMeeting(t, db, endedAt.Add(-time.Hour), &endedAt)
	require.NoError(t, audit.Append(context.Background(), nil, services.AuditEntry{
		MeetingID: stale.ID,
		UserID:    stale.CreatedBy,
		Action:    models.AuditCreated,
	}))

	sweeper := NewSweeper(db, audit, WithAuditRetentionDays(90))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	history, err := audit.History(context.Background(), stale.ID)
	require.NoError(t, err)
	require.Empty(t, history)
}
