package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/models"
)

func TestAuditService_AppendAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := seedUser(t, env.db, "owner")
	meeting := env.createMeeting(t, owner.ID, nil)

	require.NoError(t, env.audit.Append(ctx, nil, AuditEntry{
		MeetingID: meeting.ID,
		UserID:    owner.ID,
		Action:    models.AuditEnded,
		Details:   map[string]any{"reason": "manual"},
	}))

	history, err := env.audit.History(ctx, meeting.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.AuditCreated, history[0].Action)
	require.Equal(t, models.AuditEnded, history[1].Action)

	var details map[string]any
	require.NoError(t, json.Unmarshal(history[1].Details, &details))
	require.Equal(t, "manual", details["reason"])
}

func TestAuditService_AppendRejectsIncompleteEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.Error(t, env.audit.Append(ctx, nil, AuditEntry{UserID: "u", Action: "x"}))
	require.Error(t, env.audit.Append(ctx, nil, AuditEntry{MeetingID: "m", Action: "x"}))
	require.Error(t, env.audit.Append(ctx, nil, AuditEntry{MeetingID: "m", UserID: "u"}))
}

func TestAuditService_CleanupSparesLiveMeetings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := seedUser(t, env.db, "owner")
	old := env.createMeeting(t, owner.ID, nil)
	live := env.createMeeting(t, owner.ID, func(p *CreateMeetingParams) {
		p.StartTime = env.clock.Now().Add(2 * time.Hour)
		p.EndTime = env.clock.Now().Add(3 * time.Hour)
	})

	// Meeting ended well past the retention window.
	endedAt := time.Now().AddDate(0, 0, -60)
	require.NoError(t, env.db.Model(&models.Meeting{}).
		Where("id = ?", old.ID).Update("ended_at", &endedAt).Error)

	removed, err := env.audit.CleanupOlderThan(ctx, 30)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	gone, err := env.audit.History(ctx, old.ID)
	require.NoError(t, err)
	require.Empty(t, gone)

	kept, err := env.audit.History(ctx, live.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)

	_, err = env.audit.CleanupOlderThan(ctx, 0)
	require.Error(t, err)
}
