package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActivities_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	proj, err := s.CreateProject(ctx, Project{Title: "activity test"})
	require.NoError(t, err)
	pid := proj.ID

	_, err = s.AppendActivity(ctx, Activity{Type: ActivityTaskUpdated, ProjectID: &pid, Message: "task moved to in_progress"})
	require.NoError(t, err)
	_, err = s.AppendActivity(ctx, Activity{Type: ActivityTaskCompleted, ProjectID: &pid, Message: "task done"})
	require.NoError(t, err)
	_, err = s.AppendActivity(ctx, Activity{Type: ActivityTaskUpdated, Message: "unrelated project activity"})
	require.NoError(t, err)

	scoped, err := s.ListActivities(ctx, proj.ID, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	// newest first
	require.Equal(t, ActivityTaskCompleted, scoped[0].Type)

	all, err := s.ListActivities(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestNotifications_CreateListMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.CreateNotification(ctx, Notification{RecipientID: "user-1", Kind: "task_done", Body: "task finished"})
	require.NoError(t, err)
	require.False(t, n.Read)

	unread, err := s.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	read, err := s.MarkNotificationRead(ctx, n.ID)
	require.NoError(t, err)
	require.True(t, read.Read)

	unreadAfter, err := s.ListNotifications(ctx, "user-1", true)
	require.NoError(t, err)
	require.Len(t, unreadAfter, 0)

	require.NoError(t, s.DeleteNotification(ctx, n.ID))
}
