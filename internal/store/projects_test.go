package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjects_CreateGetUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, Project{Title: "pocketpaw launch"})
	require.NoError(t, err)
	require.Equal(t, ProjectDraft, p.Status)

	fetched, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Title, fetched.Title)

	newTitle := "pocketpaw launch v2"
	updated, err := s.UpdateProject(ctx, p.ID, ProjectPatch{Title: &newTitle})
	require.NoError(t, err)
	require.Equal(t, newTitle, updated.Title)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	_, err = s.GetProject(ctx, p.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProjects_DeleteCascadesTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, Project{Title: "cascade test"})
	require.NoError(t, err)
	pid := p.ID
	task, err := s.CreateTask(ctx, Task{Title: "scoped task", ProjectID: &pid})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProjects_ListFilteredByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProject(ctx, Project{Title: "draft one"})
	require.NoError(t, err)
	approved := ProjectApproved
	p2, err := s.CreateProject(ctx, Project{Title: "approved one"})
	require.NoError(t, err)
	_, err = s.UpdateProject(ctx, p2.ID, ProjectPatch{Status: &approved})
	require.NoError(t, err)

	drafts, err := s.ListProjects(ctx, ProjectDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	all, err := s.ListProjects(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}
