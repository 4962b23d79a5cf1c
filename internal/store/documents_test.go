package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocuments_CreateAndGetTaskDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, Task{Title: "research"})
	require.NoError(t, err)
	tid := task.ID

	d1, err := s.CreateDocument(ctx, Document{Title: "notes", TaskID: &tid, Type: DocumentNote})
	require.NoError(t, err)
	_, err = s.CreateDocument(ctx, Document{Title: "unrelated", Type: DocumentNote})
	require.NoError(t, err)

	docs, err := s.GetTaskDocuments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, d1.ID, docs[0].ID)
}

func TestDocuments_UpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.CreateDocument(ctx, Document{Title: "draft prd", Type: DocumentPRD})
	require.NoError(t, err)

	newContent := "## Goals\n..."
	updated, err := s.UpdateDocument(ctx, d.ID, DocumentPatch{Content: &newContent})
	require.NoError(t, err)
	require.Equal(t, newContent, updated.Content)

	require.NoError(t, s.DeleteDocument(ctx, d.ID))
	_, err = s.GetDocument(ctx, d.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
