package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAgents_CreateAndStatusTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, AgentProfile{Name: "builder", Role: "engineer"})
	require.NoError(t, err)
	require.Equal(t, AgentIdle, a.Status)

	task, err := s.CreateTask(ctx, Task{Title: "build feature"})
	require.NoError(t, err)

	busy, taskID := AgentBusy, task.ID
	updated, err := s.SetAgentStatus(ctx, a.ID, busy, &taskID)
	require.NoError(t, err)
	require.Equal(t, AgentBusy, updated.Status)
	require.Equal(t, task.ID, *updated.CurrentTaskID)

	idle := AgentIdle
	freed, err := s.SetAgentStatus(ctx, a.ID, idle, nil)
	require.NoError(t, err)
	require.Equal(t, AgentIdle, freed.Status)
	require.Nil(t, freed.CurrentTaskID)
}

func TestAgents_ListFilteredByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateAgent(ctx, AgentProfile{Name: "idle-one"})
	require.NoError(t, err)
	a2, err := s.CreateAgent(ctx, AgentProfile{Name: "busy-one"})
	require.NoError(t, err)
	busy := AgentBusy
	_, err = s.UpdateAgent(ctx, a2.ID, AgentPatch{Status: &busy})
	require.NoError(t, err)

	idleAgents, err := s.ListAgents(ctx, AgentIdle)
	require.NoError(t, err)
	require.Len(t, idleAgents, 1)

	all, err := s.ListAgents(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAgents_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateAgent(ctx, AgentProfile{Name: "temp"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteAgent(ctx, a.ID))

	_, err = s.GetAgent(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
