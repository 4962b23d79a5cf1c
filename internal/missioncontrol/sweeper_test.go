package missioncontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shabbark/pocketpaw/internal/store"
)

func TestReapStaleAgents_ResetsStaleActiveAgentAndBlocksTask(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, store.Project{Title: "p"})
	require.NoError(t, err)
	pid := project.ID
	task, err := s.CreateTask(ctx, store.Task{Title: "t", ProjectID: &pid})
	require.NoError(t, err)

	agent, err := s.CreateAgent(ctx, store.AgentProfile{Name: "stale-worker"})
	require.NoError(t, err)
	taskID := task.ID
	_, err = m.SetAgentStatus(ctx, agent.ID, store.AgentActive, &taskID)
	require.NoError(t, err)

	staleHeartbeat := time.Now().UTC().Add(-time.Hour)
	_, err = s.UpdateAgent(ctx, agent.ID, store.AgentPatch{LastHeartbeat: ptrToTimePtr(&staleHeartbeat)})
	require.NoError(t, err)

	n, err := m.ReapStaleAgents(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reaped, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, store.AgentIdle, reaped.Status)
	require.Nil(t, reaped.CurrentTaskID)

	blockedTask, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, store.TaskBlocked, blockedTask.Status)
}

func TestReapStaleAgents_LeavesFreshHeartbeatAlone(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	agent, err := s.CreateAgent(ctx, store.AgentProfile{Name: "fresh-worker"})
	require.NoError(t, err)
	taskID := "task-x"
	_, err = m.SetAgentStatus(ctx, agent.ID, store.AgentActive, &taskID)
	require.NoError(t, err)

	freshHeartbeat := time.Now().UTC()
	_, err = s.UpdateAgent(ctx, agent.ID, store.AgentPatch{LastHeartbeat: ptrToTimePtr(&freshHeartbeat)})
	require.NoError(t, err)

	n, err := m.ReapStaleAgents(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	unchanged, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, store.AgentActive, unchanged.Status)
}

func TestReapStaleAgents_IgnoresIdleAgents(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	_, err := s.CreateAgent(ctx, store.AgentProfile{Name: "idle-worker"})
	require.NoError(t, err)

	n, err := m.ReapStaleAgents(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestNewSweeper_RejectsInvalidCronExpr(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := NewSweeper(m, "not a cron expression", time.Minute, nil)
	require.Error(t, err)
}

func TestNewSweeper_DefaultsStaleAfter(t *testing.T) {
	m, _, _ := newTestManager(t)
	sw, err := NewSweeper(m, "*/5 * * * *", 0, nil)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, sw.staleAfter)
}

func TestSweeper_StartStop(t *testing.T) {
	m, _, _ := newTestManager(t)
	sw, err := NewSweeper(m, "*/5 * * * *", time.Minute, nil)
	require.NoError(t, err)

	sw.Start(context.Background())
	sw.Stop()
}

func ptrToTimePtr(t *time.Time) **time.Time {
	return &t
}
