package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/scheduler"
)

type recordingSchedulerStore struct {
	tasks []scheduler.DelayedTask
}

func (r *recordingSchedulerStore) DueDelayedTasks(context.Context, string, time.Time) ([]scheduler.DelayedTask, error) {
	return nil, nil
}
func (r *recordingSchedulerStore) CompleteDelayedTask(context.Context, string, string) error {
	return nil
}
func (r *recordingSchedulerStore) InsertDelayedTask(_ context.Context, _ string, t scheduler.DelayedTask) error {
	r.tasks = append(r.tasks, t)
	return nil
}

func TestSetReminderTool_GeneratesUniqueIDs(t *testing.T) {
	store := &recordingSchedulerStore{}
	s := &Services{Scheduler: scheduler.New(store, scheduler.Config{})}
	evt := bus.IncomingEvent{Channel: "telegram", Chat: bus.ChatRef{ID: 42}}

	handler := s.setReminderTool(evt)
	_, err := handler(context.Background(), map[string]interface{}{"when": "10m", "text": "stretch"})
	require.NoError(t, err)
	_, err = handler(context.Background(), map[string]interface{}{"when": "10m", "text": "stretch again"})
	require.NoError(t, err)

	require.Len(t, store.tasks, 2)
	assert.NotEqual(t, store.tasks[0].ID, store.tasks[1].ID)
	for _, task := range store.tasks {
		assert.True(t, strings.HasPrefix(task.ID, "remind-telegram-42-"))
		assert.Equal(t, "reminder", task.Function)
	}
}

func TestSetReminderTool_NoSchedulerConfigured(t *testing.T) {
	s := &Services{}
	evt := bus.IncomingEvent{Channel: "telegram", Chat: bus.ChatRef{ID: 42}}

	handler := s.setReminderTool(evt)
	_, err := handler(context.Background(), map[string]interface{}{"when": "10m"})
	assert.Error(t, err)
}
