package trash

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/reconcile"
	"github.com/Joseda-hg/tasksync/internal/stream"
)

type fakeAPI struct {
	deleted    map[int64][]model.Task
	live       []model.Task
	restoreErr error
	restoredAt time.Time
}

func (f *fakeAPI) ListDeletedTasks(_ context.Context, projectID int64) ([]model.Task, error) {
	return f.deleted[projectID], nil
}

func (f *fakeAPI) RestoreTask(_ context.Context, taskID int64) (model.Task, error) {
	if f.restoreErr != nil {
		return model.Task{}, f.restoreErr
	}
	for _, items := range f.deleted {
		for _, item := range items {
			if item.ID == taskID {
				item.IsDeleted = false
				item.UpdatedAt = f.restoredAt
				return item, nil
			}
		}
	}
	return model.Task{}, errors.New("not found")
}

func (f *fakeAPI) ListTasks(context.Context, int64) ([]model.Task, error) {
	return f.live, nil
}

func (f *fakeAPI) DeleteTask(context.Context, int64) error {
	return nil
}

func at(seconds int) time.Time {
	return time.Unix(int64(seconds), 0).UTC()
}

func TestFetchRequiresScope(t *testing.T) {
	store := New(&fakeAPI{}, nil, nil)
	_, err := store.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoScope)

	_, err = store.Restore(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoScope)
}

func TestFetchListsDeletedForActiveProject(t *testing.T) {
	api := &fakeAPI{deleted: map[int64][]model.Task{
		1: {{ID: 5, Title: "old", IsDeleted: true}},
		2: {{ID: 6, Title: "other", IsDeleted: true}},
	}}
	store := New(api, nil, nil)
	store.Activate(1)

	_, fetched := store.Items()
	assert.False(t, fetched)

	items, err := store.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(5), items[0].ID)

	store.Activate(2)
	items, fetched = store.Items()
	assert.Empty(t, items)
	assert.False(t, fetched)
}

func TestRestoreFlowsThroughTheEventPath(t *testing.T) {
	api := &fakeAPI{
		deleted:    map[int64][]model.Task{1: {{ID: 5, Title: "old", IsDeleted: true, UpdatedAt: at(100)}}},
		live:       []model.Task{{ID: 4, Title: "live", UpdatedAt: at(50)}},
		restoredAt: at(200),
	}
	events := stream.New()
	reconciler := reconcile.New(api, nil, nil)
	events.Subscribe(func(event model.ChangeEvent) { reconciler.Apply(event) })

	reconciler.Activate(1)
	require.NoError(t, reconciler.Load(context.Background()))

	store := New(api, events, nil)
	store.Activate(1)
	_, err := store.Fetch(context.Background())
	require.NoError(t, err)

	restored, err := store.Restore(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)

	task, ok := reconciler.Task(5)
	require.True(t, ok)
	assert.Equal(t, "old", task.Title)
	version, _ := reconciler.Version(5)
	assert.Equal(t, at(200).UnixNano(), version)

	items, _ := store.Items()
	assert.Empty(t, items)
}

func TestRestoreFailureKeepsTrashAndPublishesNothing(t *testing.T) {
	api := &fakeAPI{
		deleted:    map[int64][]model.Task{1: {{ID: 5, IsDeleted: true}}},
		restoreErr: errors.New("forbidden"),
	}
	events := stream.New()
	published := 0
	events.Subscribe(func(model.ChangeEvent) { published++ })

	store := New(api, events, nil)
	store.Activate(1)
	_, err := store.Fetch(context.Background())
	require.NoError(t, err)

	_, err = store.Restore(context.Background(), 5)
	require.Error(t, err)
	assert.Zero(t, published)

	items, _ := store.Items()
	assert.Len(t, items, 1)
}
