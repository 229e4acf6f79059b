package filterview

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/tasksync/internal/model"
)

type memoryStore struct {
	saved   map[int64]model.FilterCriteria
	saveErr error
	loadErr error
}

func (m *memoryStore) LoadCriteria(_ context.Context, projectID int64) (model.FilterCriteria, error) {
	if m.loadErr != nil {
		return model.FilterCriteria{}, m.loadErr
	}
	return m.saved[projectID], nil
}

func (m *memoryStore) SaveCriteria(_ context.Context, projectID int64, criteria model.FilterCriteria) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[projectID] = criteria
	return nil
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func sampleTasks() []model.Task {
	bob := int64(2)
	return []model.Task{
		{ID: 1, Title: "one", Status: "TODO", Priority: "HIGH"},
		{ID: 2, Title: "two", Status: "DONE", Priority: "LOW", AssignedTo: &bob},
		{ID: 3, Title: "three", Status: "TODO", Priority: "LOW", AssignedTo: &bob},
	}
}

func ids(tasks []model.Task) []int64 {
	out := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

func TestApplyMatchesEveryCriterion(t *testing.T) {
	tasks := sampleTasks()

	assert.Equal(t, []int64{1, 2, 3}, ids(Apply(tasks, model.FilterCriteria{})))
	assert.Equal(t, []int64{1, 3}, ids(Apply(tasks, model.FilterCriteria{Status: model.StringPtr("TODO")})))
	assert.Equal(t, []int64{3}, ids(Apply(tasks, model.FilterCriteria{
		Status:     model.StringPtr("TODO"),
		Priority:   model.StringPtr("LOW"),
		AssignedTo: model.Int64Ptr(2),
	})))
}

func TestActivateLoadsStoredCriteriaPerProject(t *testing.T) {
	store := &memoryStore{saved: map[int64]model.FilterCriteria{
		1: {Status: model.StringPtr("DONE")},
	}}
	v := New(store, quietLogger())
	v.Recompute(sampleTasks())

	require.NoError(t, v.Activate(context.Background(), 1))
	assert.Equal(t, []int64{2}, ids(v.Visible()))

	require.NoError(t, v.Activate(context.Background(), 2))
	assert.True(t, v.Criteria().IsEmpty())
	assert.Equal(t, []int64{1, 2, 3}, ids(v.Visible()))
}

func TestActivateFallsBackToEmptyCriteriaOnError(t *testing.T) {
	v := New(&memoryStore{loadErr: errors.New("disk")}, quietLogger())
	v.Recompute(sampleTasks())

	err := v.Activate(context.Background(), 1)
	require.Error(t, err)
	assert.Len(t, v.Visible(), 3)
}

func TestSetCriteriaPersistsAndNeverTouchesCanonical(t *testing.T) {
	store := &memoryStore{saved: map[int64]model.FilterCriteria{}}
	v := New(store, quietLogger())
	require.NoError(t, v.Activate(context.Background(), 9))

	canonical := sampleTasks()
	v.Recompute(canonical)
	before := v.Visible()

	require.NoError(t, v.SetCriteria(context.Background(), model.FilterCriteria{Priority: model.StringPtr("LOW")}))
	assert.Equal(t, []int64{2, 3}, ids(v.Visible()))
	assert.Equal(t, "LOW", *store.saved[9].Priority)
	assert.Equal(t, sampleTasks(), canonical)

	require.NoError(t, v.SetCriteria(context.Background(), model.FilterCriteria{}))
	assert.Equal(t, before, v.Visible())
}

func TestSetCriteriaAppliesEvenWhenSaveFails(t *testing.T) {
	v := New(&memoryStore{saved: map[int64]model.FilterCriteria{}, saveErr: errors.New("readonly")}, quietLogger())
	require.NoError(t, v.Activate(context.Background(), 1))
	v.Recompute(sampleTasks())

	err := v.SetCriteria(context.Background(), model.FilterCriteria{Status: model.StringPtr("DONE")})
	require.Error(t, err)
	assert.Equal(t, []int64{2}, ids(v.Visible()))
}

func TestSubscribersSeeCriteriaChanges(t *testing.T) {
	v := New(nil, quietLogger())
	v.Recompute(sampleTasks())

	var seen [][]int64
	unsubscribe := v.Subscribe(func(visible []model.Task) { seen = append(seen, ids(visible)) })
	require.NoError(t, v.SetCriteria(context.Background(), model.FilterCriteria{Status: model.StringPtr("DONE")}))
	unsubscribe()
	require.NoError(t, v.SetCriteria(context.Background(), model.FilterCriteria{}))

	assert.Equal(t, [][]int64{{2}}, seen)
}

func TestVisibleIsACopy(t *testing.T) {
	v := New(nil, quietLogger())
	v.Recompute(sampleTasks())

	visible := v.Visible()
	visible[0].Title = "mutated"
	assert.Equal(t, "one", v.Visible()[0].Title)
}
