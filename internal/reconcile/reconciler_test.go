package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/tasksync/internal/model"
)

type fakeAPI struct {
	mu        sync.Mutex
	tasks     map[int64][]model.Task
	listErr   error
	deleteErr error
	deleted   []int64
	listHook  func()
}

func (f *fakeAPI) ListTasks(_ context.Context, projectID int64) ([]model.Task, error) {
	if f.listHook != nil {
		f.listHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.Task, len(f.tasks[projectID]))
	copy(out, f.tasks[projectID])
	return out, nil
}

func (f *fakeAPI) DeleteTask(_ context.Context, taskID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, taskID)
	return f.deleteErr
}

type countingProjector struct {
	calls int
	last  []model.Task
}

func (p *countingProjector) Recompute(canonical []model.Task) {
	p.calls++
	p.last = canonical
}

func at(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

func task(id int64, title string, updated int64) model.Task {
	return model.Task{ID: id, Title: title, Status: "TODO", Priority: "MED", UpdatedAt: at(updated)}
}

func event(action model.Action, t model.Task) model.ChangeEvent {
	return model.ChangeEvent{Entity: model.EntityTask, Action: action, Data: &t}
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func newHydrated(t *testing.T, initial ...model.Task) (*Reconciler, *fakeAPI, *countingProjector) {
	t.Helper()
	api := &fakeAPI{tasks: map[int64][]model.Task{1: initial}}
	projector := &countingProjector{}
	r := New(api, projector, quietLogger())
	r.Activate(1)
	require.NoError(t, r.Load(context.Background()))
	return r, api, projector
}

func titles(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Title)
	}
	return out
}

func TestLoadReplacesCollectionAndSeedsVersions(t *testing.T) {
	r, _, projector := newHydrated(t, task(7, "seven", 100), task(8, "eight", 50))

	assert.True(t, r.Hydrated())
	assert.Equal(t, []string{"seven", "eight"}, titles(r.Tasks()))
	version, ok := r.Version(7)
	require.True(t, ok)
	assert.Equal(t, at(100).UnixNano(), version)
	assert.Len(t, projector.last, 2)
}

func TestLoadFailureLeavesCollectionEmptyAndUnhydrated(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("boom")}
	r := New(api, nil, quietLogger())
	r.Activate(1)

	err := r.Load(context.Background())
	require.Error(t, err)
	assert.False(t, r.Hydrated())
	assert.Empty(t, r.Tasks())
	assert.EqualError(t, r.LoadError(), "boom")

	assert.False(t, r.Apply(event(model.ActionCreated, task(3, "x", 10))))
}

func TestLoadWithoutScope(t *testing.T) {
	r := New(&fakeAPI{}, nil, quietLogger())
	assert.ErrorIs(t, r.Load(context.Background()), ErrNoScope)
}

func TestEventsBeforeHydrationAreDropped(t *testing.T) {
	api := &fakeAPI{tasks: map[int64][]model.Task{1: {task(7, "seven", 100)}}}
	r := New(api, nil, quietLogger())
	r.Activate(1)

	applied := true
	api.listHook = func() {
		applied = r.Apply(event(model.ActionCreated, task(9, "nine", 200)))
	}
	require.NoError(t, r.Load(context.Background()))

	assert.False(t, applied)
	assert.Equal(t, []string{"seven"}, titles(r.Tasks()))
	_, ok := r.Version(9)
	assert.False(t, ok)
}

func TestScopeSwitchDuringLoadDiscardsResult(t *testing.T) {
	api := &fakeAPI{tasks: map[int64][]model.Task{1: {task(7, "seven", 100)}}}
	r := New(api, nil, quietLogger())
	r.Activate(1)
	api.listHook = func() { r.Activate(2) }

	assert.ErrorIs(t, r.Load(context.Background()), ErrScopeChanged)
	assert.Empty(t, r.Tasks())
	assert.Equal(t, int64(2), r.Scope())
}

func TestStaleAndNewerUpdates(t *testing.T) {
	r, _, _ := newHydrated(t, task(7, "old", 100))

	assert.False(t, r.Apply(event(model.ActionUpdated, task(7, "older", 90))))
	assert.Equal(t, []string{"old"}, titles(r.Tasks()))

	assert.False(t, r.Apply(event(model.ActionUpdated, task(7, "same", 100))))

	assert.True(t, r.Apply(event(model.ActionUpdated, task(7, "new", 150))))
	assert.Equal(t, []string{"new"}, titles(r.Tasks()))
	version, _ := r.Version(7)
	assert.Equal(t, at(150).UnixNano(), version)
}

func TestApplyIsIdempotent(t *testing.T) {
	once, _, _ := newHydrated(t, task(1, "a", 10))
	twice, _, _ := newHydrated(t, task(1, "a", 10))

	created := event(model.ActionCreated, task(2, "b", 20))
	once.Apply(created)
	twice.Apply(created)
	assert.False(t, twice.Apply(created))

	assert.Equal(t, once.Tasks(), twice.Tasks())
}

func TestOrderIndependenceForOneTask(t *testing.T) {
	first := event(model.ActionUpdated, task(5, "t1", 100))
	second := event(model.ActionUpdated, task(5, "t2", 200))

	forward, _, _ := newHydrated(t, task(5, "t0", 50))
	forward.Apply(first)
	forward.Apply(second)

	backward, _, _ := newHydrated(t, task(5, "t0", 50))
	backward.Apply(second)
	backward.Apply(first)

	assert.Equal(t, forward.Tasks(), backward.Tasks())
	assert.Equal(t, []string{"t2"}, titles(backward.Tasks()))
}

func TestUpdateForUnknownIDIsUpserted(t *testing.T) {
	r, _, _ := newHydrated(t)
	assert.True(t, r.Apply(event(model.ActionUpdated, task(4, "late", 10))))
	assert.Equal(t, []string{"late"}, titles(r.Tasks()))
}

func TestDeleteForAbsentIDIsNoOp(t *testing.T) {
	r, _, projector := newHydrated(t, task(1, "a", 10))
	var changes []Change
	r.Subscribe(func(c Change) { changes = append(changes, c) })
	before := projector.calls

	assert.False(t, r.Apply(event(model.ActionDeleted, task(7, "", 20))))
	assert.Equal(t, []string{"a"}, titles(r.Tasks()))
	assert.Empty(t, changes)
	assert.Equal(t, before, projector.calls)

	// The version is still recorded, so a late create cannot resurrect it.
	assert.False(t, r.Apply(event(model.ActionCreated, task(7, "late", 15))))
	assert.Equal(t, []string{"a"}, titles(r.Tasks()))
}

func TestSoftDeletedPayloadForAbsentIDIsNoOp(t *testing.T) {
	r, _, _ := newHydrated(t)
	gone := task(4, "d", 20)
	gone.IsDeleted = true

	assert.False(t, r.Apply(event(model.ActionUpdated, gone)))
	assert.Empty(t, r.Tasks())
}

func TestDeletedThenStaleCreateStaysDeleted(t *testing.T) {
	r, _, _ := newHydrated(t, task(3, "c", 10))
	require.True(t, r.Apply(event(model.ActionDeleted, task(3, "c", 30))))
	assert.False(t, r.Apply(event(model.ActionCreated, task(3, "c", 20))))
	assert.Empty(t, r.Tasks())

	require.True(t, r.Apply(event(model.ActionRestored, task(3, "c", 40))))
	assert.Equal(t, []string{"c"}, titles(r.Tasks()))
}

func TestMalformedOrForeignEventsIgnored(t *testing.T) {
	r, _, _ := newHydrated(t)
	payload := task(2, "b", 10)

	assert.False(t, r.Apply(model.ChangeEvent{Entity: "project", Action: model.ActionCreated, Data: &payload}))
	assert.False(t, r.Apply(model.ChangeEvent{Entity: model.EntityTask, Action: "MOVED", Data: &payload}))
	assert.False(t, r.Apply(model.ChangeEvent{Entity: model.EntityTask, Action: model.ActionCreated}))

	local := payload
	local.Optimistic = true
	assert.False(t, r.Apply(event(model.ActionCreated, local)))
	assert.Empty(t, r.Tasks())
}

func TestOptimisticEntryReplacedByConfirmedCreate(t *testing.T) {
	r, _, _ := newHydrated(t, task(1, "a", 10))

	placeholder, err := r.AddOptimistic(model.TaskInput{Title: "X", Status: "TODO"})
	require.NoError(t, err)
	assert.Less(t, placeholder.ID, int64(0))
	assert.True(t, placeholder.Optimistic)
	assert.NotEmpty(t, placeholder.ClientRef)
	assert.Equal(t, []string{"X", "a"}, titles(r.Tasks()))
	_, ok := r.Version(placeholder.ID)
	assert.False(t, ok)

	require.True(t, r.Apply(event(model.ActionCreated, task(42, "X", 20))))

	tasks := r.Tasks()
	require.Len(t, tasks, 2)
	var xs []model.Task
	for _, tk := range tasks {
		if tk.Title == "X" {
			xs = append(xs, tk)
		}
	}
	require.Len(t, xs, 1)
	assert.Equal(t, int64(42), xs[0].ID)
	assert.False(t, xs[0].Optimistic)
}

func TestSameTitlePlaceholdersSettleOneAtATime(t *testing.T) {
	r, _, _ := newHydrated(t)
	_, err := r.AddOptimistic(model.TaskInput{Title: "dup"})
	require.NoError(t, err)
	_, err = r.AddOptimistic(model.TaskInput{Title: "dup"})
	require.NoError(t, err)

	r.Apply(event(model.ActionCreated, task(10, "dup", 10)))

	optimistic := 0
	for _, tk := range r.Tasks() {
		if tk.Optimistic {
			optimistic++
		}
	}
	assert.Equal(t, 1, optimistic)
	assert.Len(t, r.Tasks(), 2)
}

func TestClientRefTakesPrecedenceOverTitle(t *testing.T) {
	r, _, _ := newHydrated(t)
	mine, err := r.AddOptimistic(model.TaskInput{Title: "same", ClientRef: "ref-1"})
	require.NoError(t, err)
	_, err = r.AddOptimistic(model.TaskInput{Title: "same", ClientRef: "ref-2"})
	require.NoError(t, err)

	confirmed := task(11, "same", 10)
	confirmed.ClientRef = "ref-1"
	r.Apply(event(model.ActionCreated, confirmed))

	_, stillPending := r.Task(mine.ID)
	assert.False(t, stillPending)
	for _, tk := range r.Tasks() {
		if tk.Optimistic {
			assert.Equal(t, "ref-2", tk.ClientRef)
		}
	}
	assert.Len(t, r.Tasks(), 2)
}

func TestLocalIDsAreUniqueAndNegative(t *testing.T) {
	r, _, _ := newHydrated(t)
	frozen := time.UnixMilli(1_700_000_000_000)
	r.now = func() time.Time { return frozen }

	a, _ := r.AddOptimistic(model.TaskInput{Title: "a"})
	b, _ := r.AddOptimistic(model.TaskInput{Title: "b"})
	assert.Less(t, a.ID, int64(0))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAddOptimisticWithoutScope(t *testing.T) {
	r := New(&fakeAPI{}, nil, quietLogger())
	_, err := r.AddOptimistic(model.TaskInput{Title: "x"})
	assert.ErrorIs(t, err, ErrNoScope)
}

func TestDeleteRemovesImmediatelyAndCallsAPI(t *testing.T) {
	r, api, _ := newHydrated(t, task(1, "a", 10), task(2, "b", 10))

	require.NoError(t, r.Delete(context.Background(), 1))
	assert.Equal(t, []string{"b"}, titles(r.Tasks()))
	assert.Equal(t, []int64{1}, api.deleted)

	// The broadcast that follows finds nothing left to remove.
	assert.False(t, r.Apply(event(model.ActionDeleted, task(1, "a", 20))))
	assert.Equal(t, []string{"b"}, titles(r.Tasks()))
	version, ok := r.Version(1)
	require.True(t, ok)
	assert.Equal(t, at(20).UnixNano(), version)
}

func TestDeleteFailureRestoresTask(t *testing.T) {
	r, api, _ := newHydrated(t, task(1, "a", 10), task(2, "b", 10), task(3, "c", 10))
	api.deleteErr = errors.New("forbidden")

	err := r.Delete(context.Background(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
	assert.Equal(t, []string{"a", "b", "c"}, titles(r.Tasks()))
}

func TestDeleteOptimisticEntrySkipsAPI(t *testing.T) {
	r, api, _ := newHydrated(t)
	placeholder, err := r.AddOptimistic(model.TaskInput{Title: "draft"})
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), placeholder.ID))
	assert.Empty(t, r.Tasks())
	assert.Empty(t, api.deleted)
}

func TestReloadConvergesAfterMissedEvents(t *testing.T) {
	r, api, _ := newHydrated(t, task(1, "a", 10), task(2, "b", 10))
	_, err := r.AddOptimistic(model.TaskInput{Title: "pending"})
	require.NoError(t, err)

	api.mu.Lock()
	api.tasks[1] = []model.Task{task(2, "b2", 30), task(3, "c", 25)}
	api.mu.Unlock()

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, []string{"b2", "c"}, titles(r.Tasks()))
	assert.False(t, r.Apply(event(model.ActionUpdated, task(2, "b-late", 20))))
}

func TestSoftDeletedPayloadIsRemoved(t *testing.T) {
	r, _, _ := newHydrated(t, task(1, "a", 10))
	gone := task(1, "a", 20)
	gone.IsDeleted = true

	assert.True(t, r.Apply(event(model.ActionUpdated, gone)))
	assert.Empty(t, r.Tasks())
}

func TestObserversSeeAppliedChanges(t *testing.T) {
	r, _, projector := newHydrated(t)
	var changes []Change
	unsubscribe := r.Subscribe(func(c Change) { changes = append(changes, c) })

	before := projector.calls
	r.Apply(event(model.ActionCreated, task(5, "e", 10)))
	r.Apply(event(model.ActionCreated, task(5, "e", 10)))
	unsubscribe()
	r.Apply(event(model.ActionUpdated, task(5, "e2", 20)))

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeApplied, changes[0].Kind)
	assert.Equal(t, model.ActionCreated, changes[0].Action)
	assert.Equal(t, int64(5), changes[0].Task.ID)
	assert.Equal(t, before+2, projector.calls)
}
