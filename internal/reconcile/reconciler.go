// Package reconcile owns the canonical task collection of the active
// project. Bulk loads, inbound change events and local optimistic edits all
// go through it, and a per-task version check makes duplicate or reordered
// delivery converge to the server's state.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/model"
)

var (
	ErrNoScope      = errors.New("no active project")
	ErrScopeChanged = errors.New("active project changed")
)

type TaskAPI interface {
	ListTasks(ctx context.Context, projectID int64) ([]model.Task, error)
	DeleteTask(ctx context.Context, taskID int64) error
}

// Projector receives a copy of the canonical collection after every
// mutation.
type Projector interface {
	Recompute(canonical []model.Task)
}

type ChangeKind int

const (
	ChangeReset ChangeKind = iota
	ChangeLoaded
	ChangeLoadFailed
	ChangeApplied
	ChangeLocal
)

type Change struct {
	Kind   ChangeKind
	Scope  int64
	Action model.Action
	Task   model.Task
}

type observer struct {
	id uint64
	fn func(Change)
}

type Reconciler struct {
	api       TaskAPI
	projector Projector
	log       *logrus.Entry
	now       func() time.Time

	mu          sync.Mutex
	scope       int64
	hydrated    bool
	loadSeq     uint64
	loadErr     error
	tasks       []model.Task
	versions    VersionIndex
	lastLocalID int64

	obsMu     sync.Mutex
	obsNext   uint64
	observers []observer
}

func New(api TaskAPI, projector Projector, logger *logrus.Entry) *Reconciler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{
		api:       api,
		projector: projector,
		log:       logger.WithField("component", "reconcile"),
		now:       time.Now,
		versions:  VersionIndex{},
	}
}

// Activate clears all state and makes scope the active project. Zero
// leaves no project active.
func (r *Reconciler) Activate(scope int64) {
	r.mu.Lock()
	r.scope = scope
	r.hydrated = false
	r.loadSeq++
	r.loadErr = nil
	r.tasks = nil
	r.versions = VersionIndex{}
	r.recomputeLocked()
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeReset, Scope: scope})
}

func (r *Reconciler) Reset() {
	r.Activate(0)
}

// Load fetches every task of the active project and replaces the
// collection. Events that arrive while the fetch is in flight are dropped;
// the fetched snapshot already covers them. Only the most recently started
// load is applied.
func (r *Reconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	scope := r.scope
	r.hydrated = false
	r.loadSeq++
	seq := r.loadSeq
	r.mu.Unlock()

	if scope == 0 {
		return ErrNoScope
	}

	fetched, err := r.api.ListTasks(ctx, scope)

	r.mu.Lock()
	if r.scope != scope || r.loadSeq != seq {
		r.mu.Unlock()
		return ErrScopeChanged
	}
	if err != nil {
		r.tasks = nil
		r.versions = VersionIndex{}
		r.loadErr = err
		r.recomputeLocked()
		r.mu.Unlock()

		r.log.WithError(err).WithField("scope", scope).Error("bulk load failed")
		r.notify(Change{Kind: ChangeLoadFailed, Scope: scope})
		return errors.Wrapf(err, "load tasks for project %d", scope)
	}

	live := make([]model.Task, 0, len(fetched))
	for _, task := range fetched {
		if task.IsDeleted {
			continue
		}
		task.Optimistic = false
		live = append(live, task)
	}
	r.tasks = live
	r.versions = NewVersionIndex(fetched)
	r.hydrated = true
	r.loadErr = nil
	r.recomputeLocked()
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"scope": scope, "tasks": len(live)}).Info("tasks loaded")
	r.notify(Change{Kind: ChangeLoaded, Scope: scope})
	return nil
}

// Apply applies one change event and reports whether it changed anything.
func (r *Reconciler) Apply(event model.ChangeEvent) bool {
	if event.Entity != model.EntityTask || !event.Action.Valid() || event.Data == nil || event.Data.ID <= 0 {
		return false
	}
	payload := *event.Data
	if payload.Optimistic {
		return false
	}

	r.mu.Lock()
	if !r.hydrated {
		r.mu.Unlock()
		r.log.WithField("task", payload.ID).Debug("dropping event before hydration")
		return false
	}

	incoming := payload.Version()
	if r.versions.Stale(payload.ID, incoming) {
		r.mu.Unlock()
		r.log.WithFields(logrus.Fields{"task": payload.ID, "action": event.Action}).Debug("dropping stale event")
		return false
	}
	r.versions.Record(payload.ID, incoming)

	// The version is recorded even when the collection is left as it is.
	changed := false
	switch event.Action {
	case model.ActionCreated, model.ActionRestored:
		changed = r.insertLocked(payload)
	case model.ActionUpdated:
		if index := r.indexLocked(payload.ID); index >= 0 && !payload.IsDeleted {
			r.tasks[index] = payload
			changed = true
		} else {
			changed = r.insertLocked(payload)
		}
	case model.ActionDeleted:
		_, index := r.removeLocked(payload.ID)
		changed = index >= 0
	}
	if !changed {
		r.mu.Unlock()
		return false
	}
	r.recomputeLocked()
	scope := r.scope
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeApplied, Scope: scope, Action: event.Action, Task: payload})
	return true
}

// insertLocked settles a confirmed payload: the matching placeholder and
// any entry with the same id are replaced by it. It reports whether the
// collection changed.
func (r *Reconciler) insertLocked(payload model.Task) bool {
	changed := false
	if index := r.placeholderLocked(payload); index >= 0 {
		r.tasks = append(r.tasks[:index:index], r.tasks[index+1:]...)
		changed = true
	}
	if _, index := r.removeLocked(payload.ID); index >= 0 {
		changed = true
	}
	if payload.IsDeleted {
		return changed
	}
	r.tasks = append(r.tasks, payload)
	return true
}

// placeholderLocked finds the oldest optimistic entry matching payload,
// by client reference when the payload carries one and by title otherwise.
func (r *Reconciler) placeholderLocked(payload model.Task) int {
	for i := len(r.tasks) - 1; i >= 0; i-- {
		task := r.tasks[i]
		if !task.Optimistic {
			continue
		}
		if payload.ClientRef != "" {
			if task.ClientRef == payload.ClientRef {
				return i
			}
			continue
		}
		if task.Title == payload.Title {
			return i
		}
	}
	return -1
}

func (r *Reconciler) indexLocked(id int64) int {
	for i, task := range r.tasks {
		if task.ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) removeLocked(id int64) (model.Task, int) {
	index := r.indexLocked(id)
	if index < 0 {
		return model.Task{}, -1
	}
	removed := r.tasks[index]
	r.tasks = append(r.tasks[:index:index], r.tasks[index+1:]...)
	return removed, index
}

// AddOptimistic prepends a local placeholder for a task being created. Its
// id is negative so it can never collide with a server id, and it is never
// recorded in the version index.
func (r *Reconciler) AddOptimistic(input model.TaskInput) (model.Task, error) {
	r.mu.Lock()
	if r.scope == 0 {
		r.mu.Unlock()
		return model.Task{}, ErrNoScope
	}

	ref := input.ClientRef
	if ref == "" {
		ref = uuid.NewString()
	}
	now := r.now()
	task := model.Task{
		ID:          r.nextLocalIDLocked(now),
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		Priority:    input.Priority,
		AssignedTo:  input.AssignedTo,
		UpdatedAt:   now,
		ClientRef:   ref,
		Optimistic:  true,
	}
	r.tasks = append([]model.Task{task}, r.tasks...)
	r.recomputeLocked()
	scope := r.scope
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeLocal, Scope: scope, Task: task})
	return task, nil
}

func (r *Reconciler) nextLocalIDLocked(now time.Time) int64 {
	id := -now.UnixMilli()
	if r.lastLocalID != 0 && id >= r.lastLocalID {
		id = r.lastLocalID - 1
	}
	r.lastLocalID = id
	return id
}

// Delete removes the task locally at once, then asks the server. If the
// server refuses, the task is put back where it was unless a newer change
// for it has been applied in the meantime.
func (r *Reconciler) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	scope := r.scope
	if scope == 0 {
		r.mu.Unlock()
		return ErrNoScope
	}
	removed, index := r.removeLocked(id)
	if index >= 0 {
		r.recomputeLocked()
	}
	r.mu.Unlock()

	if index >= 0 {
		r.notify(Change{Kind: ChangeLocal, Scope: scope, Task: removed})
		if removed.Optimistic {
			return nil
		}
	}

	if err := r.api.DeleteTask(ctx, id); err != nil {
		r.mu.Lock()
		restored := false
		if index >= 0 && r.scope == scope && r.indexLocked(id) < 0 {
			if version, ok := r.versions.Get(id); !ok || version <= removed.Version() {
				at := min(index, len(r.tasks))
				r.tasks = append(r.tasks[:at:at], append([]model.Task{removed}, r.tasks[at:]...)...)
				r.recomputeLocked()
				restored = true
			}
		}
		r.mu.Unlock()

		if restored {
			r.notify(Change{Kind: ChangeLocal, Scope: scope, Task: removed})
		}
		r.log.WithError(err).WithField("task", id).Warn("delete rejected")
		return errors.Wrapf(err, "delete task %d", id)
	}
	return nil
}

func (r *Reconciler) recomputeLocked() {
	if r.projector == nil {
		return
	}
	r.projector.Recompute(r.snapshotLocked())
}

func (r *Reconciler) snapshotLocked() []model.Task {
	out := make([]model.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

func (r *Reconciler) Tasks() []model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) Task(id int64) (model.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index := r.indexLocked(id); index >= 0 {
		return r.tasks[index], true
	}
	return model.Task{}, false
}

func (r *Reconciler) Version(id int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions.Get(id)
}

func (r *Reconciler) Scope() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

func (r *Reconciler) Hydrated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hydrated
}

func (r *Reconciler) LoadError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadErr
}

// Subscribe registers fn for every change and returns a function that
// removes it. fn runs after the collection lock is released.
func (r *Reconciler) Subscribe(fn func(Change)) func() {
	r.obsMu.Lock()
	r.obsNext++
	id := r.obsNext
	r.observers = append(r.observers, observer{id: id, fn: fn})
	r.obsMu.Unlock()

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		for i, obs := range r.observers {
			if obs.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Reconciler) notify(change Change) {
	r.obsMu.Lock()
	observers := make([]observer, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.Unlock()

	for _, obs := range observers {
		obs.fn(change)
	}
}
