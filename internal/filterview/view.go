// Package filterview derives the visible subset of the canonical task
// collection from the active project's filter criteria.
package filterview

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/model"
)

// CriteriaStore persists criteria per project. A project with nothing
// stored has empty criteria.
type CriteriaStore interface {
	LoadCriteria(ctx context.Context, projectID int64) (model.FilterCriteria, error)
	SaveCriteria(ctx context.Context, projectID int64, criteria model.FilterCriteria) error
}

// Apply returns the tasks that match criteria, in canonical order.
func Apply(canonical []model.Task, criteria model.FilterCriteria) []model.Task {
	visible := make([]model.Task, 0, len(canonical))
	for _, task := range canonical {
		if criteria.Matches(task) {
			visible = append(visible, task)
		}
	}
	return visible
}

type View struct {
	store CriteriaStore
	log   *logrus.Entry

	mu        sync.RWMutex
	scope     int64
	criteria  model.FilterCriteria
	canonical []model.Task
	visible   []model.Task

	obsMu     sync.Mutex
	observers map[uint64]func([]model.Task)
	obsNext   uint64
}

func New(store CriteriaStore, logger *logrus.Entry) *View {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &View{
		store:     store,
		log:       logger.WithField("component", "filterview"),
		observers: make(map[uint64]func([]model.Task)),
	}
}

// Activate loads the stored criteria for scope. On a read error the view
// falls back to empty criteria and returns the error.
func (v *View) Activate(ctx context.Context, scope int64) error {
	var criteria model.FilterCriteria
	var loadErr error
	if scope != 0 && v.store != nil {
		stored, err := v.store.LoadCriteria(ctx, scope)
		if err != nil {
			loadErr = errors.Wrapf(err, "load filter for project %d", scope)
			v.log.WithError(err).WithField("scope", scope).Warn("using empty filter")
		} else {
			criteria = stored
		}
	}

	v.mu.Lock()
	v.scope = scope
	v.criteria = criteria
	v.visible = Apply(v.canonical, criteria)
	visible := v.visible
	v.mu.Unlock()

	v.notify(visible)
	return loadErr
}

// Recompute derives the visible set from a fresh canonical snapshot. It is
// called with the owner's lock held, so it does not notify subscribers; the
// owner signals its own observers once it has released the lock.
func (v *View) Recompute(canonical []model.Task) {
	v.mu.Lock()
	v.canonical = canonical
	v.visible = Apply(canonical, v.criteria)
	v.mu.Unlock()
}

// SetCriteria applies criteria immediately and persists them for the
// active project. The visible set is updated even if persisting fails.
func (v *View) SetCriteria(ctx context.Context, criteria model.FilterCriteria) error {
	v.mu.Lock()
	scope := v.scope
	v.criteria = criteria
	v.visible = Apply(v.canonical, criteria)
	visible := v.visible
	v.mu.Unlock()

	v.notify(visible)

	if scope == 0 || v.store == nil {
		return nil
	}
	if err := v.store.SaveCriteria(ctx, scope, criteria); err != nil {
		return errors.Wrapf(err, "save filter for project %d", scope)
	}
	return nil
}

func (v *View) Criteria() model.FilterCriteria {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.criteria
}

func (v *View) Visible() []model.Task {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]model.Task, len(v.visible))
	copy(out, v.visible)
	return out
}

func (v *View) Subscribe(fn func(visible []model.Task)) func() {
	v.obsMu.Lock()
	v.obsNext++
	id := v.obsNext
	v.observers[id] = fn
	v.obsMu.Unlock()

	return func() {
		v.obsMu.Lock()
		delete(v.observers, id)
		v.obsMu.Unlock()
	}
}

func (v *View) notify(visible []model.Task) {
	v.obsMu.Lock()
	fns := make([]func([]model.Task), 0, len(v.observers))
	for _, fn := range v.observers {
		fns = append(fns, fn)
	}
	v.obsMu.Unlock()

	for _, fn := range fns {
		out := make([]model.Task, len(visible))
		copy(out, visible)
		fn(out)
	}
}
