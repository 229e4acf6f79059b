// Package trash lists soft-deleted tasks of the active project and restores
// them. A restore is confirmed through the event stream, so the live
// collection picks it up the same way it picks up a broadcast.
package trash

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/model"
)

var ErrNoScope = errors.New("no active project")

type API interface {
	ListDeletedTasks(ctx context.Context, projectID int64) ([]model.Task, error)
	RestoreTask(ctx context.Context, taskID int64) (model.Task, error)
}

type Publisher interface {
	Publish(event model.ChangeEvent)
}

type Store struct {
	api    API
	events Publisher
	log    *logrus.Entry

	mu      sync.Mutex
	scope   int64
	items   []model.Task
	fetched bool
}

func New(api API, events Publisher, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{api: api, events: events, log: logger.WithField("component", "trash")}
}

// Activate forgets anything fetched for the previous project.
func (s *Store) Activate(scope int64) {
	s.mu.Lock()
	s.scope = scope
	s.items = nil
	s.fetched = false
	s.mu.Unlock()
}

// Fetch reloads the deleted tasks of the active project.
func (s *Store) Fetch(ctx context.Context) ([]model.Task, error) {
	s.mu.Lock()
	scope := s.scope
	s.mu.Unlock()
	if scope == 0 {
		return nil, ErrNoScope
	}

	items, err := s.api.ListDeletedTasks(ctx, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "list trash for project %d", scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope != scope {
		return nil, ErrNoScope
	}
	s.items = items
	s.fetched = true
	return s.snapshotLocked(), nil
}

// Restore asks the server to restore id and publishes the confirmed task as
// a RESTORED event.
func (s *Store) Restore(ctx context.Context, id int64) (model.Task, error) {
	s.mu.Lock()
	scope := s.scope
	s.mu.Unlock()
	if scope == 0 {
		return model.Task{}, ErrNoScope
	}

	restored, err := s.api.RestoreTask(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("task", id).Warn("restore rejected")
		return model.Task{}, errors.Wrapf(err, "restore task %d", id)
	}

	s.mu.Lock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			break
		}
	}
	active := s.scope == scope
	s.mu.Unlock()

	if active && s.events != nil {
		s.events.Publish(model.ChangeEvent{Entity: model.EntityTask, Action: model.ActionRestored, Data: &restored})
	}
	return restored, nil
}

// Items returns the last fetched list and whether a fetch has completed for
// the active project.
func (s *Store) Items() ([]model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), s.fetched
}

func (s *Store) snapshotLocked() []model.Task {
	out := make([]model.Task, len(s.items))
	copy(out, s.items)
	return out
}
