// Package session owns everything that lives for one synchronized project:
// the event stream, the realtime channel, the reconciler with its filtered
// view, the trash, and the transient notice and highlight timers. The
// presentation layers only talk to a Session.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/filterview"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/realtime"
	"github.com/Joseda-hg/tasksync/internal/reconcile"
	"github.com/Joseda-hg/tasksync/internal/stream"
	"github.com/Joseda-hg/tasksync/internal/trash"
)

var (
	ErrNoProject   = errors.New("no project selected")
	ErrUnconfirmed = errors.New("task is not confirmed by the server yet")
	ErrClosed      = errors.New("session closed")

	ErrTitleRequired = errors.New("title is required")
)

const (
	DefaultNoticeTTL     = 3 * time.Second
	DefaultHighlightTTL  = 1500 * time.Millisecond
	DefaultActivityLimit = 200
)

type TaskAPI interface {
	reconcile.TaskAPI
	trash.API
	CreateTask(ctx context.Context, projectID int64, input model.TaskInput) (model.Task, error)
	UpdateTask(ctx context.Context, taskID int64, patch model.TaskPatch) (model.Task, error)
}

// ActivityLog records every applied change for the history pane.
type ActivityLog interface {
	AddActivity(ctx context.Context, entry model.Activity) (model.Activity, error)
	ListActivity(ctx context.Context, projectID int64, limit int) ([]model.Activity, error)
	PruneActivity(ctx context.Context, projectID int64, keep int) error
}

type Deps struct {
	API         TaskAPI
	Dialer      realtime.Dialer
	Credentials realtime.Credentials
	Criteria    filterview.CriteriaStore
	Activity    ActivityLog
	Logger      *logrus.Entry
}

type Options struct {
	WSBaseURL         string
	BaseDelay         time.Duration
	MaxAttempts       int
	ReloadOnReconnect bool
	NoticeTTL         time.Duration
	HighlightTTL      time.Duration
	ActivityLimit     int
	// Scheduler runs the reconnect, notice and highlight timers. Defaults
	// to time.AfterFunc.
	Scheduler realtime.Scheduler
}

// Status is a point-in-time summary for status bars and the web view.
type Status struct {
	ProjectID  int64                `json:"project_id"`
	Connection realtime.Status      `json:"connection"`
	Hydrated   bool                 `json:"hydrated"`
	LoadError  string               `json:"load_error,omitempty"`
	Notice     string               `json:"notice,omitempty"`
	Criteria   model.FilterCriteria `json:"criteria"`
	Total      int                  `json:"total"`
	Visible    int                  `json:"visible"`
}

type highlight struct {
	timer realtime.Timer
	seq   uint64
}

type Session struct {
	api      TaskAPI
	activity ActivityLog
	opts     Options
	log      *logrus.Entry

	events     *stream.Stream
	view       *filterview.View
	reconciler *reconcile.Reconciler
	trash      *trash.Store
	conn       *realtime.Manager

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mu          sync.Mutex
	closed      bool
	notice      string
	noticeSeq   uint64
	noticeTimer realtime.Timer
	highlights  map[int64]highlight
	highSeq     uint64

	obsMu     sync.Mutex
	obsNext   uint64
	observers map[uint64]func()
}

func New(deps Deps, opts Options) *Session {
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	if opts.HighlightTTL <= 0 {
		opts.HighlightTTL = DefaultHighlightTTL
	}
	if opts.ActivityLimit <= 0 {
		opts.ActivityLimit = DefaultActivityLimit
	}
	if opts.Scheduler == nil {
		opts.Scheduler = func(d time.Duration, fn func()) realtime.Timer { return time.AfterFunc(d, fn) }
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:        deps.API,
		activity:   deps.Activity,
		opts:       opts,
		log:        logger.WithField("component", "session"),
		events:     stream.New(),
		ctx:        ctx,
		cancel:     cancel,
		highlights: make(map[int64]highlight),
		observers:  make(map[uint64]func()),
	}
	s.view = filterview.New(deps.Criteria, logger)
	s.reconciler = reconcile.New(deps.API, s.view, logger)
	s.trash = trash.New(deps.API, s.events, logger)
	s.conn = realtime.New(deps.Dialer, deps.Credentials, s.events, realtime.Options{
		BaseURL:       opts.WSBaseURL,
		BaseDelay:     opts.BaseDelay,
		MaxAttempts:   opts.MaxAttempts,
		Scheduler:     opts.Scheduler,
		OnOpen:        s.handleOpen,
		OnStateChange: func(realtime.Status) { s.notify() },
	}, logger)

	// Subscribed before any scope is set, so no event can be missed.
	s.unsubs = append(s.unsubs,
		s.events.Subscribe(func(event model.ChangeEvent) { s.reconciler.Apply(event) }),
		s.reconciler.Subscribe(s.handleChange),
		s.view.Subscribe(func([]model.Task) { s.notify() }),
	)
	return s
}

// Open makes projectID the synchronized project: state of the previous one
// is dropped, its stored filter is applied, the channel is switched and the
// tasks are loaded. Zero closes the current project.
func (s *Session) Open(ctx context.Context, projectID int64) error {
	if s.isClosed() {
		return ErrClosed
	}

	// Frames of the previous channel are fenced off before its state goes.
	s.conn.SetActiveScope(projectID)
	s.clearHighlights()
	s.reconciler.Activate(projectID)
	s.trash.Activate(projectID)
	if err := s.view.Activate(ctx, projectID); err != nil {
		s.setNotice("could not load saved filter")
	}
	if projectID == 0 {
		return nil
	}

	if s.activity != nil {
		if err := s.activity.PruneActivity(ctx, projectID, s.opts.ActivityLimit); err != nil {
			s.log.WithError(err).Warn("prune activity")
		}
	}
	s.log.WithField("scope", projectID).Info("project opened")
	return s.Refresh(ctx)
}

// Refresh reloads every task of the open project.
func (s *Session) Refresh(ctx context.Context) error {
	err := s.reconciler.Load(ctx)
	if errors.Is(err, reconcile.ErrNoScope) {
		return ErrNoProject
	}
	return err
}

func (s *Session) Reconnect() {
	s.conn.Reconnect()
}

func (s *Session) handleOpen(scope int64, reconnected bool) {
	if !reconnected || !s.opts.ReloadOnReconnect {
		return
	}
	go func() {
		if err := s.reconciler.Load(s.ctx); err != nil && !errors.Is(err, reconcile.ErrScopeChanged) {
			s.log.WithError(err).WithField("scope", scope).Warn("reload after reconnect failed")
		}
	}()
}

func (s *Session) handleChange(change reconcile.Change) {
	if change.Kind == reconcile.ChangeApplied {
		s.highlight(change.Task.ID)
		s.record(change)
	}
	s.notify()
}

func (s *Session) record(change reconcile.Change) {
	if s.activity == nil {
		return
	}
	_, err := s.activity.AddActivity(s.ctx, model.Activity{
		ProjectID: change.Scope,
		TaskID:    change.Task.ID,
		Action:    change.Action,
		Title:     change.Task.Title,
		ClientRef: change.Task.ClientRef,
		UpdatedAt: change.Task.UpdatedAt,
	})
	if err != nil {
		s.log.WithError(err).WithField("task", change.Task.ID).Warn("record activity")
	}
}

// CreateTask shows the task at once as an optimistic entry, then creates it
// on the server. The confirmed task goes through the event path, where it
// replaces the placeholder. A failed create leaves the placeholder for the
// user to retry or discard.
func (s *Session) CreateTask(ctx context.Context, input model.TaskInput) (model.Task, error) {
	projectID := s.reconciler.Scope()
	if projectID == 0 {
		return model.Task{}, ErrNoProject
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return model.Task{}, ErrTitleRequired
	}

	placeholder, err := s.reconciler.AddOptimistic(input)
	if err != nil {
		return model.Task{}, err
	}
	input.ClientRef = placeholder.ClientRef

	created, err := s.api.CreateTask(ctx, projectID, input)
	if err != nil {
		s.log.WithError(err).WithField("title", input.Title).Warn("create rejected")
		s.setNotice("create failed: " + err.Error())
		return placeholder, errors.Wrap(err, "create task")
	}
	s.events.Publish(model.ChangeEvent{Entity: model.EntityTask, Action: model.ActionCreated, Data: &created})
	return created, nil
}

// UpdateTask patches a confirmed task and feeds the response through the
// event path.
func (s *Session) UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (model.Task, error) {
	if s.reconciler.Scope() == 0 {
		return model.Task{}, ErrNoProject
	}
	if id <= 0 {
		return model.Task{}, ErrUnconfirmed
	}

	updated, err := s.api.UpdateTask(ctx, id, patch)
	if err != nil {
		s.log.WithError(err).WithField("task", id).Warn("update rejected")
		s.setNotice("update failed: " + err.Error())
		return model.Task{}, errors.Wrap(err, "update task")
	}
	s.events.Publish(model.ChangeEvent{Entity: model.EntityTask, Action: model.ActionUpdated, Data: &updated})
	return updated, nil
}

func (s *Session) DeleteTask(ctx context.Context, id int64) error {
	err := s.reconciler.Delete(ctx, id)
	if errors.Is(err, reconcile.ErrNoScope) {
		return ErrNoProject
	}
	if err != nil {
		s.setNotice("delete failed: " + errors.Cause(err).Error())
	}
	return err
}

func (s *Session) SetFilter(ctx context.Context, criteria model.FilterCriteria) error {
	if err := s.view.SetCriteria(ctx, criteria); err != nil {
		s.log.WithError(err).Warn("persist filter")
		s.setNotice("filter applied but not saved")
		return err
	}
	return nil
}

func (s *Session) FetchTrash(ctx context.Context) ([]model.Task, error) {
	items, err := s.trash.Fetch(ctx)
	if errors.Is(err, trash.ErrNoScope) {
		return nil, ErrNoProject
	}
	if err != nil {
		s.setNotice("could not load trash")
		return nil, err
	}
	s.notify()
	return items, nil
}

func (s *Session) RestoreTask(ctx context.Context, id int64) (model.Task, error) {
	restored, err := s.trash.Restore(ctx, id)
	if errors.Is(err, trash.ErrNoScope) {
		return model.Task{}, ErrNoProject
	}
	if err != nil {
		s.setNotice("restore failed: " + errors.Cause(err).Error())
		return model.Task{}, err
	}
	return restored, nil
}

// Trash returns the last fetched deleted tasks and whether they were
// fetched for the open project.
func (s *Session) Trash() ([]model.Task, bool) {
	return s.trash.Items()
}

func (s *Session) Activity(ctx context.Context, limit int) ([]model.Activity, error) {
	projectID := s.reconciler.Scope()
	if projectID == 0 {
		return nil, ErrNoProject
	}
	if s.activity == nil {
		return nil, nil
	}
	return s.activity.ListActivity(ctx, projectID, limit)
}

func (s *Session) ProjectID() int64 {
	return s.reconciler.Scope()
}

func (s *Session) Visible() []model.Task {
	return s.view.Visible()
}

func (s *Session) Tasks() []model.Task {
	return s.reconciler.Tasks()
}

func (s *Session) Criteria() model.FilterCriteria {
	return s.view.Criteria()
}

func (s *Session) Connection() realtime.Status {
	return s.conn.Status()
}

func (s *Session) Status() Status {
	status := Status{
		ProjectID:  s.reconciler.Scope(),
		Connection: s.conn.Status(),
		Hydrated:   s.reconciler.Hydrated(),
		Notice:     s.Notice(),
		Criteria:   s.view.Criteria(),
		Total:      len(s.reconciler.Tasks()),
		Visible:    len(s.view.Visible()),
	}
	if err := s.reconciler.LoadError(); err != nil {
		status.LoadError = err.Error()
	}
	return status
}

func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

func (s *Session) Highlighted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.highlights[id]
	return ok
}

func (s *Session) setNotice(msg string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
	}
	s.notice = msg
	s.noticeSeq++
	seq := s.noticeSeq
	s.noticeTimer = s.opts.Scheduler(s.opts.NoticeTTL, func() {
		s.mu.Lock()
		if s.noticeSeq != seq || s.closed {
			s.mu.Unlock()
			return
		}
		s.notice = ""
		s.noticeTimer = nil
		s.mu.Unlock()
		s.notify()
	})
	s.mu.Unlock()
	s.notify()
}

func (s *Session) highlight(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if current, ok := s.highlights[id]; ok {
		current.timer.Stop()
	}
	s.highSeq++
	seq := s.highSeq
	timer := s.opts.Scheduler(s.opts.HighlightTTL, func() {
		s.mu.Lock()
		current, ok := s.highlights[id]
		if !ok || current.seq != seq {
			s.mu.Unlock()
			return
		}
		delete(s.highlights, id)
		s.mu.Unlock()
		s.notify()
	})
	s.highlights[id] = highlight{timer: timer, seq: seq}
}

func (s *Session) clearHighlights() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.highlights {
		h.timer.Stop()
		delete(s.highlights, id)
	}
}

// OnChange registers fn to run after any visible state changes. fn may run
// on any goroutine.
func (s *Session) OnChange(fn func()) func() {
	s.obsMu.Lock()
	s.obsNext++
	id := s.obsNext
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) notify() {
	s.obsMu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears down the channel and cancels every pending timer. The
// session cannot be reopened.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
		s.noticeTimer = nil
	}
	for id, h := range s.highlights {
		h.timer.Stop()
		delete(s.highlights, id)
	}
	s.mu.Unlock()

	s.conn.Teardown()
	s.cancel()
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	s.reconciler.Reset()
	s.log.Info("session closed")
}
