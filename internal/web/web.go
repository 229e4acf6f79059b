package web

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/session"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var indexTemplate = template.Must(template.New("index.tmpl").Funcs(template.FuncMap{
	"ago": ago,
}).ParseFS(templateFS, "templates/index.tmpl"))

// Board is the synchronized state the server exposes.
type Board interface {
	Visible() []model.Task
	Tasks() []model.Task
	Status() session.Status
	SetFilter(ctx context.Context, criteria model.FilterCriteria) error
	Refresh(ctx context.Context) error
	Reconnect()
	CreateTask(ctx context.Context, input model.TaskInput) (model.Task, error)
	UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	FetchTrash(ctx context.Context) ([]model.Task, error)
	RestoreTask(ctx context.Context, id int64) (model.Task, error)
	Activity(ctx context.Context, limit int) ([]model.Activity, error)
	Open(ctx context.Context, projectID int64) error
}

// ProjectRecorder remembers the project chosen over HTTP so the next start
// opens it again.
type ProjectRecorder func(projectID int64) error

type Server struct {
	board  Board
	record ProjectRecorder
	log    *logrus.Entry
}

// NewServer serves board. record may be nil.
func NewServer(board Board, record ProjectRecorder, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{board: board, record: record, log: logger.WithField("component", "web")}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.indexHandler)
	mux.HandleFunc("GET /api/tasks", s.visibleHandler)
	mux.HandleFunc("GET /api/tasks/all", s.allHandler)
	mux.HandleFunc("POST /api/tasks", s.createHandler)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.updateHandler)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteHandler)
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("PUT /api/filter", s.filterHandler)
	mux.HandleFunc("PUT /api/project", s.projectHandler)
	mux.HandleFunc("POST /api/refresh", s.refreshHandler)
	mux.HandleFunc("POST /api/reconnect", s.reconnectHandler)
	mux.HandleFunc("GET /api/trash", s.trashHandler)
	mux.HandleFunc("POST /api/trash/{id}/restore", s.restoreHandler)
	mux.HandleFunc("GET /api/activity", s.activityHandler)
	return mux
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Status session.Status
		Tasks  []model.Task
	}{Status: s.board.Status(), Tasks: s.board.Visible()}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.log.WithError(err).Warn("render index")
	}
}

func (s *Server) visibleHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Visible())
}

func (s *Server) allHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Tasks())
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Status())
}

func (s *Server) createHandler(w http.ResponseWriter, r *http.Request) {
	var input model.TaskInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := s.board.CreateTask(r.Context(), input)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) updateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var patch model.TaskPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := s.board.UpdateTask(r.Context(), id, patch)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := s.board.DeleteTask(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) filterHandler(w http.ResponseWriter, r *http.Request) {
	var criteria model.FilterCriteria
	if err := decodeBody(r, &criteria); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.board.SetFilter(r.Context(), criteria); err != nil {
		// The filter is applied even when it could not be saved.
		s.log.WithError(err).Warn("filter not saved")
	}
	writeJSON(w, http.StatusOK, s.board.Visible())
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.board.Refresh(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.board.Visible())
}

func (s *Server) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	s.board.Reconnect()
	writeJSON(w, http.StatusAccepted, s.board.Status())
}

func (s *Server) trashHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.board.FetchTrash(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) restoreHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	task, err := s.board.RestoreTask(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) activityHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.Errorf("invalid limit %q", value))
			return
		}
		limit = parsed
	}
	entries, err := s.board.Activity(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// projectHandler switches the synchronized project. Zero closes it. A failed
// task load still leaves the new project open and is reported in load_error.
func (s *Server) projectHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID *int64 `json:"project_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.ProjectID == nil || *body.ProjectID < 0 {
		writeError(w, http.StatusBadRequest, errors.New("project_id must be zero or a positive id"))
		return
	}

	projectID := *body.ProjectID
	err := s.board.Open(r.Context(), projectID)
	if errors.Is(err, session.ErrClosed) {
		s.writeFailure(w, err)
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("project", projectID).Warn("project load failed")
	}
	if s.record != nil {
		if err := s.record(projectID); err != nil {
			s.log.WithError(err).Warn("record project")
		}
	}
	writeJSON(w, http.StatusOK, s.board.Status())
}

// writeFailure maps engine and upstream errors to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *api.Error
	switch {
	case errors.Is(err, session.ErrNoProject):
		status = http.StatusConflict
	case errors.Is(err, session.ErrUnconfirmed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrTitleRequired):
		status = http.StatusBadRequest
	case errors.As(err, &apiErr) && apiErr.Status/100 == 4:
		status = apiErr.Status
	}
	s.log.WithError(err).WithField("status", status).Debug("request failed")
	writeError(w, status, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return errors.Wrap(err, "invalid body")
	}
	return nil
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": errors.Cause(err).Error()})
}
