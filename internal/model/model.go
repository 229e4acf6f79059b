package model

import "time"

// EntityTask is the only entity tag the sync engine acts on.
const EntityTask = "task"

type Action string

const (
	ActionCreated  Action = "CREATED"
	ActionUpdated  Action = "UPDATED"
	ActionDeleted  Action = "DELETED"
	ActionRestored Action = "RESTORED"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted, ActionRestored:
		return true
	}
	return false
}

// Task is a full server snapshot of a task. Optimistic is client-only and
// never crosses the wire.
type Task struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Status           string    `json:"status"`
	Priority         string    `json:"priority"`
	AssignedTo       *int64    `json:"assigned_to"`
	AssignedUsername *string   `json:"assigned_username"`
	IsDeleted        bool      `json:"is_deleted"`
	UpdatedAt        time.Time `json:"updated_at"`
	ClientRef        string    `json:"client_ref,omitempty"`
	Optimistic       bool      `json:"-"`
}

// Version is the numeric form of UpdatedAt used for ordering.
func (t Task) Version() int64 {
	if t.UpdatedAt.IsZero() {
		return 0
	}
	return t.UpdatedAt.UnixNano()
}

func (t Task) Assignee() string {
	if t.AssignedUsername != nil && *t.AssignedUsername != "" {
		return *t.AssignedUsername
	}
	return "unassigned"
}

type ChangeEvent struct {
	Entity string `json:"entity"`
	Action Action `json:"action"`
	Data   *Task  `json:"data"`
}

// TaskInput is the create payload.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssignedTo  *int64 `json:"assigned_to"`
	ClientRef   string `json:"client_ref,omitempty"`
}

// TaskPatch is the partial update payload; nil fields are left untouched.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	AssignedTo  *int64  `json:"assigned_to,omitempty"`
}

// FilterCriteria narrows the visible task set. A nil field means no filter
// on that dimension.
type FilterCriteria struct {
	Status     *string `json:"status,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	AssignedTo *int64  `json:"assigned_to,omitempty"`
}

func (f FilterCriteria) Matches(task Task) bool {
	if f.Status != nil && task.Status != *f.Status {
		return false
	}
	if f.Priority != nil && task.Priority != *f.Priority {
		return false
	}
	if f.AssignedTo != nil && (task.AssignedTo == nil || *task.AssignedTo != *f.AssignedTo) {
		return false
	}
	return true
}

func (f FilterCriteria) IsEmpty() bool {
	return f.Status == nil && f.Priority == nil && f.AssignedTo == nil
}

// Activity is one applied change, kept in the local ledger.
type Activity struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	TaskID    int64     `json:"task_id"`
	Action    Action    `json:"action"`
	Title     string    `json:"title"`
	ClientRef string    `json:"client_ref,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	AppliedAt time.Time `json:"applied_at"`
}

// Statuses and Priorities are the codes the UI cycles through. The server
// may send others; they are displayed as-is.
var (
	Statuses   = []string{"TODO", "IN_PROGRESS", "DONE"}
	Priorities = []string{"LOW", "MED", "HIGH"}
)

func StringPtr(value string) *string {
	return &value
}

func Int64Ptr(value int64) *int64 {
	return &value
}
