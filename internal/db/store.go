package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/tasksync/internal/model"
)

// DefaultActivityLimit bounds ListActivity when the caller passes zero.
const DefaultActivityLimit = 200

type Store struct {
	DB  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

func (s *Store) LoadCriteria(ctx context.Context, projectID int64) (model.FilterCriteria, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx,
		"SELECT criteria_json FROM filter_criteria WHERE project_id = ?", projectID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return model.FilterCriteria{}, nil
	}
	if err != nil {
		return model.FilterCriteria{}, fmt.Errorf("load criteria: %w", err)
	}

	var criteria model.FilterCriteria
	if strings.TrimSpace(payload) == "" {
		return criteria, nil
	}
	if err := json.Unmarshal([]byte(payload), &criteria); err != nil {
		return model.FilterCriteria{}, fmt.Errorf("parse criteria: %w", err)
	}
	return criteria, nil
}

func (s *Store) SaveCriteria(ctx context.Context, projectID int64, criteria model.FilterCriteria) error {
	if criteria.IsEmpty() {
		if _, err := s.DB.ExecContext(ctx, "DELETE FROM filter_criteria WHERE project_id = ?", projectID); err != nil {
			return fmt.Errorf("clear criteria: %w", err)
		}
		return nil
	}

	payload, err := json.Marshal(criteria)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
INSERT INTO filter_criteria (project_id, criteria_json, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(project_id) DO UPDATE SET
  criteria_json = excluded.criteria_json,
  updated_at = excluded.updated_at`, projectID, string(payload))
	if err != nil {
		return fmt.Errorf("save criteria: %w", err)
	}
	return nil
}

// Token returns the stored bearer token, or "" when none is stored.
func (s *Store) Token(ctx context.Context) (string, error) {
	var token string
	err := s.DB.QueryRowContext(ctx, "SELECT token FROM credentials WHERE id = 1").Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

func (s *Store) SaveToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is required")
	}

	_, err := s.DB.ExecContext(ctx, `
INSERT INTO credentials (id, token, saved_at)
VALUES (1, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  token = excluded.token,
  saved_at = excluded.saved_at`, token)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *Store) ClearToken(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM credentials"); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

func (s *Store) AddActivity(ctx context.Context, entry model.Activity) (model.Activity, error) {
	if entry.AppliedAt.IsZero() {
		entry.AppliedAt = s.now()
	}

	var updatedAt int64
	if !entry.UpdatedAt.IsZero() {
		updatedAt = entry.UpdatedAt.UnixNano()
	}

	result, err := s.DB.ExecContext(ctx, `
INSERT INTO activity (project_id, task_id, action, title, client_ref, updated_at_ns, applied_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ProjectID, entry.TaskID, string(entry.Action), entry.Title, entry.ClientRef,
		updatedAt, entry.AppliedAt.UnixNano(),
	)
	if err != nil {
		return model.Activity{}, fmt.Errorf("add activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.Activity{}, err
	}
	entry.ID = id
	return entry, nil
}

// ListActivity returns the newest entries for a project first.
func (s *Store) ListActivity(ctx context.Context, projectID int64, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT id, project_id, task_id, action, title, client_ref, updated_at_ns, applied_at_ns
FROM activity
WHERE project_id = ?
ORDER BY id DESC
LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]model.Activity, 0)
	for rows.Next() {
		var (
			entry     model.Activity
			action    string
			updatedAt int64
			appliedAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.TaskID, &action, &entry.Title, &entry.ClientRef, &updatedAt, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.Action = model.Action(action)
		entry.UpdatedAt = fromNanos(updatedAt)
		entry.AppliedAt = fromNanos(appliedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// PruneActivity keeps the newest keep entries of a project.
func (s *Store) PruneActivity(ctx context.Context, projectID int64, keep int) error {
	if keep <= 0 {
		keep = DefaultActivityLimit
	}
	_, err := s.DB.ExecContext(ctx, `
DELETE FROM activity
WHERE project_id = ? AND id NOT IN (
  SELECT id FROM activity WHERE project_id = ? ORDER BY id DESC LIMIT ?
)`, projectID, projectID, keep)
	if err != nil {
		return fmt.Errorf("prune activity: %w", err)
	}
	return nil
}

func fromNanos(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(0, value)
}
