package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/realtime"
	"github.com/Joseda-hg/tasksync/internal/session"
)

func formatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatTaskSummary(task model.Task, highlighted bool, now time.Time) string {
	id := fmt.Sprintf("#%d", task.ID)
	if task.Optimistic {
		id = "…"
	}
	marker := " "
	if highlighted {
		marker = "*"
	}
	return fmt.Sprintf("%s%-6s %s | %s | %s | %s | %s",
		marker, id, task.Title, task.Status, task.Priority, task.Assignee(), formatAgo(task.UpdatedAt, now))
}

func formatTrashEntry(task model.Task, now time.Time) string {
	return fmt.Sprintf("#%d %s | deleted %s", task.ID, task.Title, formatAgo(task.UpdatedAt, now))
}

func formatActivity(entry model.Activity, now time.Time) string {
	return fmt.Sprintf("%s %s #%d %s", formatAgo(entry.AppliedAt, now), strings.ToLower(string(entry.Action)), entry.TaskID, entry.Title)
}

func formatCriteria(criteria model.FilterCriteria) string {
	status := "any"
	if criteria.Status != nil {
		status = *criteria.Status
	}
	priority := "any"
	if criteria.Priority != nil {
		priority = *criteria.Priority
	}
	assignee := "any"
	if criteria.AssignedTo != nil {
		assignee = fmt.Sprintf("#%d", *criteria.AssignedTo)
	}
	return fmt.Sprintf("Status: %s | Priority: %s | Assignee: %s", status, priority, assignee)
}

func formatConnection(status realtime.Status) string {
	switch {
	case status.Exhausted:
		return "offline (R to reconnect)"
	case status.State == realtime.StateReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d)", status.Attempt)
	default:
		return status.State.String()
	}
}

func formatHeader(status session.Status) string {
	if status.ProjectID == 0 {
		return "No project | " + formatConnection(status.Connection)
	}
	line := fmt.Sprintf("Project %d | Channel: %s | %s | %d/%d tasks",
		status.ProjectID, formatConnection(status.Connection), formatCriteria(status.Criteria), status.Visible, status.Total)
	if !status.Hydrated && status.LoadError == "" {
		line += " | loading"
	}
	return line
}

// cycleOption steps through nil followed by each option, wrapping back to
// nil. Unknown current values restart at the first option.
func cycleOption(options []string, current *string) *string {
	if current == nil {
		return model.StringPtr(options[0])
	}
	for i, option := range options {
		if option == *current {
			if i == len(options)-1 {
				return nil
			}
			return model.StringPtr(options[i+1])
		}
	}
	return model.StringPtr(options[0])
}

func cycleValue(order []string, current string, delta int) string {
	index := 0
	for i, value := range order {
		if value == current {
			index = i
			break
		}
	}
	index = (index + delta + len(order)) % len(order)
	return order[index]
}
