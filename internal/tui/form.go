package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Joseda-hg/tasksync/internal/model"
)

type formField struct {
	Label string
	Value string
}

const (
	fieldTitle = iota
	fieldDescription
	fieldStatus
	fieldPriority
	fieldAssignee
)

func buildFormFields(task *model.Task) []formField {
	fields := []formField{
		{Label: "Title"},
		{Label: "Description"},
		{Label: "Status (space/←→)"},
		{Label: "Priority (space/←→)"},
		{Label: "Assignee id"},
	}

	if task == nil {
		fields[fieldStatus].Value = model.Statuses[0]
		fields[fieldPriority].Value = model.Priorities[1]
		return fields
	}

	fields[fieldTitle].Value = task.Title
	fields[fieldDescription].Value = task.Description
	fields[fieldStatus].Value = task.Status
	fields[fieldPriority].Value = task.Priority
	if task.AssignedTo != nil {
		fields[fieldAssignee].Value = strconv.FormatInt(*task.AssignedTo, 10)
	}
	return fields
}

func parseFormFields(fields []formField) (model.TaskInput, error) {
	title := strings.TrimSpace(fields[fieldTitle].Value)
	if title == "" {
		return model.TaskInput{}, fmt.Errorf("title is required")
	}

	assignee, err := parseAssignee(fields[fieldAssignee].Value)
	if err != nil {
		return model.TaskInput{}, err
	}

	return model.TaskInput{
		Title:       title,
		Description: strings.TrimSpace(fields[fieldDescription].Value),
		Status:      strings.TrimSpace(fields[fieldStatus].Value),
		Priority:    strings.TrimSpace(fields[fieldPriority].Value),
		AssignedTo:  assignee,
	}, nil
}

func buildProjectFields(current int64) []formField {
	field := formField{Label: "Project id (0 closes)"}
	if current != 0 {
		field.Value = strconv.FormatInt(current, 10)
	}
	return []formField{field}
}

func parseProjectField(fields []formField) (int64, error) {
	trimmed := strings.TrimSpace(fields[0].Value)
	if trimmed == "" {
		return 0, fmt.Errorf("project id is required")
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid project id")
	}
	return parsed, nil
}

func parseAssignee(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || parsed <= 0 {
		return nil, fmt.Errorf("invalid assignee id")
	}
	return &parsed, nil
}

// patchFromInput keeps only the fields that differ from the original task.
// Clearing the assignee is not expressible in a patch and is ignored.
func patchFromInput(original model.Task, input model.TaskInput) model.TaskPatch {
	var patch model.TaskPatch
	if input.Title != original.Title {
		patch.Title = model.StringPtr(input.Title)
	}
	if input.Description != original.Description {
		patch.Description = model.StringPtr(input.Description)
	}
	if input.Status != original.Status {
		patch.Status = model.StringPtr(input.Status)
	}
	if input.Priority != original.Priority {
		patch.Priority = model.StringPtr(input.Priority)
	}
	if input.AssignedTo != nil && (original.AssignedTo == nil || *original.AssignedTo != *input.AssignedTo) {
		patch.AssignedTo = model.Int64Ptr(*input.AssignedTo)
	}
	return patch
}

func patchIsEmpty(patch model.TaskPatch) bool {
	return patch.Title == nil && patch.Description == nil && patch.Status == nil && patch.Priority == nil && patch.AssignedTo == nil
}

func isStatusField(label string) bool {
	return strings.HasPrefix(label, "Status")
}

func isPriorityField(label string) bool {
	return strings.HasPrefix(label, "Priority")
}
