// Package api talks to the task service over REST.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/model"
)

// slowRequest is the duration past which a request is logged at Info.
const slowRequest = 800 * time.Millisecond

type TokenSource interface {
	Token() string
}

// Error is a non-2xx response. Detail is the server's message when the
// body carried one.
type Error struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.Path, e.Status)
}

func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden)
}

type Client struct {
	baseURL string
	hc      *http.Client
	tokens  TokenSource
	log     *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     logger.WithField("component", "api"),
	}
}

func (c *Client) ListTasks(ctx context.Context, projectID int64) ([]model.Task, error) {
	var tasks []model.Task
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/projects/%d/tasks/", projectID), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) ListDeletedTasks(ctx context.Context, projectID int64) ([]model.Task, error) {
	var tasks []model.Task
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/projects/%d/tasks/trash/", projectID), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, projectID int64, input model.TaskInput) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/projects/%d/tasks/", projectID), input, &task)
	return task, err
}

func (c *Client) UpdateTask(ctx context.Context, taskID int64, patch model.TaskPatch) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/tasks/%d/", taskID), patch, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d/", taskID), nil, nil)
}

func (c *Client) RestoreTask(ctx context.Context, taskID int64) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/restore/", taskID), nil, &task)
	return task, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.WithStack(err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.WithError(err).Debug("close response body")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s %s", method, path)
	}

	entry := c.log.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
		"took":   time.Since(start).String(),
	})
	if time.Since(start) > slowRequest {
		entry.Info("slow request")
	} else {
		entry.Debug("request done")
	}

	if resp.StatusCode/100 != 2 {
		return decodeError(method, path, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func decodeError(method, path string, status int, data []byte) error {
	apiErr := &Error{Method: method, Path: path, Status: status}
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Detail = body.Detail
	}
	return apiErr
}
