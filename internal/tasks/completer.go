package tasks

import (
	"context"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/httpclient"
	"github.com/tphakala/geonudge/internal/logger"
)

const maxErrorBodyBytes = 1024

// CompletionHook tells the place/task service that a user completed a task
// from a notification. Any status outside 2xx is an error, so the engine
// leaves its own records untouched until the service has accepted it.
type CompletionHook struct {
	url     string
	headers map[string]string
	client  *httpclient.Client
	log     logger.Logger
}

// completionRequest is the JSON body posted to the completion endpoint.
type completionRequest struct {
	TaskID      string    `json:"taskId"`
	CompletedAt time.Time `json:"completedAt"`
}

// NewCompletionHook validates endpoint and creates the hook. A nil client
// uses the default HTTP client.
func NewCompletionHook(endpoint string, headers map[string]string, client *httpclient.Client, log logger.Logger) (*CompletionHook, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Newf("task completion url must be an absolute http(s) url: %s", logger.RedactSensitiveData(endpoint)).
			Component("tasks").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	return &CompletionHook{
		url:     endpoint,
		headers: maps.Clone(headers),
		client:  client,
		log:     log.Module("tasks"),
	}, nil
}

// CompleteTask posts the completion of taskID.
func (h *CompletionHook) CompleteTask(ctx context.Context, taskID string) error {
	body, err := json.Marshal(completionRequest{TaskID: taskID, CompletedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	resp, err := h.client.PostJSON(ctx, h.url, body, h.headers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Newf("task completion request failed: %s", logger.RedactSensitiveData(err.Error())).
			Component("tasks").
			Category(errors.CategoryNetwork).
			Context("task_id", taskID).
			Build()
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return errors.Newf("task service returned status %d: %s", resp.StatusCode, logger.RedactSensitiveData(string(snippet))).
			Component("tasks").
			Category(errors.CategoryNetwork).
			Context("task_id", taskID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	h.log.Info("task completion forwarded",
		logger.String("task_id", taskID),
		logger.Int("status_code", resp.StatusCode))
	return nil
}
