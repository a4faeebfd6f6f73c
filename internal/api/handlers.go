package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/notification"
)

// ActionRequest is the body of POST /notifications/:id/actions.
type ActionRequest struct {
	Action   string `json:"action"`
	Duration string `json:"duration,omitempty"`
}

// TaskRequest is the body of PUT /tasks/:taskId.
type TaskRequest struct {
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	PlaceName string `json:"placeName"`
	Status    string `json:"status"`
}

// TaskResponse reports the outcome of a task sync.
type TaskResponse struct {
	TaskID    string              `json:"taskId"`
	Status    entities.TaskStatus `json:"status"`
	Cancelled int                 `json:"cancelled"`
}

// HistoryResponse wraps a user's notification history.
type HistoryResponse struct {
	UserID        string                          `json:"userId"`
	Count         int                             `json:"count"`
	Notifications []notification.NotificationView `json:"notifications"`
}

func badRequest(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// requestContext bounds engine calls made on behalf of c.
func (s *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
}

// reportGeofenceEvent handles POST /api/v1/geofence-events.
func (s *Server) reportGeofenceEvent(c echo.Context) error {
	var report notification.GeofenceReport
	if err := c.Bind(&report); err != nil {
		return s.handleError(c, badRequest("invalid request body: %v", err), "Invalid geofence report")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.engine.ReportGeofenceEvent(ctx, report)
	if err != nil {
		return s.handleError(c, err, "Failed to process geofence report")
	}

	code := http.StatusOK
	if result.Disposition == notification.DispositionAccepted {
		code = http.StatusAccepted
	}
	return c.JSON(code, result)
}

// performAction handles POST /api/v1/notifications/:id/actions.
func (s *Server) performAction(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid request body: %v", err), "Invalid action")
	}
	action, err := notification.ParseAction(req.Action, req.Duration)
	if err != nil {
		return s.handleError(c, err, "Invalid action")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.engine.PerformNotificationAction(ctx, c.Param("id"), action)
	if err != nil {
		return s.handleError(c, err, "Failed to apply action")
	}
	return c.JSON(http.StatusOK, result)
}

// getNotification handles GET /api/v1/notifications/:id.
func (s *Server) getNotification(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	view, err := s.engine.GetNotification(ctx, c.Param("id"))
	if err != nil {
		return s.handleError(c, err, "Failed to get notification")
	}
	return c.JSON(http.StatusOK, view)
}

// getHistory handles GET /api/v1/users/:userId/notifications.
func (s *Server) getHistory(c echo.Context) error {
	filter, err := parseHistoryFilter(c)
	if err != nil {
		return s.handleError(c, err, "Invalid history query")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	userID := c.Param("userId")
	views, err := s.engine.GetNotificationHistory(ctx, userID, filter)
	if err != nil {
		return s.handleError(c, err, "Failed to get notification history")
	}
	if views == nil {
		views = []notification.NotificationView{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{UserID: userID, Count: len(views), Notifications: views})
}

func parseHistoryFilter(c echo.Context) (notification.HistoryFilter, error) {
	var filter notification.HistoryFilter

	statuses, err := notification.ParseStatuses(c.QueryParam("status"))
	if err != nil {
		return filter, err
	}
	filter.Statuses = statuses

	kind, err := notification.ParseKind(c.QueryParam("kind"))
	if err != nil {
		return filter, err
	}
	filter.Kind = kind
	filter.TaskID = strings.TrimSpace(c.QueryParam("task"))

	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, badRequest("since must be RFC3339: %q", v)
		}
		filter.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, badRequest("until must be RFC3339: %q", v)
		}
		filter.Until = &t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, badRequest("limit must be a non-negative integer: %q", v)
		}
		filter.Limit = n
	}
	return filter, nil
}

// syncTask handles PUT /api/v1/tasks/:taskId.
func (s *Server) syncTask(c echo.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, badRequest("invalid request body: %v", err), "Invalid task")
	}

	task := entities.TaskState{
		TaskID:    c.Param("taskId"),
		UserID:    req.UserID,
		Title:     req.Title,
		PlaceName: req.PlaceName,
		Status:    entities.TaskStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	cancelled, err := s.engine.SyncTask(ctx, task)
	if err != nil {
		return s.handleError(c, err, "Failed to sync task")
	}
	status := task.Status
	if status == "" {
		status = entities.TaskActive
	}
	return c.JSON(http.StatusOK, TaskResponse{TaskID: task.TaskID, Status: status, Cancelled: cancelled})
}

// unmuteTask handles DELETE /api/v1/tasks/:taskId/mute.
func (s *Server) unmuteTask(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	ok, err := s.engine.Unmute(ctx, c.Param("taskId"))
	if err != nil {
		return s.handleError(c, err, "Failed to unmute task")
	}
	if !ok {
		return s.handleError(c, errors.Newf("task %s is not muted", c.Param("taskId")).
			Component("api").
			Category(errors.CategoryNotFound).
			Build(), "No active mute")
	}
	return c.NoContent(http.StatusNoContent)
}

// runProcessor handles POST /api/v1/admin/processor/run.
func (s *Server) runProcessor(c echo.Context) error {
	report, err := s.engine.RunNow(c.Request().Context())
	if errors.Is(err, notification.ErrLeaseHeld) {
		return s.handleError(c, echo.NewHTTPError(http.StatusConflict, err.Error()), "Processor run already in progress")
	}
	if err != nil {
		return s.handleError(c, err, "Processor run failed")
	}
	return c.JSON(http.StatusOK, report)
}
