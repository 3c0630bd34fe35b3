package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/coordinator"
	"github.com/taskmesh/taskmesh/types"
)

// TaskHandler serves task submission, status, queue, and handoff endpoints.
type TaskHandler struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// NewTaskHandler creates a task handler backed by coord.
func NewTaskHandler(coord *coordinator.Coordinator, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		coord:  coord,
		logger: logger.With(zap.String("component", "task_handler")),
	}
}

// SubmitTaskRequest is the POST /api/v1/tasks body.
type SubmitTaskRequest struct {
	RequiredCapabilities []string               `json:"required_capabilities"`
	Description          string                 `json:"description"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	Priority             string                 `json:"priority,omitempty"`
	Deadline             *time.Time             `json:"deadline,omitempty"`
}

// SubmitTaskResponse carries the assigned task id.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// HandleSubmit enqueues a task.
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Description == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "description is required", h.logger)
		return
	}

	priority := coordinator.PriorityMedium
	if req.Priority != "" {
		p, err := coordinator.ParsePriority(req.Priority)
		if err != nil {
			writeCoordError(w, err, h.logger)
			return
		}
		priority = p
	}

	tctx := &coordinator.TaskContext{
		Description: req.Description,
		Metadata:    req.Metadata,
	}
	id, err := h.coord.SubmitTask(req.RequiredCapabilities, tctx, priority, req.Deadline)
	if err != nil {
		writeCoordError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      SubmitTaskResponse{TaskID: id},
		Timestamp: time.Now(),
	})
}

// HandleGet returns a task snapshot.
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task id is required", h.logger)
		return
	}

	view, err := h.coord.GetTaskStatus(id)
	if err != nil {
		writeCoordError(w, err, h.logger)
		return
	}
	WriteSuccess(w, view)
}

// HandoffTaskRequest is the POST /api/v1/tasks/{id}/handoff body.
type HandoffTaskRequest struct {
	FromWorker           string   `json:"from_worker,omitempty"`
	Reason               string   `json:"reason"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	Urgency              string   `json:"urgency,omitempty"`
}

// HandleHandoff moves an in-progress task to another worker.
func (h *TaskHandler) HandleHandoff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task id is required", h.logger)
		return
	}

	var req HandoffTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	err := h.coord.RequestHandoff(coordinator.HandoffRequest{
		TaskID:               id,
		FromWorker:           req.FromWorker,
		Reason:               req.Reason,
		RequiredCapabilities: req.RequiredCapabilities,
		Urgency:              req.Urgency,
	})
	if err != nil {
		writeCoordError(w, err, h.logger)
		return
	}

	view, err := h.coord.GetTaskStatus(id)
	if err != nil {
		writeCoordError(w, err, h.logger)
		return
	}
	WriteSuccess(w, view)
}

// HandleQueue returns task counts by status.
func (h *TaskHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.coord.GetQueueStatus())
}
