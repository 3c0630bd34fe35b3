package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/coordinator"
	"github.com/taskmesh/taskmesh/types"
)

// WorkerHandler serves the worker inventory and status signal endpoints.
type WorkerHandler struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// NewWorkerHandler creates a worker handler backed by coord.
func NewWorkerHandler(coord *coordinator.Coordinator, logger *zap.Logger) *WorkerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerHandler{
		coord:  coord,
		logger: logger.With(zap.String("component", "worker_handler")),
	}
}

// HandleList returns a snapshot of every registered worker.
func (h *WorkerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.coord.GetWorkerStatus())
}

// NotifyStatusRequest is the POST /api/v1/workers/{id}/status body.
type NotifyStatusRequest struct {
	Signal string `json:"signal"`
}

// HandleNotify records a worker status signal. An idle signal from an
// offline worker revives it.
func (h *WorkerHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "worker id is required", h.logger)
		return
	}

	var req NotifyStatusRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	signal := coordinator.StatusSignal(req.Signal)
	switch signal {
	case coordinator.SignalIdle, coordinator.SignalBusy, coordinator.SignalFailed, coordinator.SignalCompleted:
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "unknown status signal", h.logger)
		return
	}

	if err := h.coord.NotifyStatus(id, signal); err != nil {
		writeCoordError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"worker_id": id, "signal": req.Signal})
}
