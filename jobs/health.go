package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// QueueInspector reports queue depth; *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves the queue health probe under /jobs.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler builds the probe. A nil inspector reports an empty queue.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func healthOf(info *asynq.QueueInfo) queueHealth {
	if info == nil {
		return queueHealth{Queue: QueueDefault}
	}
	return queueHealth{Queue: info.Queue, Pending: info.Pending, Active: info.Active, Retry: info.Retry}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	var info *asynq.QueueInfo
	if h.inspector != nil {
		var err error
		if info, err = h.inspector.GetQueueInfo(QueueDefault); err != nil {
			h.logger.Warn("queue health probe failed", slog.String("queue", QueueDefault), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
			return
		}
	}
	httpx.JSON(w, http.StatusOK, healthOf(info))
}
