package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/todosync/todosync/internal/repository"
)

// Handler feeds repository and coordinator changes to the server.
type Handler struct {
	server *Server
	repo   *repository.Repository
	api    *api
	logger *log.Logger

	// StatsInterval is how often stats are polled between task changes.
	StatsInterval time.Duration

	lastStats []byte
}

// NewHandler creates a handler connected to a dashboard server.
func NewHandler(server *Server, repo *repository.Repository, syncer Syncer, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	return &Handler{
		server:        server,
		repo:          repo,
		api:           newAPI(repo, syncer, server, logger),
		logger:        logger,
		StatsInterval: 5 * time.Second,
	}
}

// Run broadcasts until ctx is canceled.
func (h *Handler) Run(ctx context.Context) error {
	views := h.repo.ObserveTasks(ctx)
	ticker := time.NewTicker(h.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			h.OnTasks(v)
			h.broadcastStats(ctx)
		case <-ticker.C:
			h.broadcastStats(ctx)
		}
	}
}

// OnTasks broadcasts a new task list.
func (h *Handler) OnTasks(views []repository.TaskView) {
	if views == nil {
		views = []repository.TaskView{}
	}
	data, err := json.Marshal(views)
	if err != nil {
		h.logger.Printf("Failed to marshal tasks: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeTasks, Timestamp: time.Now(), Data: data})
}

// broadcastStats sends current statistics when they changed.
func (h *Handler) broadcastStats(ctx context.Context) {
	stats, err := h.api.statusData(ctx)
	if err != nil {
		h.logger.Printf("Failed to read stats: %v", err)
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}
	if bytes.Equal(data, h.lastStats) {
		return
	}
	h.lastStats = data
	h.server.Broadcast(Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data})
}
