package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/todosync/todosync/internal/local"
	"github.com/todosync/todosync/internal/repository"
	tsync "github.com/todosync/todosync/internal/sync"
	"github.com/todosync/todosync/internal/syncerr"
	"github.com/todosync/todosync/internal/task"
)

// Syncer is the part of the sync coordinator the dashboard drives.
type Syncer interface {
	SyncOnce(ctx context.Context) error
	Retry(ctx context.Context, id int64) error
	Stats() tsync.Stats
}

// StatusData is served by /api/status and broadcast as MessageTypeStats.
type StatusData struct {
	Counts local.Counts `json:"counts"`
	Sync   tsync.Stats  `json:"sync"`
}

// SyncCompleteData reports a sync requested through the API.
type SyncCompleteData struct {
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type completeRequest struct {
	Date string `json:"date"`
}

type api struct {
	repo   *repository.Repository
	syncer Syncer
	server *Server
	logger *log.Logger
}

func newAPI(repo *repository.Repository, syncer Syncer, server *Server, logger *log.Logger) *api {
	return &api{repo: repo, syncer: syncer, server: server, logger: logger}
}

func (a *api) register(r *mux.Router) {
	r.HandleFunc("/tasks", a.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks", a.createTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id:[0-9]+}", a.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id:[0-9]+}", a.updateTask).Methods(http.MethodPut)
	r.HandleFunc("/tasks/{id:[0-9]+}", a.deleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/tasks/{id:[0-9]+}/complete", a.completeTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id:[0-9]+}/retry", a.retryTask).Methods(http.MethodPost)
	r.HandleFunc("/status", a.status).Methods(http.MethodGet)
	r.HandleFunc("/sync", a.sync).Methods(http.MethodPost)
}

func (a *api) listTasks(w http.ResponseWriter, r *http.Request) {
	views, err := a.repo.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	if views == nil {
		views = []repository.TaskView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *api) createTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, syncerr.Permanent("Save", 0, fmt.Errorf("%w: %w", syncerr.ErrInvalid, err)))
		return
	}
	t.ID = 0
	v, err := a.repo.Save(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *api) getTask(w http.ResponseWriter, r *http.Request) {
	v, err := a.repo.Get(r.Context(), pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) updateTask(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, syncerr.Permanent("Save", id, fmt.Errorf("%w: %w", syncerr.ErrInvalid, err)))
		return
	}
	t.ID = id
	v, err := a.repo.Save(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.Delete(r.Context(), pathID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) completeTask(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	var req completeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, syncerr.Permanent("Complete", id, fmt.Errorf("%w: %w", syncerr.ErrInvalid, err)))
			return
		}
	}
	v, err := a.repo.Complete(r.Context(), id, req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) retryTask(w http.ResponseWriter, r *http.Request) {
	if a.syncer == nil {
		http.Error(w, "sync is not running", http.StatusServiceUnavailable)
		return
	}
	id := pathID(r)
	if err := a.syncer.Retry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	data, err := a.statusData(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *api) statusData(ctx context.Context) (StatusData, error) {
	counts, err := a.repo.Counts(ctx)
	if err != nil {
		return StatusData{}, err
	}
	data := StatusData{Counts: counts}
	if a.syncer != nil {
		data.Sync = a.syncer.Stats()
	}
	return data, nil
}

func (a *api) sync(w http.ResponseWriter, r *http.Request) {
	if a.syncer == nil {
		http.Error(w, "sync is not running", http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	err := a.syncer.SyncOnce(r.Context())
	done := SyncCompleteData{Duration: time.Since(start)}
	if err != nil {
		done.Error = err.Error()
	}
	if raw, merr := json.Marshal(done); merr == nil {
		a.server.Broadcast(Message{Type: MessageTypeSyncComplete, Data: raw})
	}

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tsync.ErrPaused):
		status = http.StatusServiceUnavailable
	case syncerr.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, syncerr.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, syncerr.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case syncerr.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: syncerr.KindOf(err).String()})
}
