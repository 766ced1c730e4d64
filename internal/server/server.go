package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ldi/sitetask/internal/db"
	"github.com/ldi/sitetask/pkg/models"
)

type Server struct {
	db     *db.DB
	mux    *http.ServeMux
	server *http.Server
}

func NewServer(database *db.DB) *Server {
	s := &Server{
		db:  database,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/tasks", s.handleList)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreate)
	s.mux.HandleFunc("GET /api/tasks/priority", s.handlePriority)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGet)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDelete)
	s.mux.HandleFunc("PATCH /api/tasks/{id}/reorder", s.handleReorder)

	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	tasks, err := s.db.ListTasks(r.Context(), f)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.db.GetTaskDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.PriorityTasks(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type taskPayload struct {
	Title    string            `json:"title"`
	Site     string            `json:"site"`
	ParentID *string           `json:"parent_id"`
	Status   models.TaskStatus `json:"status"`
	Progress int               `json:"progress"`
	Deadline *time.Time        `json:"deadline"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task taskPayload `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	t := &models.Task{
		Title:     req.Task.Title,
		Site:      req.Task.Site,
		ParentID:  req.Task.ParentID,
		Status:    req.Task.Status,
		Progress:  req.Task.Progress,
		Deadline:  req.Task.Deadline,
		CreatedBy: "api",
	}
	if err := s.db.CreateTask(r.Context(), t); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch models.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	t, err := s.db.UpdateTask(r.Context(), r.PathValue("id"), &patch)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AfterID *string `json:"after_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	id := r.PathValue("id")
	if err := s.db.ReorderTask(r.Context(), id, req.AfterID); err != nil {
		s.respondError(w, err)
		return
	}

	t, err := s.db.GetTask(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// filterFromQuery parses the list query parameters. Unknown order keys and
// statuses are caught by the store's own validation.
func filterFromQuery(r *http.Request) (*db.TaskFilter, error) {
	q := r.URL.Query()
	f := &db.TaskFilter{
		Site:        q.Get("site"),
		OrderBy:     q.Get("order_by"),
		Desc:        q.Get("dir") == "desc",
		ParentsOnly: q.Get("parents_only") == "1",
	}

	statuses := q["status[]"]
	if len(statuses) == 0 {
		statuses = q["status"]
	}
	for _, s := range statuses {
		f.Statuses = append(f.Statuses, models.TaskStatus(s))
	}

	for name, dst := range map[string]**int{"progress_min": &f.ProgressMin, "progress_max": &f.ProgressMax} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New(name + " must be an integer")
		}
		*dst = &v
	}

	return f, nil
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrValidation), errors.Is(err, db.ErrCapacity), errors.Is(err, db.ErrConflict):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		// Internal details stay out of the response.
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
