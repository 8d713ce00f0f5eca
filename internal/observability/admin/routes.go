// Package admin is the optional operator HTTP surface: health, Prometheus
// metrics, task inspection/removal, scheduler state and pprof.
package admin

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"

	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/internal/task/scheduler"
	"github.com/utestwalter/Mila/pkg/logx"
)

type TaskReader interface {
	Get(ctx context.Context, id string) (storage.TaskDefinition, bool, error)
	List(ctx context.Context, f storage.Filter) (storage.Listing, error)
}

// TaskRemover unschedules and deletes a task regardless of owner.
type TaskRemover interface {
	Purge(ctx context.Context, actor, id string) (bool, error)
}

type Deps struct {
	Tasks     TaskReader
	Remover   TaskRemover
	Scheduler interface{ Snapshot() scheduler.Snapshot }
	Engine    interface{ Snapshot() engine.Snapshot }
	Metrics   http.Handler
}

type taskView struct {
	ID           string        `json:"id"`
	Owner        string        `json:"owner"`
	Kind         string        `json:"kind"`
	Instructions string        `json:"instructions"`
	SearchQuery  string        `json:"search_query,omitempty"`
	Schedule     schedule.Wire `json:"schedule"`
	Display      string        `json:"display"`
	ChatID       int64         `json:"chat_id"`
	ThreadID     int           `json:"thread_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at,omitzero"`
}

func viewOf(d storage.TaskDefinition) taskView {
	kind := "search"
	if d.IsReminder() {
		kind = "reminder"
	}
	return taskView{
		ID:           d.ID,
		Owner:        d.Owner,
		Kind:         kind,
		Instructions: d.Instructions,
		SearchQuery:  d.SearchQuery,
		Schedule:     schedule.Encode(d.Schedule),
		Display:      schedule.Describe(d.Schedule),
		ChatID:       d.Recipient.ChatID,
		ThreadID:     d.Recipient.ThreadID,
		CreatedAt:    d.CreatedAt,
	}
}

// Handler builds the router for cfg. It is exported for tests and for
// embedding behind another server.
func (s *Service) Handler(cfg Config) http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware, authMiddleware(cfg.Token))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.getTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.deleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/schedule", s.scheduleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/engine", s.engineSnapshot).Methods(http.MethodGet)

	if cfg.Pprof {
		r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(hpprof.Index)
	}
	return r
}

func (s *Service) listTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		httpError(w, http.StatusServiceUnavailable, "task store not configured")
		return
	}
	l, err := s.deps.Tasks.List(r.Context(), storage.Filter{Owner: r.URL.Query().Get("owner")})
	if err != nil {
		s.log.Warn("admin list failed", logx.Err(err))
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := struct {
		Tasks      []taskView              `json:"tasks"`
		Corrupt    []storage.CorruptRecord `json:"corrupt,omitempty"`
		Unreadable []storage.CorruptRecord `json:"unreadable,omitempty"`
	}{Tasks: make([]taskView, 0, len(l.IDs)), Corrupt: l.Corrupt, Unreadable: l.Unreadable}
	for _, id := range l.IDs {
		d, found, err := s.deps.Tasks.Get(r.Context(), id)
		if err != nil || !found {
			// deleted or corrupted between List and Get
			continue
		}
		out.Tasks = append(out.Tasks, viewOf(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) getTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		httpError(w, http.StatusServiceUnavailable, "task store not configured")
		return
	}
	id := mux.Vars(r)["id"]
	if err := storage.ValidateID(id); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, found, err := s.deps.Tasks.Get(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		httpError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		httpError(w, http.StatusInternalServerError, err.Error())
	case !found:
		httpError(w, http.StatusNotFound, "task not found")
	default:
		writeJSON(w, http.StatusOK, viewOf(d))
	}
}

func (s *Service) deleteTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Remover == nil {
		httpError(w, http.StatusServiceUnavailable, "task removal not configured")
		return
	}
	id := mux.Vars(r)["id"]
	existed, err := s.deps.Remover.Purge(r.Context(), "admin-http", id)
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		httpError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		httpError(w, http.StatusInternalServerError, err.Error())
	case !existed:
		httpError(w, http.StatusNotFound, "task not found")
	default:
		s.log.Info("task removed via admin api", logx.String("task", id))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) scheduleSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		httpError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Snapshot())
}

func (s *Service) engineSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Engine == nil {
		httpError(w, http.StatusServiceUnavailable, "engine not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Engine.Snapshot())
}

func (s *Service) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("admin handler panic", logx.String("path", r.URL.Path), logx.Any("panic", rec), logx.Stack(logx.StackTrace(3, 16)))
				httpError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware accepts "Authorization: Bearer <token>" or ?token=<token>.
func authMiddleware(token string) mux.MiddlewareFunc {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	httpError(w, http.StatusUnauthorized, "unauthorized")
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
