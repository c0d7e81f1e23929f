package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/leapstack-labs/fitetl/internal/state"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func (e errorResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Status)
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	_ = render.Render(w, r, errorResponse{Status: status, Error: err.Error()})
}

// withDataset resolves the current dataset or answers 503.
func (s *Server) withDataset(w http.ResponseWriter, r *http.Request) (*Dataset, bool) {
	ds, err := s.current()
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return nil, false
	}
	return ds, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "loaded": false}
	if ds, err := s.current(); err == nil {
		body["loaded"] = true
		body["rows"] = ds.summary.Rows
		body["loaded_at"] = ds.summary.LoadedAt
	} else {
		body["error"] = err.Error()
	}
	render.JSON(w, r, body)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if ds, ok := s.withDataset(w, r); ok {
		render.JSON(w, r, ds.summary)
	}
}

func (s *Server) handleSeasons(w http.ResponseWriter, r *http.Request) {
	if ds, ok := s.withDataset(w, r); ok {
		render.JSON(w, r, ds.seasons)
	}
}

func (s *Server) handleBMICategories(w http.ResponseWriter, r *http.Request) {
	if ds, ok := s.withDataset(w, r); ok {
		render.JSON(w, r, ds.bmi)
	}
}

func (s *Server) handleParticipantWeekly(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.withDataset(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	weeks, found := ds.weekly[id]
	if !found {
		writeError(w, r, http.StatusNotFound, errors.New("participant "+id+" not found"))
		return
	}
	render.JSON(w, r, weeks)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		render.JSON(w, r, []*state.Run{})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, r, http.StatusBadRequest, errors.New("limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	env := r.URL.Query().Get("env")
	if env == "" {
		env = s.cfg.Environment
	}

	runs, err := s.cfg.Store.ListRuns(r.Context(), env, limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, errors.New("failed to list runs"))
		return
	}
	if runs == nil {
		runs = []*state.Run{}
	}
	render.JSON(w, r, runs)
}
