package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/diagdump/internal/dump"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/history"
	"github.com/mattjoyce/diagdump/internal/interrupt"
	"github.com/mattjoyce/diagdump/internal/sink"
)

const maxBodyBytes = 64 << 10

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SessionActive: s.dumper.Busy(),
	}
	reg, err := s.dumper.Features()
	if err != nil {
		resp.Status = "degraded"
		resp.MappingError = err.Error()
	} else {
		resp.FeaturesLoaded = reg.Len()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListFeatures handles GET /features. Only diagnosable features are
// listed unless ?all=true.
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	reg, err := s.dumper.Features()
	if err != nil {
		s.logger.Error("failed to resolve feature mapping", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	list := reg.Enabled()
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		list = reg.Features()
	}

	resp := FeatureListResponse{
		Title:    "Diagnostic Dump Supported Features List",
		Features: make([]featuremap.Feature, 0, len(list)),
	}
	for _, f := range list {
		resp.Features = append(resp.Features, *f)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetFeature handles GET /features/{name}.
func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	reg, err := s.dumper.Features()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f, err := reg.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "feature not found")
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// handleDump handles POST /dumps/{feature}. The session runs for the
// lifetime of the request; a client that disconnects interrupts it.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	feature := chi.URLParam(r, "feature")

	var req DumpRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	tok := interrupt.New(r.Context(), s.config.InterruptGrace)
	defer tok.Release()

	var console bytes.Buffer
	summary, err := s.dumper.Run(r.Context(), dump.Request{
		Feature:   feature,
		Filename:  req.Filename,
		Interrupt: tok,
		Console:   &console,
	})

	status := dumpStatus(err)
	if summary == nil {
		s.writeError(w, status, err.Error())
		return
	}

	resp := DumpResponse{
		Summary: summary,
		Success: err == nil && summary.Success(),
		Report:  console.String(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	respondJSON(w, status, resp)
}

func dumpStatus(err error) int {
	switch {
	case err == nil, errors.Is(err, dump.ErrInterrupted):
		return http.StatusOK
	case errors.Is(err, featuremap.ErrUnknownFeature):
		return http.StatusNotFound
	case errors.Is(err, sink.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.Is(err, dump.ErrSessionActive), errors.Is(err, sink.ErrExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleListSessions handles GET /sessions?limit=N.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not available")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := s.sessions.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if list == nil {
		list = []history.Session{}
	}
	respondJSON(w, http.StatusOK, SessionListResponse{Sessions: list})
}

// handleGetSession handles GET /sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not available")
		return
	}
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, history.ErrAmbiguous):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to load session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
