package server

import (
	"encoding/json"
	"net/http"

	"github.com/davidchen/finsight/internal/analysis"
	"github.com/davidchen/finsight/internal/server/middleware"
	"github.com/davidchen/finsight/internal/types"
)

// CreateAnalysisResponse reports how a submission was resolved. Submission is
// "started", "in_progress" or "duplicate"; Analysis is the current record.
type CreateAnalysisResponse struct {
	Submission string                 `json:"submission"`
	Analysis   types.AnalysisResponse `json:"analysis"`
}

// handleCreateAnalysis handles POST /analyses. Resubmitting the same
// request_id never starts duplicate work: a completed analysis comes back
// with 200, anything still running (or freshly started) with 202.
func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req types.CreateAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.analysis.Begin(r.Context(), owner.String(), req.RequestID, analysis.Submission{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Document:    req.Document,
		Text:        req.Text,
	})
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	status := http.StatusAccepted
	if outcome.Status == analysis.StatusDuplicate {
		status = http.StatusOK
	}
	s.jsonResponse(w, status, CreateAnalysisResponse{
		Submission: string(outcome.Status),
		Analysis:   types.NewAnalysisResponse(outcome.Record),
	})
}

// handleGetAnalysis handles GET /analyses/{id}.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rec, err := s.store.Get(r.Context(), owner.String(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, types.NewAnalysisResponse(rec))
}

// handleGetByRequestID handles GET /analyses/by-request/{request_id}. This is
// the polling endpoint: clients only ever know the request id they submitted.
func (s *Server) handleGetByRequestID(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rec, err := s.store.GetByRequestID(r.Context(), owner.String(), r.PathValue("request_id"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, types.NewAnalysisResponse(rec))
}

// handleListAnalyses handles GET /analyses. Results are newest first.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	records, err := s.store.GetAll(r.Context(), owner.String())
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	responses := make([]types.AnalysisResponse, 0, len(records))
	for _, rec := range records {
		responses = append(responses, types.NewAnalysisResponse(rec))
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"analyses": responses,
		"count":    len(responses),
	})
}

// handleDeleteAnalysis handles DELETE /analyses/{id}.
func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	existed, err := s.store.Delete(r.Context(), owner.String(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if !existed {
		s.errorResponse(w, http.StatusNotFound, "record not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleClearAnalyses handles DELETE /analyses, removing every record owned
// by the caller.
func (s *Server) handleClearAnalyses(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	n, err := s.store.ClearUser(r.Context(), owner.String())
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleStats handles GET /analyses/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	stats, err := s.store.GetStats(r.Context(), owner.String())
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}
