package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/davidchen/finsight/internal/server/middleware"
	"github.com/davidchen/finsight/internal/types"
)

// handleSweep handles POST /admin/sweep. It deletes the caller's Processing
// records older than the configured stale window. Abandoned records come from
// crashed workers; anything genuinely still running is younger than the
// window.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	removed, err := s.store.DeleteStale(r.Context(), owner.String(), s.staleAfter)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"removed":         removed,
		"max_age_minutes": int(s.staleAfter.Minutes()),
	})
}

// handleMigrate handles POST /admin/migrate. It relocates records written
// before tenant isolation into the per-tenant layout. Ownerless bodies are
// stamped with the caller's own user id, never an id from the request, so a
// migration can only ever populate the caller's namespace. With dry_run set
// nothing is moved.
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req types.MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := s.store.MigrateLegacy(r.Context(), owner.String(), req.DryRun)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}
