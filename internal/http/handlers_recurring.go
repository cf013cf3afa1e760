package http

import (
	"net/http"

	"budget/internal/core"
	"budget/internal/log"
)

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	t, err := s.ledger.CreateTemplate(r.Context(), sanitizeInput(req.Title), amount, start)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTemplateResponse(t))
}

func (s *Server) handleDeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := pathTemplateID(r)
	if err != nil {
		s.writeError(w, r, log.OpDeactivate, err)
		return
	}
	if err := s.ledger.DeactivateTemplate(r.Context(), templateID); err != nil {
		s.writeError(w, r, log.OpDeactivate, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditOccurrence(w http.ResponseWriter, r *http.Request) {
	templateID, err := pathTemplateID(r)
	if err != nil {
		s.writeError(w, r, log.OpOverride, err)
		return
	}
	month, err := pathMonth(r)
	if err != nil {
		s.writeError(w, r, log.OpOverride, err)
		return
	}
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpOverride, err)
		return
	}
	title, amount, date, err := req.parse()
	if err != nil {
		s.writeError(w, r, log.OpOverride, err)
		return
	}
	e, err := s.ledger.EditOccurrence(r.Context(), templateID, month, title, amount, date)
	if err != nil {
		s.writeError(w, r, log.OpOverride, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntryResponse(e))
}

func (s *Server) handleDeleteOccurrence(w http.ResponseWriter, r *http.Request) {
	templateID, err := pathTemplateID(r)
	if err != nil {
		s.writeError(w, r, log.OpExclude, err)
		return
	}
	month, err := pathMonth(r)
	if err != nil {
		s.writeError(w, r, log.OpExclude, err)
		return
	}
	if err := s.ledger.DeleteOccurrence(r.Context(), templateID, month); err != nil {
		s.writeError(w, r, log.OpExclude, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
