package http

import (
	"net/http"

	"budget/internal/log"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	st, err := s.ledger.BalanceState(r.Context(), date)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newBalanceResponse(st))
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpAdjust, err)
		return
	}
	date, err := s.dateParamValue(req.Date)
	if err != nil {
		s.writeError(w, r, log.OpAdjust, err)
		return
	}
	e, err := s.ledger.AdjustBalance(r.Context(), date, req.Target)
	if err != nil {
		s.writeError(w, r, log.OpAdjust, err)
		return
	}
	if e == nil {
		writeJSON(w, http.StatusOK, adjustResponse{Adjusted: false})
		return
	}
	resp := newEntryResponse(*e)
	writeJSON(w, http.StatusCreated, adjustResponse{Adjusted: true, Entry: &resp})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	entries, err := s.ledger.EntriesOn(r.Context(), date)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntryResponses(entries))
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	title, amount, date, err := req.parse()
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	e, err := s.ledger.AddEntry(r.Context(), title, amount, date)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEntryResponse(e))
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathEntryID(r)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	title, amount, date, err := req.parse()
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	e, err := s.ledger.UpdateEntry(r.Context(), entryID, title, amount, date)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntryResponse(e))
}

// handleDeleteEntry answers with the removed entry so a client can offer
// undo through /entries/restore.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathEntryID(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	removed, ok, err := s.ledger.DeleteEntry(r.Context(), entryID)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "entry not found"})
		return
	}
	writeJSON(w, http.StatusOK, newEntryResponse(removed))
}

func (s *Server) handleRestoreEntry(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpRestore, err)
		return
	}
	e, err := req.entry()
	if err != nil {
		s.writeError(w, r, log.OpRestore, err)
		return
	}
	restored, err := s.ledger.RestoreEntry(r.Context(), e)
	if err != nil {
		s.writeError(w, r, log.OpRestore, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEntryResponse(restored))
}

func (s *Server) handleMonthOverview(w http.ResponseWriter, r *http.Request) {
	month, err := pathMonth(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	ov, err := s.ledger.MonthOverview(r.Context(), month)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newMonthResponse(ov))
}
