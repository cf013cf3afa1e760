package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"budget/internal/core"
	"budget/internal/entitlement"
	"budget/internal/id"
	"budget/internal/ledger"
	"budget/internal/log"
)

type entryResponse struct {
	ID          id.ID     `json:"id"`
	Title       string    `json:"title"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Date        core.Date `json:"date"`
	TemplateID  string    `json:"template_id,omitempty"`
	Virtual     bool      `json:"virtual,omitempty"`
}

func newEntryResponse(e core.Entry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		Title:       e.Title,
		Amount:      e.Amount.String(),
		AmountCents: e.Amount.Cents,
		Date:        e.Date,
		TemplateID:  e.TemplateID.String(),
		Virtual:     e.Virtual,
	}
}

func newEntryResponses(entries []core.Entry) []entryResponse {
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = newEntryResponse(e)
	}
	return out
}

type templateResponse struct {
	ID          id.ID     `json:"id"`
	Title       string    `json:"title"`
	Amount      string    `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	StartDate   core.Date `json:"start_date"`
	Active      bool      `json:"active"`
}

func newTemplateResponse(t core.RecurringTemplate) templateResponse {
	return templateResponse{
		ID:          t.ID,
		Title:       t.Title,
		Amount:      t.Amount.String(),
		AmountCents: t.Amount.Cents,
		StartDate:   t.StartDate,
		Active:      t.Active,
	}
}

type balanceResponse struct {
	Date         core.Date `json:"date"`
	Balance      string    `json:"balance"`
	BalanceCents int64     `json:"balance_cents"`
	Negative     bool      `json:"negative"`
	Low          bool      `json:"low"`
}

func newBalanceResponse(st ledger.BalanceState) balanceResponse {
	return balanceResponse{
		Date:         st.Date,
		Balance:      st.Balance.String(),
		BalanceCents: st.Balance.Cents,
		Negative:     st.Negative,
		Low:          st.Low,
	}
}

type monthResponse struct {
	Month       core.Month `json:"month"`
	SpentCents  int64      `json:"spent_cents"`
	EarnedCents int64      `json:"earned_cents"`
	NetCents    int64      `json:"net_cents"`
	Entries     int        `json:"entries"`
}

func newMonthResponse(o core.MonthOverview) monthResponse {
	return monthResponse{
		Month:       o.Month,
		SpentCents:  o.Spent.Cents,
		EarnedCents: o.Earned.Cents,
		NetCents:    o.Net().Cents,
		Entries:     o.Entries,
	}
}

type adjustResponse struct {
	Adjusted bool           `json:"adjusted"`
	Entry    *entryResponse `json:"entry,omitempty"`
}

type premiumResponse struct {
	Status    entitlement.Status `json:"status"`
	Premium   bool               `json:"premium"`
	ProductID string             `json:"product_id"`
}

type purchaseResponse struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
	premiumResponse
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// classify maps an error to its HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, log.ErrorTypeValidation
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrEmptyTitle),
		errors.Is(err, core.ErrTitleTooLong):
		return http.StatusUnprocessableEntity, log.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, log.ErrorTypeNotFound
	case errors.Is(err, ledger.ErrPremiumRequired):
		return http.StatusForbidden, log.ErrorTypeValidation
	case errors.Is(err, ledger.ErrEntryExists),
		errors.Is(err, ledger.ErrOverrideExists),
		errors.Is(err, entitlement.ErrAlreadyPremium),
		errors.Is(err, entitlement.ErrStatusPending),
		errors.Is(err, entitlement.ErrProviderUnavailable):
		return http.StatusConflict, log.ErrorTypeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, log.ErrorTypeNetwork
	default:
		return http.StatusInternalServerError, log.ErrorTypeInternal
	}
}

// writeError answers with the status classify picks. Server errors are
// logged and their detail withheld from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, errType := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.errors.LogError(r.Context(), "Request failed", err, op,
			log.NewFields().WithHTTPRequest(r.Method, r.URL.Path))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Request rejected",
			log.FieldOperation, op, log.FieldErrorType, errType, log.FieldError, err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
