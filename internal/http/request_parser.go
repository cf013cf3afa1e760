package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"budget/internal/core"
	"budget/internal/id"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks input that is not well formed, as opposed to input
// the ledger rejects.
var errBadRequest = errors.New("bad request")

func errBadRequestf(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequestf(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body must hold a single JSON object", errBadRequest)
	}
	return nil
}

// dateParam returns the date named by the "date" query parameter, or today.
func (s *Server) dateParam(r *http.Request) (core.Date, error) {
	return s.dateParamValue(r.URL.Query().Get("date"))
}

func (s *Server) dateParamValue(v string) (core.Date, error) {
	if v = strings.TrimSpace(v); v == "" {
		return core.DateOf(s.now()), nil
	}
	return core.ParseDate(v)
}

// parseAmount accepts a signed decimal with dot or comma. Positive is spend.
func parseAmount(s string) (core.Money, error) {
	cents, err := core.ParseSignedDecimalToCents(s)
	if err != nil {
		return core.Money{}, err
	}
	if cents == 0 {
		return core.Money{}, core.ErrInvalidAmount
	}
	return core.Money{Cents: cents}, nil
}

func pathEntryID(r *http.Request) (id.ID, error) {
	v, err := id.ParseEntryID(r.PathValue("id"))
	if err != nil {
		return id.Nil, errBadRequestf(err)
	}
	return v, nil
}

func pathTemplateID(r *http.Request) (id.ID, error) {
	v, err := id.ParseTemplateID(r.PathValue("id"))
	if err != nil {
		return id.Nil, errBadRequestf(err)
	}
	return v, nil
}

func pathMonth(r *http.Request) (core.Month, error) {
	return core.ParseMonth(r.PathValue("month"))
}

// sanitizeInput drops control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

type entryRequest struct {
	Title  string `json:"title"`
	Amount string `json:"amount"`
	Date   string `json:"date"`
}

// parse validates the request into its parts.
func (req entryRequest) parse() (title string, amount core.Money, date core.Date, err error) {
	title = sanitizeInput(req.Title)
	if amount, err = parseAmount(req.Amount); err != nil {
		return "", core.Money{}, core.Date{}, err
	}
	if date, err = core.ParseDate(req.Date); err != nil {
		return "", core.Money{}, core.Date{}, err
	}
	return title, amount, date, nil
}

type adjustRequest struct {
	Date   string `json:"date"`
	Target string `json:"target"`
}

type restoreRequest struct {
	ID          id.ID  `json:"id"`
	Title       string `json:"title"`
	AmountCents int64  `json:"amount_cents"`
	Date        string `json:"date"`
	TemplateID  id.ID  `json:"template_id"`
}

func (req restoreRequest) entry() (core.Entry, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Entry{}, err
	}
	return core.Entry{
		ID:         req.ID,
		Title:      sanitizeInput(req.Title),
		Amount:     core.Money{Cents: req.AmountCents},
		Date:       date,
		TemplateID: req.TemplateID,
	}, nil
}

type templateRequest struct {
	Title     string `json:"title"`
	Amount    string `json:"amount"`
	StartDate string `json:"start_date"`
}

type purchaseResultRequest struct {
	Code       string   `json:"code"`
	ProductIDs []string `json:"product_ids"`
}
