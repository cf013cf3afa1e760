package http

import (
	"net/http"

	"budget/internal/entitlement"
	"budget/internal/log"
)

func (s *Server) premiumState() premiumResponse {
	return premiumResponse{
		Status:    s.entitlements.Status(),
		Premium:   s.entitlements.IsPremium(),
		ProductID: s.entitlements.ProductID(),
	}
}

func (s *Server) handlePremiumStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.premiumState())
}

// handlePremiumCheck starts a re-verification; the answer carries the
// status at the time of the request.
func (s *Server) handlePremiumCheck(w http.ResponseWriter, r *http.Request) {
	s.entitlements.Recheck(r.Context())
	writeJSON(w, http.StatusAccepted, s.premiumState())
}

// handlePurchase runs a purchase and waits for its outcome. The request
// context is the requester's liveness: once the client goes away the
// outcome is dropped.
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	outcomes := make(chan entitlement.Outcome, 1)
	err := s.entitlements.InitiatePurchase(r.Context(), func(o entitlement.Outcome) {
		outcomes <- o
	})
	if err != nil {
		s.writeError(w, r, log.OpPurchase, err)
		return
	}

	select {
	case o := <-outcomes:
		resp := purchaseResponse{Outcome: o.Kind.String(), premiumResponse: s.premiumState()}
		if o.Err != nil {
			resp.Error = o.Err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		log.FromContext(r.Context()).InfoContext(r.Context(), "Purchase requester went away",
			log.FieldOperation, log.OpPurchase)
	}
}

// handlePurchaseResult accepts the asynchronous result of a launched
// purchase flow from a billing bridge.
func (s *Server) handlePurchaseResult(w http.ResponseWriter, r *http.Request) {
	var req purchaseResultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpPurchase, err)
		return
	}
	code, err := entitlement.ParseResponseCode(req.Code)
	if err != nil {
		s.writeError(w, r, log.OpPurchase, errBadRequestf(err))
		return
	}
	s.entitlements.HandlePurchaseResult(r.Context(), entitlement.PurchaseResult{Code: code, ProductIDs: req.ProductIDs})
	writeJSON(w, http.StatusAccepted, s.premiumState())
}
