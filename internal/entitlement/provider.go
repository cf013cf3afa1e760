package entitlement

import (
	"context"
	"errors"
	"fmt"
)

// ProductTypeInApp is the product type of one-time purchases.
const ProductTypeInApp = "inapp"

// ResponseCode is the result code a billing provider reports.
type ResponseCode int

const (
	OK ResponseCode = iota
	UserCanceled
	ServiceUnavailable
	BillingUnavailable
	ItemUnavailable
	DeveloperError
	ProviderFailure
	ItemAlreadyOwned
)

var codeNames = map[ResponseCode]string{
	OK:                 "OK",
	UserCanceled:       "USER_CANCELED",
	ServiceUnavailable: "SERVICE_UNAVAILABLE",
	BillingUnavailable: "BILLING_UNAVAILABLE",
	ItemUnavailable:    "ITEM_UNAVAILABLE",
	DeveloperError:     "DEVELOPER_ERROR",
	ProviderFailure:    "ERROR",
	ItemAlreadyOwned:   "ITEM_ALREADY_OWNED",
}

func (c ResponseCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ResponseCode(%d)", int(c))
}

// ParseResponseCode is the inverse of ResponseCode.String.
func ParseResponseCode(s string) (ResponseCode, error) {
	for c, name := range codeNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown response code %q", s)
}

// ProviderError is a failed provider call.
type ProviderError struct {
	Op   string
	Code ResponseCode
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("billing %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("billing %s: %s", e.Op, e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CodeOf extracts the response code carried by err. nil maps to OK and any
// error that is not a ProviderError to ProviderFailure.
func CodeOf(err error) ResponseCode {
	if err == nil {
		return OK
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ProviderFailure
}

// ProductDetails describes a purchasable product.
type ProductDetails struct {
	ProductID string `json:"product_id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Price     string `json:"price,omitempty"`
}

// PurchaseResult is the asynchronous answer to a launched purchase flow.
type PurchaseResult struct {
	Code       ResponseCode
	ProductIDs []string
}

// Contains reports whether productID is among the purchased products.
func (r PurchaseResult) Contains(productID string) bool {
	for _, p := range r.ProductIDs {
		if p == productID {
			return true
		}
	}
	return false
}

// Provider is a billing backend. Calls may block; the machine always makes
// them off the caller's goroutine. The purchase result of a launched flow is
// delivered later through Machine.HandlePurchaseResult.
type Provider interface {
	Connect(ctx context.Context) error
	QueryPurchaseHistory(ctx context.Context, productType string) ([]string, error)
	QueryProductDetails(ctx context.Context, productIDs []string) ([]ProductDetails, error)
	LaunchPurchaseFlow(ctx context.Context, details ProductDetails) error
}

// StatusStore persists the last definitive entitlement.
type StatusStore interface {
	SavePremium(ctx context.Context, premium bool) error
	// LoadPremium reports known=false when nothing was saved yet.
	LoadPremium(ctx context.Context) (premium, known bool, err error)
}
