package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"budget/internal/entitlement"
)

// StatusChangedMessage announces an entitlement transition.
type StatusChangedMessage struct {
	Status    string    `json:"status"`
	Premium   bool      `json:"premium"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusChangedMessage creates a message for status s.
func NewStatusChangedMessage(s entitlement.Status) *StatusChangedMessage {
	return &StatusChangedMessage{
		Status:    s.String(),
		Premium:   s == entitlement.Premium,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *StatusChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// StatusChangedMessageFromJSON creates a message from JSON bytes
func StatusChangedMessageFromJSON(data []byte) (*StatusChangedMessage, error) {
	var msg StatusChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := entitlement.ParseStatus(msg.Status); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PurchaseResultMessage carries the asynchronous result of a purchase flow
// from the billing bridge.
type PurchaseResultMessage struct {
	Code       string    `json:"code"`
	ProductIDs []string  `json:"product_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrMalformedMessage marks a message that can never be processed.
var ErrMalformedMessage = errors.New("malformed message")

// ToJSON converts the message to JSON bytes
func (m *PurchaseResultMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PurchaseResultMessageFromJSON decodes and validates a purchase result.
func PurchaseResultMessageFromJSON(data []byte) (*PurchaseResultMessage, error) {
	var msg PurchaseResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if _, err := entitlement.ParseResponseCode(msg.Code); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// Result converts the message for entitlement.Machine.HandlePurchaseResult.
func (m *PurchaseResultMessage) Result() entitlement.PurchaseResult {
	code, err := entitlement.ParseResponseCode(m.Code)
	if err != nil {
		code = entitlement.ProviderFailure
	}
	return entitlement.PurchaseResult{Code: code, ProductIDs: m.ProductIDs}
}
