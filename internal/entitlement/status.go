// Package entitlement tracks whether the user owns the premium product and
// drives the purchase flow against a billing provider.
package entitlement

import "fmt"

// Status is the entitlement state. Only Premium and NotPremium are ever
// persisted; the others are re-derived on every start.
type Status int32

const (
	Initializing Status = iota
	Checking
	Premium
	NotPremium
	Error
)

var statusNames = [...]string{
	Initializing: "INITIALIZING",
	Checking:     "CHECKING",
	Premium:      "PREMIUM",
	NotPremium:   "NOT_PREMIUM",
	Error:        "ERROR",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Persistent reports whether s is durably stored on transition.
func (s Status) Persistent() bool {
	return s == Premium || s == NotPremium
}

// MarshalText encodes s by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown entitlement status %q", v)
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(data []byte) error {
	parsed, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
