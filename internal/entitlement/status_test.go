package entitlement

import (
	"errors"
	"testing"
)

func TestStatusNames(t *testing.T) {
	for _, s := range []Status{Initializing, Checking, Premium, NotPremium, Error} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseStatus("MAYBE"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if Status(42).String() != "Status(42)" {
		t.Fatalf("unexpected name %q", Status(42))
	}
}

func TestStatusText(t *testing.T) {
	text, err := NotPremium.MarshalText()
	if err != nil || string(text) != "NOT_PREMIUM" {
		t.Fatalf("MarshalText = %q, %v", text, err)
	}
	var s Status
	if err := s.UnmarshalText([]byte("PREMIUM")); err != nil || s != Premium {
		t.Fatalf("UnmarshalText = %v, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("premium")); err == nil {
		t.Fatal("names are case sensitive")
	}
}

func TestPersistent(t *testing.T) {
	cases := map[Status]bool{
		Initializing: false,
		Checking:     false,
		Premium:      true,
		NotPremium:   true,
		Error:        false,
	}
	for s, want := range cases {
		if s.Persistent() != want {
			t.Errorf("%s.Persistent() = %v", s, !want)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != OK {
		t.Fatal("nil error is OK")
	}
	if CodeOf(errors.New("x")) != ProviderFailure {
		t.Fatal("plain error is a provider failure")
	}
	wrapped := errors.Join(errors.New("ctx"), &ProviderError{Op: "details", Code: ItemAlreadyOwned})
	if CodeOf(wrapped) != ItemAlreadyOwned {
		t.Fatalf("CodeOf(wrapped) = %s", CodeOf(wrapped))
	}
	c, err := ParseResponseCode("USER_CANCELED")
	if err != nil || c != UserCanceled {
		t.Fatalf("ParseResponseCode = %v, %v", c, err)
	}
}
