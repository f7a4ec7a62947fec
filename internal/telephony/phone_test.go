package telephony

import (
	"errors"
	"testing"
)

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		raw, cc, want string
	}{
		{"+44 20 7946 0958", "", "+442079460958"},
		{"0044 20 7946 0958", "", "+442079460958"},
		{"(020) 7946-0958", "44", "+442079460958"},
		{"020 7946 0958", "+44", "+442079460958"},
		{"14155550100", "", "+14155550100"},
		{" +1.415.555.0100 ", "1", "+14155550100"},
	}
	for _, tc := range cases {
		got, err := NormalizeE164(tc.raw, tc.cc)
		if err != nil {
			t.Fatalf("NormalizeE164(%q, %q): %v", tc.raw, tc.cc, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeE164(%q, %q) = %q, want %q", tc.raw, tc.cc, got, tc.want)
		}
	}
}

func TestNormalizeE164_Rejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "abc", "+12", "+1234567890123456", "0207946", "+44 20 ext 5"} {
		if _, err := NormalizeE164(raw, ""); !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("NormalizeE164(%q): expected ErrInvalidPhone, got %v", raw, err)
		}
	}
}

func TestGatewayError_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("socket closed")
	err := AsGatewayError("register", cause)

	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected *GatewayError, got %T", err)
	}
	if ge.Detail != "register" || !errors.Is(err, cause) {
		t.Fatalf("unexpected gateway error: %v", err)
	}
	if again := AsGatewayError("outer", err); again != err {
		t.Fatalf("expected an existing GatewayError to pass through")
	}
	if AsGatewayError("x", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
