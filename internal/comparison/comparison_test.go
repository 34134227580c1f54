package comparison

import (
	"errors"
	"fmt"
	"testing"
)

func TestUserMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"server text", &APIError{StatusCode: 400, Message: "bad image"}, "bad image"},
		{"wrapped server text", fmt.Errorf("compare: %w", &APIError{StatusCode: 400, Message: "bad image"}), "bad image"},
		{"empty server text", &APIError{StatusCode: 500}, FallbackCompareMessage},
		{"malformed body", fmt.Errorf("decode: %w", ErrMalformedResponse), FallbackCompareMessage},
		{"transport", errors.New("dial tcp: connection refused"), ConnectMessage},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.err); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestAPIErrorDescribesStatusWithoutMessage(t *testing.T) {
	if got := (&APIError{StatusCode: 503}).Error(); got != "comparison service returned status 503" {
		t.Fatalf("unexpected error text: %q", got)
	}
	if got := (&APIError{StatusCode: 400, Message: "bad image"}).Error(); got != "bad image" {
		t.Fatalf("expected server text, got %q", got)
	}
	if got := UserMessage(&APIError{StatusCode: 503}); got != FallbackCompareMessage {
		t.Fatalf("expected banner fallback, got %q", got)
	}
}
