package comparison

import (
	"context"
	"errors"
	"fmt"
)

const (
	// FallbackCompareMessage is shown when the service fails without an explanation.
	FallbackCompareMessage = "Failed to compare faces"
	// ConnectMessage is shown when the service could not be reached at all.
	ConnectMessage = "Failed to connect to the server. Make sure the backend is running."
)

// ErrMalformedResponse reports a success status whose body is not a usable result.
var ErrMalformedResponse = errors.New("malformed comparison response")

// Result is the outcome returned by the face comparison service.
type Result struct {
	MatchPercentage float64  `json:"match_percentage"`
	MatchColor      string   `json:"match_color"`
	MatchLevel      string   `json:"match_level"`
	Distance        float64  `json:"distance"`
	Model           string   `json:"model,omitempty"`
	Verified        *bool    `json:"verified,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	Message         string   `json:"message,omitempty"`
}

// Client exposes the calls the comparison flow makes against the service.
type Client interface {
	Compare(ctx context.Context, image1, image2 string) (*Result, error)
	Health(ctx context.Context) error
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface. Replies without error text are
// described by their status code.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("comparison service returned status %d", e.StatusCode)
	}
	return e.Message
}

// UserMessage maps a comparison failure to the text shown in the error banner.
func UserMessage(err error) string {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return FallbackCompareMessage
	case errors.Is(err, ErrMalformedResponse):
		return FallbackCompareMessage
	default:
		return ConnectMessage
	}
}
