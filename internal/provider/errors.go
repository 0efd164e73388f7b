package provider

import "fmt"

// TransportError is returned when the provider could not be reached at all
// (connection refused, DNS, timeout).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider unreachable: GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a non-200 answer from the provider. Message carries the
// response body, or the status reason when the body is empty, and is meant to
// be shown to the user unchanged.
type ProviderError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// DecodeError means a 200 response did not carry a valid page envelope.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid response from provider: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
