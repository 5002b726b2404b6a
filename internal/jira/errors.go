package jira

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigurationError is returned before any request is sent when a required
// input is missing or malformed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid worklog configuration: %s %s", e.Field, e.Reason)
}

// TransportError wraps failures to send the request or to read the response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when the response body is not valid JSON. The raw
// body is kept for inspection.
type DecodeError struct {
	StatusCode int
	Raw        []byte
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response (status %d): %s", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RemoteError describes a non-2xx answer from JIRA. JIRA reports problems as
// errorMessages and per-field errors.
type RemoteError struct {
	StatusCode int
	Messages   []string
	Fields     map[string]string
}

func (e *RemoteError) Error() string {
	parts := make([]string, 0, len(e.Messages)+len(e.Fields))
	parts = append(parts, e.Messages...)
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("jira returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("jira returned status %d: %s", e.StatusCode, strings.Join(parts, "; "))
}
