package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

// Submitter posts a single worklog entry per call. It holds no per-request
// state and can be shared between goroutines.
type Submitter struct {
	httpClient    *http.Client
	log           *logrus.Logger
	strictStarted bool
}

type Option func(*Submitter)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Submitter) {
		s.httpClient = c
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Submitter) {
		s.log = l
	}
}

// WithStrictStarted makes Submit reject started values without a numeric
// UTC offset instead of forwarding them to JIRA.
func WithStrictStarted() Option {
	return func(s *Submitter) {
		s.strictStarted = true
	}
}

func NewSubmitter(opts ...Option) *Submitter {
	s := &Submitter{
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = discardLogger()
	}
	return s
}

// BasicAuth returns the value of the Authorization header for the given
// credentials.
func BasicAuth(creds Credentials) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds.Username+":"+creds.Password))
}

// Submit sends entry to the worklog collection of endpoint. Any response is
// decoded and returned regardless of its status code; use Result.Err to turn
// a non-2xx status into a *RemoteError. If the body is not valid JSON, both
// the Result (with Raw set) and a *DecodeError are returned.
func (s *Submitter) Submit(ctx context.Context, endpoint Endpoint, creds Credentials, entry Entry) (*Result, error) {
	if err := s.validate(endpoint, creds, entry); err != nil {
		return nil, err
	}
	u := endpoint.URL()
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, &ConfigurationError{Field: "entry", Reason: err.Error()}
	}
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, &ConfigurationError{Field: "baseURL", Reason: err.Error()}
	}
	req.Header.Set("Authorization", BasicAuth(creds))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	s.log.WithFields(logrus.Fields{
		"url":              u,
		"started":          entry.Started,
		"timeSpentSeconds": entry.TimeSpentSeconds,
	}).Info("Submitting worklog")

	resp, err := s.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: u, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: u, Err: err}
	}
	result := &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Raw:        raw,
	}
	s.log.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"body":   string(raw),
	}).Debug("Worklog response received")

	if err := json.Unmarshal(raw, &result.Body); err != nil {
		result.Body = nil
		return result, &DecodeError{StatusCode: resp.StatusCode, Raw: raw, Err: err}
	}
	return result, nil
}

func (s *Submitter) validate(endpoint Endpoint, creds Credentials, entry Entry) error {
	if err := validateTarget(endpoint, creds); err != nil {
		return err
	}
	if entry.Started == "" {
		return &ConfigurationError{Field: "started", Reason: "is empty"}
	}
	if s.strictStarted {
		return ValidateStarted(entry.Started)
	}
	return nil
}

// validateTarget checks everything needed to address an issue's worklogs.
func validateTarget(endpoint Endpoint, creds Credentials) error {
	switch {
	case endpoint.BaseURL == "":
		return &ConfigurationError{Field: "baseURL", Reason: "is empty"}
	case endpoint.IssueID == "":
		return &ConfigurationError{Field: "issueID", Reason: "is empty"}
	case creds.Username == "":
		return &ConfigurationError{Field: "username", Reason: "is empty"}
	case creds.Password == "":
		return &ConfigurationError{Field: "password", Reason: "is empty"}
	}
	u := endpoint.URL()
	if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &ConfigurationError{Field: "baseURL", Reason: "does not produce a valid URL: " + u}
	}
	return nil
}
