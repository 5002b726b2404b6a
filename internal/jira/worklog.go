package jira

import (
	"encoding/json"
	"net/http"
	"time"
)

// DatetimeFormat is the only timestamp layout the worklog endpoint accepts
// reliably: milliseconds and a numeric offset without a colon. RFC 3339
// strings ending in "Z" are rejected.
const DatetimeFormat = "2006-01-02T15:04:05.000-0700"

// startedLayout is used for validation only. Fractional seconds are optional
// when parsing.
const startedLayout = "2006-01-02T15:04:05-0700"

type Credentials struct {
	Username string
	Password string
}

// Endpoint identifies the worklog collection of a single issue. BaseURL is
// used verbatim and should therefore end with a slash.
type Endpoint struct {
	BaseURL string
	IssueID string
}

// URL returns the worklog collection URL. No normalization is applied.
func (e Endpoint) URL() string {
	return e.BaseURL + "rest/api/2/issue/" + e.IssueID + "/worklog"
}

// Entry is the body of a worklog creation request.
type Entry struct {
	Started          string `json:"started"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
	Comment          string `json:"comment,omitempty"`
}

// NewEntry formats start in UTC and rounds dur to whole seconds.
func NewEntry(start time.Time, dur time.Duration, comment string) Entry {
	return Entry{
		Started:          FormatStarted(start),
		TimeSpentSeconds: int64(dur.Round(time.Second).Seconds()),
		Comment:          comment,
	}
}

func FormatStarted(t time.Time) string {
	return t.UTC().Format(DatetimeFormat)
}

// ValidateStarted checks that s carries an explicit numeric UTC offset.
func ValidateStarted(s string) error {
	if s == "" {
		return &ConfigurationError{Field: "started", Reason: "is empty"}
	}
	if _, err := time.Parse(startedLayout, s); err != nil {
		return &ConfigurationError{Field: "started", Reason: "must have the form 2025-05-06T12:34:00.000+0000, got " + s}
	}
	return nil
}

// Result is the server's answer to a submission. Body holds whatever JSON
// value the server sent (object, array, string, number, bool) and is nil
// for a JSON null or when the response could not be decoded.
type Result struct {
	StatusCode int
	Header     http.Header
	Raw        []byte
	Body       interface{}
}

// BodyMap returns Body if it is a JSON object.
func (r *Result) BodyMap() (map[string]interface{}, bool) {
	m, ok := r.Body.(map[string]interface{})
	return m, ok
}

func (r *Result) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns a *RemoteError for non-2xx responses and nil otherwise.
func (r *Result) Err() error {
	if r.Success() {
		return nil
	}
	e := &RemoteError{StatusCode: r.StatusCode}
	var payload errorResponse
	if len(r.Raw) > 0 && json.Unmarshal(r.Raw, &payload) == nil {
		e.Messages = payload.ErrorMessages
		e.Fields = payload.Errors
	}
	return e
}

type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

// Worklog is the representation JIRA returns for a created worklog.
type Worklog struct {
	ID               string `json:"id"`
	IssueID          string `json:"issueId"`
	Self             string `json:"self"`
	Comment          string `json:"comment"`
	Created          string `json:"created"`
	Updated          string `json:"updated"`
	Started          string `json:"started"`
	TimeSpent        string `json:"timeSpent"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
}

type WorklogResultItem struct {
	Author struct {
		Name string `json:"name"`
	} `json:"author"`
	ID               string `json:"id"`
	Started          string `json:"started"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
	Self             string `json:"self"`
}

// StartedTime parses the started field as returned by JIRA.
func (i WorklogResultItem) StartedTime() (time.Time, error) {
	return time.Parse(startedLayout, i.Started)
}

type WorklogResult struct {
	MaxResults int64               `json:"maxResults"`
	Total      int64               `json:"total"`
	StartAt    int64               `json:"startAt"`
	Items      []WorklogResultItem `json:"worklogs"`
}
