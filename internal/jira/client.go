package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Client talks to a single JIRA instance with a fixed set of credentials.
type Client struct {
	endpoint   Endpoint
	creds      Credentials
	httpClient *http.Client
	submitter  *Submitter
	log        *logrus.Logger
}

// NewClient expects baseURL to end with a slash, e.g.
// https://jira.example.com/.
func NewClient(baseURL, username, password string, opts ...Option) *Client {
	c := Client{
		endpoint: Endpoint{BaseURL: baseURL},
		creds: Credentials{
			Username: username,
			Password: password,
		},
	}
	// Timestamps are formatted here so the submitter can be strict about them.
	c.submitter = NewSubmitter(append(opts, WithStrictStarted())...)
	c.httpClient = c.submitter.httpClient
	c.log = c.submitter.log
	return &c
}

func (c *Client) Username() string {
	return c.creds.Username
}

func (c *Client) endpointFor(issueID string) Endpoint {
	e := c.endpoint
	e.IssueID = issueID
	return e
}

// Submit forwards a pre-built entry. Unlike the plain Submitter, entries with
// a started value lacking a numeric offset are rejected locally.
func (c *Client) Submit(ctx context.Context, issueID string, entry Entry) (*Result, error) {
	return c.submitter.Submit(ctx, c.endpointFor(issueID), c.creds, entry)
}

// AddWorklog logs dur against issueID, starting at start. Non-2xx responses
// are returned as *RemoteError.
func (c *Client) AddWorklog(ctx context.Context, issueID string, start time.Time, dur time.Duration, comment string) (*Worklog, error) {
	res, err := c.Submit(ctx, issueID, NewEntry(start, dur, comment))
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	var wl Worklog
	if err := json.Unmarshal(res.Raw, &wl); err != nil {
		return nil, &DecodeError{StatusCode: res.StatusCode, Raw: res.Raw, Err: err}
	}
	if wl.ID == "" {
		return nil, &DecodeError{StatusCode: res.StatusCode, Raw: res.Raw, Err: fmt.Errorf("response contains no worklog id")}
	}
	c.log.Infof("Created worklog %s on %s", wl.ID, issueID)
	return &wl, nil
}

// IssueWorklogs lists the worklogs of an issue. Only the first page is
// fetched; JIRA returns all worklogs of an issue in one response unless the
// issue has more than several thousand.
func (c *Client) IssueWorklogs(ctx context.Context, issueID string) ([]WorklogResultItem, error) {
	e := c.endpointFor(issueID)
	if err := validateTarget(e, c.creds); err != nil {
		return nil, err
	}
	u := e.URL()
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, &ConfigurationError{Field: "baseURL", Reason: err.Error()}
	}
	req.Header.Set("Authorization", BasicAuth(c.creds))
	req.Header.Set("Accept", "application/json")
	c.log.WithField("url", u).Debug("Fetching worklogs")
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: u, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: u, Err: err}
	}
	res := Result{StatusCode: resp.StatusCode, Header: resp.Header, Raw: raw}
	if err := res.Err(); err != nil {
		return nil, err
	}
	var r WorklogResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &DecodeError{StatusCode: resp.StatusCode, Raw: raw, Err: err}
	}
	return r.Items, nil
}

// discardLogger is used by components that were not handed a logger.
func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}
