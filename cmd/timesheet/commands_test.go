package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/zerok/timesheet"
	"github.com/zerok/timesheet/internal/backup"
	"github.com/zerok/timesheet/internal/config"
	"github.com/zerok/timesheet/internal/database"
	"github.com/zerok/timesheet/internal/jira"
)

func newTestApplication(t *testing.T) (*application, *bytes.Buffer, *time.Time) {
	clock := time.Date(2025, 5, 6, 9, 0, 0, 0, time.Local)
	db := database.NewInMemory()
	db.SetClock(func() time.Time { return clock })
	app := newApplication(db, &config.Config{Database: config.DatabaseFolder}, nil)
	out := &bytes.Buffer{}
	app.out = out
	app.now = func() time.Time { return clock }
	return app, out, &clock
}

func TestUsage(t *testing.T) {
	app, _, _ := newTestApplication(t)
	ctx := context.Background()
	require.Equal(t, errUsage, app.run(ctx, nil))
	require.Equal(t, errUsage, app.run(ctx, []string{"unknown"}))
	require.Equal(t, errUsage, app.run(ctx, []string{"add", "ABC-1"}))
	require.Equal(t, errUsage, app.run(ctx, []string{"summary", "2025-05-06", "2025-05-07"}))
}

func TestClockingAndSummary(t *testing.T) {
	app, out, clock := newTestApplication(t)
	ctx := context.Background()

	require.NoError(t, app.run(ctx, []string{"add", "ABC-1", "Work on project", "client"}))
	require.NoError(t, app.run(ctx, []string{"add", "ABC-2", "Review"}))
	require.NoError(t, app.run(ctx, []string{"start", "ABC-1"}))
	*clock = clock.Add(time.Hour)
	require.NoError(t, app.run(ctx, []string{"start", "ABC-2"}))
	*clock = clock.Add(30 * time.Minute)

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"list"}))
	require.Equal(t, "  ABC-1 Work on project\n* ABC-2 Review\n", out.String())

	require.NoError(t, app.run(ctx, []string{"stop"}))
	require.Error(t, app.run(ctx, []string{"stop"}), "nothing is active anymore")

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"list", "review"}))
	require.Equal(t, "  ABC-2 Review\n", out.String())

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"summary", "2025-05-06"}))
	require.Equal(t, "Summary for Tue, 6 May 2025\n"+
		"09:00:00 - 10:00:00 (ABC-1) pending\n"+
		"10:00:00 - 10:30:00 (ABC-2) pending\n"+
		"ABC-1: 1h0m0s\n"+
		"ABC-2: 30m0s\n"+
		"Total: 1h30m0s\n", out.String())

	require.Error(t, app.run(ctx, []string{"summary", "yesterday"}))
}

func TestEdit(t *testing.T) {
	app, out, clock := newTestApplication(t)
	ctx := context.Background()
	require.NoError(t, app.run(ctx, []string{"add", "ABC-1", "Typo"}))
	require.NoError(t, app.run(ctx, []string{"start", "ABC-1"}))
	*clock = clock.Add(time.Hour)

	require.NoError(t, app.run(ctx, []string{"edit", "ABC-1", "ABC-2", "Fixed", "client"}))
	require.Equal(t, "ABC-2", app.db.ActiveCode(), "the active code follows the rename")
	tsk, ok := app.db.TaskByCode("ABC-2")
	require.True(t, ok)
	require.Equal(t, []string{"client"}, tsk.Tags)
	require.Len(t, tsk.Bookings, 1, "bookings are kept")

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"stop"}))
	require.Equal(t, "Clocked out of ABC-2\n", out.String())
	require.Error(t, app.run(ctx, []string{"edit", "ABC-1", "ABC-3", "Gone"}))
}

func TestSyncRequiresJIRA(t *testing.T) {
	app, _, _ := newTestApplication(t)
	err := app.run(context.Background(), []string{"sync"})
	require.EqualError(t, err, "JIRA not configured")
}

type fakeRepository struct {
	snapshots []backup.Snapshot
}

func (r *fakeRepository) CreateSnapshot() error {
	r.snapshots = append(r.snapshots, backup.Snapshot{ID: "snap"})
	return nil
}

func (r *fakeRepository) Snapshots() ([]backup.Snapshot, error) {
	return r.snapshots, nil
}

func TestSnapshots(t *testing.T) {
	app, out, _ := newTestApplication(t)
	ctx := context.Background()
	require.Error(t, app.run(ctx, []string{"snapshots"}), "no backup is configured")

	app.backup = &fakeRepository{snapshots: []backup.Snapshot{{ID: "4a1b2c3d", RawTime: "broken"}}}
	require.NoError(t, app.run(ctx, []string{"snapshots"}))
	require.Equal(t, "4a1b2c3d\n", out.String())
}

func TestSync(t *testing.T) {
	app, out, clock := newTestApplication(t)
	repo := &fakeRepository{}
	app.backup = repo
	var created []jira.Entry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"worklogs":[]}`))
			return
		}
		var e jira.Entry
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		created = append(created, e)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"10001"}`))
	}))
	defer srv.Close()
	app.jiraClient = jira.NewClient(srv.URL+"/", "jdoe", "secret")

	require.NoError(t, app.db.AddTask(timesheet.Task{Code: "ABC-1", Title: "Work on project"}))
	require.NoError(t, app.db.ClockInto("ABC-1"))
	*clock = clock.Add(45 * time.Minute)
	require.NoError(t, app.db.ClockOutOf("ABC-1"))

	out.Reset()
	require.NoError(t, app.run(context.Background(), []string{"sync", "2025-05-06"}))
	require.Len(t, created, 1)
	require.Equal(t, int64(2700), created[0].TimeSpentSeconds)
	require.Equal(t, "Work on project", created[0].Comment)
	require.Contains(t, out.String(), "1 submitted, 0 adopted")
	require.Len(t, repo.snapshots, 1, "a snapshot should be taken before syncing")

	pending, err := app.db.PendingBookings()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSubmit(t *testing.T) {
	app, out, _ := newTestApplication(t)
	var body []byte
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ = ioutil.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"10042","timeSpentSeconds":5400}`))
	}))
	defer srv.Close()
	app.cfg.JIRAURL = srv.URL + "/"
	app.cfg.JIRAUsername = "jdoe"
	app.cfg.JIRAPassword = "secret"
	app.cfg.JIRAIssue = "ABC-1"

	err := app.run(context.Background(), []string{"submit", "2025-05-06T12:34:00.000+0000", "5400"})
	require.NoError(t, err)
	require.Equal(t, "/rest/api/2/issue/ABC-1/worklog", path)
	require.JSONEq(t, `{"started":"2025-05-06T12:34:00.000+0000","timeSpentSeconds":5400}`, string(body))
	require.Contains(t, out.String(), "Status: 201 Created\n")
	require.Contains(t, out.String(), `Response: {"id":"10042","timeSpentSeconds":5400}`)
	require.Contains(t, out.String(), `"id": "10042"`)

	out.Reset()
	err = app.run(context.Background(), []string{"submit", "--issue", "XYZ-9", "2025-05-06T12:34:00.000Z", "60", "Review"})
	require.NoError(t, err)
	require.Equal(t, "/rest/api/2/issue/XYZ-9/worklog", path)
	require.JSONEq(t, `{"started":"2025-05-06T12:34:00.000Z","timeSpentSeconds":60,"comment":"Review"}`, string(body))

	err = app.run(context.Background(), []string{"submit", "--issue", "XYZ-9", "2025-05-06T12:34:00.000+0000", "-5"})
	require.NoError(t, err, "negative seconds are forwarded")
	require.JSONEq(t, `{"started":"2025-05-06T12:34:00.000+0000","timeSpentSeconds":-5}`, string(body))

	err = app.run(context.Background(), []string{"submit", "--", "2025-05-06T12:34:00.000+0000", "-60", "-comment"})
	require.NoError(t, err)
	require.Equal(t, "/rest/api/2/issue/ABC-1/worklog", path)
	require.JSONEq(t, `{"started":"2025-05-06T12:34:00.000+0000","timeSpentSeconds":-60,"comment":"-comment"}`, string(body))
}

func TestSubmitNonObjectResponse(t *testing.T) {
	app, out, _ := newTestApplication(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer srv.Close()
	app.cfg.JIRAURL = srv.URL + "/"
	app.cfg.JIRAUsername = "jdoe"
	app.cfg.JIRAPassword = "secret"

	err := app.run(context.Background(), []string{"submit", "--issue", "ABC-1", "2025-05-06T12:34:00.000+0000", "60"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "Status: 200 OK\n")
	require.Contains(t, out.String(), "Decoded: [\n  {\n    \"id\": \"1\"\n  }\n]\n")
}

func TestSubmitErrors(t *testing.T) {
	app, out, _ := newTestApplication(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMessages":[],"errors":{"started":"Invalid date"}}`))
	}))
	defer srv.Close()
	app.cfg.JIRAURL = srv.URL + "/"
	app.cfg.JIRAUsername = "jdoe"
	app.cfg.JIRAPassword = "secret"
	ctx := context.Background()

	var cfgErr *jira.ConfigurationError
	err := app.run(ctx, []string{"submit", "2025-05-06T12:34:00.000+0000", "60"})
	require.True(t, errors.As(err, &cfgErr), "no issue is configured")
	require.Equal(t, "issueID", cfgErr.Field)

	err = app.run(ctx, []string{"submit", "--issue", "ABC-1", "2025-05-06T12:34:00.000+0000", "sixty"})
	require.Error(t, err)

	err = app.run(ctx, []string{"submit", "--issue", "ABC-1", "--strict", "2025-05-06T12:34:00.000Z", "60"})
	require.True(t, errors.As(err, &cfgErr))

	out.Reset()
	var remoteErr *jira.RemoteError
	err = app.run(ctx, []string{"submit", "--issue", "ABC-1", "2025-05-06T12:34:00.000Z", "60"})
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, http.StatusBadRequest, remoteErr.StatusCode)
	require.Equal(t, "Invalid date", remoteErr.Fields["started"])
	require.Contains(t, out.String(), "Status: 400 Bad Request\n")

	err = app.run(ctx, []string{"submit", "--bogus", "x", "y"})
	require.Equal(t, errUsage, errors.Cause(err))
}

func TestDelete(t *testing.T) {
	app, out, clock := newTestApplication(t)
	ctx := context.Background()
	require.NoError(t, app.run(ctx, []string{"add", "ABC-1", "Work on project"}))
	require.NoError(t, app.run(ctx, []string{"add", "ABC-2", "Review"}))
	require.NoError(t, app.run(ctx, []string{"start", "ABC-1"}))
	*clock = clock.Add(time.Hour)
	require.NoError(t, app.run(ctx, []string{"start", "ABC-2"}))
	*clock = clock.Add(30 * time.Minute)
	require.NoError(t, app.run(ctx, []string{"stop"}))

	tsk, _ := app.db.TaskByCode("ABC-1")
	id := tsk.Bookings[0].ID
	require.NoError(t, app.db.SetWorklogID("ABC-1", id, "10001"))

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"delete", "ABC-1", id}))
	require.Equal(t, "Deleted booking "+id+" of ABC-1\nWorklog 10001 stays in JIRA\n", out.String())
	tsk, ok := app.db.TaskByCode("ABC-1")
	require.True(t, ok)
	require.Empty(t, tsk.Bookings)

	require.Error(t, app.run(ctx, []string{"delete", "ABC-1", id}), "the booking is gone")
	require.Error(t, app.run(ctx, []string{"delete", "ABC-9"}))
	require.Equal(t, errUsage, app.run(ctx, []string{"delete"}))

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"delete", "ABC-2"}))
	require.Equal(t, "Deleted ABC-2 Review\n", out.String())
	_, ok = app.db.TaskByCode("ABC-2")
	require.False(t, ok)
}

func TestWeek(t *testing.T) {
	app, out, clock := newTestApplication(t)
	ctx := context.Background()
	require.NoError(t, app.run(ctx, []string{"add", "ABC-1", "Work on project"}))
	require.NoError(t, app.run(ctx, []string{"start", "ABC-1"}))
	*clock = clock.Add(2 * time.Hour)
	require.NoError(t, app.run(ctx, []string{"stop"}))

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"week"}))
	require.Equal(t, "Week of Mon, 5 May 2025\n"+
		"Mon: 0s\n"+
		"Tue: 2h0m0s\n"+
		"Wed: 0s\n"+
		"Thu: 0s\n"+
		"Fri: 0s\n"+
		"Sat: 0s\n"+
		"Sun: 0s\n"+
		"Total: 2h0m0s\n"+
		"Remaining: 38h0m0s\n", out.String())

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"week", "--holidays", "1", "2025-05-08"}))
	require.Contains(t, out.String(), "Remaining: 30h0m0s\n")

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"week", "2025-05-12"}))
	require.Contains(t, out.String(), "Week of Mon, 12 May 2025\n")
	require.Contains(t, out.String(), "Remaining: 40h0m0s\n")

	require.Error(t, app.run(ctx, []string{"week", "--holidays", "6"}))
	require.Equal(t, errUsage, errors.Cause(app.run(ctx, []string{"week", "--holidays", "many"})))
}

func TestSuggest(t *testing.T) {
	app, out, clock := newTestApplication(t)
	ctx := context.Background()
	require.NoError(t, app.run(ctx, []string{"add", "ABC-1", "Review"}))
	require.NoError(t, app.run(ctx, []string{"add", "ABC-2", "Review docs"}))
	require.NoError(t, app.run(ctx, []string{"add", "XYZ-1", "Other"}))
	require.NoError(t, app.run(ctx, []string{"start", "ABC-2"}))
	*clock = clock.Add(time.Hour)
	require.NoError(t, app.run(ctx, []string{"stop"}))

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"suggest", "review"}))
	require.Equal(t, "ABC-2 Review docs\nABC-1 Review\n", out.String())
	require.Equal(t, errUsage, app.run(ctx, []string{"suggest"}))
}

func TestPurge(t *testing.T) {
	app, out, _ := newTestApplication(t)
	start := time.Date(2025, 5, 5, 9, 0, 0, 0, time.Local)
	first := timesheet.Booking{ID: "first"}
	first.SetStart(start)
	first.SetStop(start.Add(time.Hour))
	second := first
	second.ID = "second"
	second.WorklogID = "10001"
	require.NoError(t, app.db.AddTask(timesheet.Task{Code: "ABC-1", Bookings: []timesheet.Booking{first, second}}))

	require.NoError(t, app.run(context.Background(), []string{"purge"}))
	require.Equal(t, "Removed 1 duplicate bookings\n", out.String())
	tsk, _ := app.db.TaskByCode("ABC-1")
	require.Len(t, tsk.Bookings, 1)
	require.Equal(t, "first", tsk.Bookings[0].ID)
	require.Equal(t, "10001", tsk.Bookings[0].WorklogID, "the worklog id is kept")

	out.Reset()
	require.NoError(t, app.run(context.Background(), []string{"purge"}))
	require.Equal(t, "Removed 0 duplicate bookings\n", out.String())
}

func TestImport(t *testing.T) {
	app, out, _ := newTestApplication(t)
	ctx := context.Background()
	require.Error(t, app.run(ctx, []string{"import"}), "no export is configured")
	require.Equal(t, errUsage, app.run(ctx, []string{"import", "a.csv", "b.csv"}))

	path := filepath.Join(t.TempDir(), "toggl.csv")
	require.NoError(t, ioutil.WriteFile(path, []byte("Description,Start date,Start time,End date,End time,Tags\n"+
		"ABC-1 Review pull requests,2025-05-06,09:00:00,2025-05-06,10:30:00,\"client, review\"\n"+
		"ABC-1 Review pull requests,2025-05-06,11:00:00,2025-05-06,11:30:00,\n"+
		"ABC-2 Something else,2025-05-06,13:00:00,2025-05-06,14:00:00,\n"), 0600))
	app.cfg.TogglSheet = path
	require.NoError(t, app.run(ctx, []string{"add", "ABC-2", "Existing"}))

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"import"}))
	require.Equal(t, "3 imported, 0 already present\n", out.String())
	tsk, ok := app.db.TaskByCode("ABC-1")
	require.True(t, ok)
	require.Equal(t, "Review pull requests", tsk.Title)
	require.Equal(t, []string{"client", "review", "Toggl"}, tsk.Tags)
	require.Len(t, tsk.Bookings, 2)
	require.Equal(t, 90*time.Minute, tsk.Bookings[0].Duration())
	tsk, _ = app.db.TaskByCode("ABC-2")
	require.Equal(t, "Existing", tsk.Title, "existing tasks are not changed")
	require.Len(t, tsk.Bookings, 1)

	out.Reset()
	app.cfg.TogglSheet = ""
	require.NoError(t, app.run(ctx, []string{"import", path}))
	require.Equal(t, "0 imported, 3 already present\n", out.String())

	out.Reset()
	require.NoError(t, app.run(ctx, []string{"summary", "2025-05-06"}))
	require.Contains(t, out.String(), "Total: 3h0m0s\n")
}
