package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/zerok/timesheet"
	"github.com/zerok/timesheet/internal/backup"
	"github.com/zerok/timesheet/internal/config"
	"github.com/zerok/timesheet/internal/database"
	"github.com/zerok/timesheet/internal/jira"
	"github.com/zerok/timesheet/internal/syncer"
	"github.com/zerok/timesheet/internal/toggl"
)

const usageText = `Commands:
  add CODE TITLE [TAG...]                 Create a new task
  edit CODE NEWCODE TITLE [TAG...]        Change code, title and tags of a task
  start CODE                              Clock into a task
  stop                                    Clock out of the active task
  list [FILTER]                           List tasks
  summary [YYYY-MM-DD]                    Show the bookings of a day
  sync [YYYY-MM-DD]                       Submit missing worklogs to JIRA
  submit [--issue ID] [--strict] [--] STARTED SECONDS [COMMENT]
                                          Submit a single worklog entry; flags
                                          must come before STARTED
  delete CODE [BOOKING-ID]                Delete a task or a single booking
  week [--holidays N] [YYYY-MM-DD]        Show the booked time per weekday and
                                          what is left to book
  suggest PARTIAL                         List matching tasks, most recent first
  purge                                   Remove duplicate bookings
  import [FILE]                           Import a Toggl CSV export (default
                                          TOGGL_SHEET_PATH)
  snapshots                               List backups of the store
`

const dateLayout = "2006-01-02"

const suggestionLimit = 5

var errUsage = errors.New("invalid usage")

// repository is implemented by *backup.Backup.
type repository interface {
	CreateSnapshot() error
	Snapshots() ([]backup.Snapshot, error)
}

type application struct {
	db         database.Database
	cfg        *config.Config
	log        *logrus.Logger
	out        io.Writer
	jiraClient *jira.Client
	httpClient *http.Client
	backup     repository
	now        func() time.Time
}

func newApplication(db database.Database, cfg *config.Config, log *logrus.Logger) *application {
	if log == nil {
		log = discardLogger()
	}
	return &application{
		db:  db,
		cfg: cfg,
		log: log,
		out: ioutil.Discard,
		now: time.Now,
	}
}

func (a *application) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "add":
		return a.add(args)
	case "edit":
		return a.edit(args)
	case "start":
		return a.start(args)
	case "stop":
		return a.stop(args)
	case "list":
		return a.list(args)
	case "summary":
		return a.summary(args)
	case "sync":
		return a.sync(ctx, args)
	case "submit":
		return a.submit(ctx, args)
	case "delete":
		return a.remove(args)
	case "week":
		return a.week(args)
	case "suggest":
		return a.suggest(args)
	case "purge":
		return a.purge(args)
	case "import":
		return a.importToggl(args)
	case "snapshots":
		return a.snapshots(args)
	}
	return errUsage
}

func (a *application) add(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	tsk := timesheet.Task{
		Code:  args[0],
		Title: args[1],
		Tags:  args[2:],
	}
	if err := a.db.AddTask(tsk); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s\n", tsk.Label())
	return nil
}

// edit keeps the bookings of the task.
func (a *application) edit(args []string) error {
	if len(args) < 3 {
		return errUsage
	}
	tsk := timesheet.Task{
		Code:  args[1],
		Title: args[2],
		Tags:  args[3:],
	}
	if err := a.db.UpdateTask(args[0], tsk); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s\n", tsk.Label())
	return nil
}

func (a *application) start(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.db.ClockInto(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Clocked into %s\n", args[0])
	return nil
}

func (a *application) stop(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	code := a.db.ActiveCode()
	if code == "" {
		return errors.New("no task is active")
	}
	if err := a.db.ClockOutOf(code); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Clocked out of %s\n", code)
	return nil
}

func (a *application) list(args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	var tasks []timesheet.Task
	var err error
	if len(args) == 1 {
		tasks, err = a.db.FilteredTasks(args[0])
	} else {
		tasks, err = a.db.AllTasks()
	}
	if err != nil {
		return err
	}
	active := a.db.ActiveCode()
	for _, tsk := range tasks {
		marker := " "
		if tsk.Code == active && tsk.Running() {
			marker = "*"
		}
		fmt.Fprintf(a.out, "%s %s\n", marker, tsk.Label())
	}
	return nil
}

func (a *application) summary(args []string) error {
	day, err := a.parseDay(args)
	if err != nil {
		return err
	}
	if day == nil {
		now := a.now()
		day = &now
	}
	s := a.db.GenerateDailySummary(*day)
	fmt.Fprintf(a.out, "Summary for %s\n", day.Format("Mon, 2 Jan 2006"))
	for _, b := range s.Bookings {
		fmt.Fprintf(a.out, "%s - %s (%s) %s\n", formatTime(b.Start), formatTime(b.Stop), b.Code, b.SubmissionStatus)
	}
	codes := make([]string, 0, len(s.Totals))
	for code := range s.Totals {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(a.out, "%s: %s\n", code, s.Totals[code])
	}
	fmt.Fprintf(a.out, "Total: %s\n", s.Total)
	return nil
}

// remove deletes local data only. Worklogs already in JIRA stay there.
func (a *application) remove(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	code := args[0]
	tsk, ok := a.db.TaskByCode(code)
	if !ok {
		return errors.Errorf("task %s not found", code)
	}
	if len(args) == 2 {
		b, ok := tsk.BookingByID(args[1])
		if !ok {
			return errors.Errorf("booking %s not found in task %s", args[1], code)
		}
		worklogID := b.WorklogID
		if err := a.db.DeleteBooking(code, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deleted booking %s of %s\n", args[1], code)
		if worklogID != "" {
			a.log.WithField("worklog", worklogID).Warnf("Booking %s was already submitted", args[1])
			fmt.Fprintf(a.out, "Worklog %s stays in JIRA\n", worklogID)
		}
		return nil
	}
	if err := a.db.DeleteTask(code); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", tsk.Label())
	for _, b := range tsk.Bookings {
		if b.Submitted() {
			fmt.Fprintf(a.out, "Worklog %s stays in JIRA\n", b.WorklogID)
		}
	}
	return nil
}

func (a *application) week(args []string) error {
	fs := pflag.NewFlagSet("week", pflag.ContinueOnError)
	fs.SetOutput(ioutil.Discard)
	holidays := fs.Int("holidays", 0, "Number of working days off in the week")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(errUsage, err.Error())
	}
	day, err := a.parseDay(fs.Args())
	if err != nil {
		return err
	}
	if day == nil {
		now := a.now()
		day = &now
	}
	w := a.db.GenerateWeeklySummary(*day)
	remaining, err := w.Remaining(*holidays)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Week of %s\n", w.Start.Format("Mon, 2 Jan 2006"))
	for idx, d := range w.Days {
		fmt.Fprintf(a.out, "%s: %s\n", w.Start.AddDate(0, 0, idx).Format("Mon"), d)
	}
	fmt.Fprintf(a.out, "Total: %s\n", w.Total)
	fmt.Fprintf(a.out, "Remaining: %s\n", remaining)
	return nil
}

func (a *application) suggest(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	tasks, err := a.db.AllTasks()
	if err != nil {
		return err
	}
	for _, tsk := range database.SuggestTasks(tasks, args[0], suggestionLimit) {
		fmt.Fprintln(a.out, tsk.Label())
	}
	return nil
}

func (a *application) purge(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	tasks, err := a.db.AllTasks()
	if err != nil {
		return err
	}
	total := 0
	for _, tsk := range tasks {
		n := tsk.PurgeDuplicates()
		if n == 0 {
			continue
		}
		if err := a.db.UpdateTask(tsk.Code, tsk); err != nil {
			return err
		}
		a.log.Infof("Removed %d duplicate bookings from %s", n, tsk.Code)
		total += n
	}
	fmt.Fprintf(a.out, "Removed %d duplicate bookings\n", total)
	return nil
}

// importToggl adds the entries of a Toggl export as finished bookings. The
// first word of an entry's description is the task code. Entries that are
// already booked are skipped, so importing the same file twice is harmless.
func (a *application) importToggl(args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	path := a.cfg.TogglSheet
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no Toggl export given and TOGGL_SHEET_PATH is not set")
	}
	entries, err := toggl.ReadFile(path, time.Local)
	if err != nil {
		return err
	}
	imported := 0
	for _, e := range entries {
		code := e.Code()
		tsk, ok := a.db.TaskByCode(code)
		if !ok {
			tsk = timesheet.Task{Code: code, Title: e.Title(), Tags: e.Tags}
			if err := a.db.AddTask(tsk); err != nil {
				return err
			}
		}
		b := timesheet.Booking{}
		b.SetStart(e.Start)
		b.SetStop(e.Stop)
		if !tsk.AddBooking(b) {
			a.log.Debugf("Skipping %s at %s, already booked", code, b.Start)
			continue
		}
		if err := a.db.UpdateTask(code, tsk); err != nil {
			return err
		}
		imported++
	}
	fmt.Fprintf(a.out, "%d imported, %d already present\n", imported, len(entries)-imported)
	return nil
}

func (a *application) sync(ctx context.Context, args []string) error {
	day, err := a.parseDay(args)
	if err != nil {
		return err
	}
	if a.jiraClient == nil {
		return errors.New("JIRA not configured")
	}
	s, err := syncer.New(syncer.Options{
		DB:     a.db,
		Client: a.jiraClient,
		Backup: a.backup,
		Log:    a.log,
	})
	if err != nil {
		return err
	}
	report, err := s.Sync(ctx, syncer.Filter{Date: day})
	for _, o := range report.Outcomes {
		line := fmt.Sprintf("%s %s (%s) %s", formatTime(o.Booking.Start), o.Booking.Code, o.Booking.Duration(), o.Status)
		if o.WorklogID != "" {
			line += " " + o.WorklogID
		}
		fmt.Fprintln(a.out, line)
	}
	fmt.Fprintf(a.out, "%d submitted, %d adopted\n", report.Count(syncer.StatusDone), report.Count(syncer.StatusAdopted))
	return err
}

// submit sends a single worklog entry as given on the command line. The
// started value is passed through unmodified.
func (a *application) submit(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	fs.SetOutput(ioutil.Discard)
	issue := fs.String("issue", a.cfg.JIRAIssue, "Issue to log the work on")
	strict := fs.Bool("strict", false, "Reject started values without a numeric UTC offset")
	// Flags go before STARTED so that negative SECONDS are not taken as flags.
	fs.SetInterspersed(false)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(errUsage, err.Error())
	}
	rest := fs.Args()
	if len(rest) < 2 || len(rest) > 3 {
		return errUsage
	}
	seconds, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid number of seconds %q", rest[1])
	}
	entry := jira.Entry{
		Started:          rest[0],
		TimeSpentSeconds: seconds,
	}
	if len(rest) == 3 {
		entry.Comment = rest[2]
	}

	opts := []jira.Option{jira.WithLogger(a.log)}
	if a.httpClient != nil {
		opts = append(opts, jira.WithHTTPClient(a.httpClient))
	}
	if *strict {
		opts = append(opts, jira.WithStrictStarted())
	}
	sub := jira.NewSubmitter(opts...)
	result, err := sub.Submit(ctx,
		jira.Endpoint{BaseURL: a.cfg.JIRAURL, IssueID: *issue},
		jira.Credentials{Username: a.cfg.JIRAUsername, Password: a.cfg.JIRAPassword},
		entry)
	if result != nil {
		fmt.Fprintf(a.out, "Status: %d %s\n", result.StatusCode, http.StatusText(result.StatusCode))
		fmt.Fprintf(a.out, "Response: %s\n", result.Raw)
		if result.Body != nil {
			pretty, merr := json.MarshalIndent(result.Body, "", "  ")
			if merr == nil {
				fmt.Fprintf(a.out, "Decoded: %s\n", pretty)
			}
		}
	}
	if err != nil {
		return err
	}
	return result.Err()
}

func (a *application) snapshots(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if a.backup == nil {
		return errors.New("backups are not available, is restic installed?")
	}
	snapshots, err := a.backup.Snapshots()
	if err != nil {
		return err
	}
	for _, s := range snapshots {
		fmt.Fprintln(a.out, s.Label())
	}
	return nil
}

func (a *application) parseDay(args []string) (*time.Time, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		d, err := time.ParseInLocation(dateLayout, args[0], time.Local)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid date %q", args[0])
		}
		return &d, nil
	}
	return nil, errUsage
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "..."
	}
	return t.Format("15:04:05")
}
