// Package syncer pushes finished bookings to JIRA as worklogs and remembers
// the worklog id on each booking so that nothing is submitted twice.
package syncer

import (
	"context"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zerok/timesheet/internal/database"
	"github.com/zerok/timesheet/internal/jira"
)

// WorklogClient is the part of *jira.Client the syncer depends on.
type WorklogClient interface {
	Username() string
	AddWorklog(ctx context.Context, issueID string, start time.Time, dur time.Duration, comment string) (*jira.Worklog, error)
	IssueWorklogs(ctx context.Context, issueID string) ([]jira.WorklogResultItem, error)
}

// Snapshotter is called once before the first booking gets modified.
type Snapshotter interface {
	CreateSnapshot() error
}

type Status string

const (
	StatusDone    Status = "done"
	StatusAdopted Status = "adopted"
	StatusError   Status = "error"
)

type Outcome struct {
	Booking   database.TaskBooking
	Status    Status
	WorklogID string
	Err       error
}

type Report struct {
	Outcomes []Outcome
}

func (r Report) Count(s Status) int {
	var n int
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Filter restricts a sync run. A nil Date means all pending bookings.
type Filter struct {
	Date *time.Time
}

type Options struct {
	DB     database.Database
	Client WorklogClient
	Backup Snapshotter
	Log    *logrus.Logger
}

type Syncer struct {
	db     database.Database
	client WorklogClient
	backup Snapshotter
	log    *logrus.Logger
}

func New(opts Options) (*Syncer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("a database is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("JIRA not configured")
	}
	s := Syncer{
		db:     opts.DB,
		client: opts.Client,
		backup: opts.Backup,
		log:    opts.Log,
	}
	if s.log == nil {
		s.log = logrus.New()
		s.log.Out = ioutil.Discard
	}
	return &s, nil
}

// Sync submits every pending booking matching f. It stops at the first
// failure and returns the partial report together with the error.
func (s *Syncer) Sync(ctx context.Context, f Filter) (Report, error) {
	report := Report{}
	pending, err := s.db.PendingBookings()
	if err != nil {
		return report, errors.Wrap(err, "failed to list pending bookings")
	}
	bookings := make([]database.TaskBooking, 0, len(pending))
	for _, b := range pending {
		if f.Date != nil && !sameDay(b.Start.In(f.Date.Location()), *f.Date) {
			continue
		}
		bookings = append(bookings, b)
	}
	if len(bookings) == 0 {
		s.log.Info("No pending bookings")
		return report, nil
	}

	if s.backup != nil {
		if err := s.backup.CreateSnapshot(); err != nil {
			return report, errors.Wrap(err, "failed to create snapshot before syncing")
		}
	}

	remote := make(map[string][]jira.WorklogResultItem)
	for _, b := range bookings {
		log := s.log.WithFields(logrus.Fields{"code": b.Code, "booking": b.BookingID})
		outcome := Outcome{Booking: b}
		items, ok := remote[b.Code]
		if !ok {
			items, err = s.client.IssueWorklogs(ctx, b.Code)
			if err != nil {
				outcome.Status = StatusError
				outcome.Err = err
				report.Outcomes = append(report.Outcomes, outcome)
				return report, errors.Wrapf(err, "failed to fetch worklogs of %s", b.Code)
			}
			remote[b.Code] = items
		}

		if existing := s.findExisting(items, b); existing != "" {
			log.Infof("Adopting existing worklog %s", existing)
			outcome.Status = StatusAdopted
			outcome.WorklogID = existing
		} else {
			wl, err := s.client.AddWorklog(ctx, b.Code, *b.Start, b.Duration(), comment(b))
			if err != nil {
				log.WithError(err).Error("Failed to create worklog")
				outcome.Status = StatusError
				outcome.Err = err
				report.Outcomes = append(report.Outcomes, outcome)
				return report, errors.Wrapf(err, "failed to submit booking %s of %s", b.BookingID, b.Code)
			}
			outcome.Status = StatusDone
			outcome.WorklogID = wl.ID
		}
		if err := s.db.SetWorklogID(b.Code, b.BookingID, outcome.WorklogID); err != nil {
			outcome.Status = StatusError
			outcome.Err = err
			report.Outcomes = append(report.Outcomes, outcome)
			return report, errors.Wrapf(err, "failed to record worklog %s", outcome.WorklogID)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

// findExisting returns the id of a worklog by the configured user that
// starts at the same instant and has the same length as b.
func (s *Syncer) findExisting(items []jira.WorklogResultItem, b database.TaskBooking) string {
	want := int64(b.Duration().Round(time.Second).Seconds())
	for _, item := range items {
		if item.Author.Name != "" && item.Author.Name != s.client.Username() {
			continue
		}
		started, err := item.StartedTime()
		if err != nil {
			s.log.WithError(err).Debugf("Ignoring worklog %s with unparseable start", item.ID)
			continue
		}
		if started.Truncate(time.Second).Equal(b.Start.Truncate(time.Second)) && item.TimeSpentSeconds == want {
			return item.ID
		}
	}
	return ""
}

func comment(b database.TaskBooking) string {
	if b.Title != "" {
		return b.Title
	}
	return fmt.Sprintf("Working on %s", b.Code)
}

func sameDay(a, b time.Time) bool {
	aYear, aMonth, aDay := a.Date()
	bYear, bMonth, bDay := b.Date()
	return aYear == bYear && aMonth == bMonth && aDay == bDay
}
