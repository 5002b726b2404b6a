package database

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zerok/timesheet"
)

type SubmissionStatus int

const (
	SubmissionStatusPending SubmissionStatus = iota
	SubmissionStatusOK
	SubmissionStatusSkipped
)

func (s SubmissionStatus) String() string {
	switch s {
	case SubmissionStatusOK:
		return "ok"
	case SubmissionStatusSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

type Summary struct {
	Bookings []TaskBooking
	Totals   map[string]time.Duration
	Total    time.Duration
}

type TaskBooking struct {
	Code             string
	BookingID        string
	Title            string
	Start            *time.Time
	Stop             *time.Time
	WorklogID        string
	SubmissionStatus SubmissionStatus
}

func (b TaskBooking) Duration() time.Duration {
	if b.Start == nil || b.Stop == nil {
		return 0
	}
	return b.Stop.Sub(*b.Start)
}

func newTaskBooking(tsk timesheet.Task, b timesheet.Booking) TaskBooking {
	tb := TaskBooking{
		Code:      tsk.Code,
		BookingID: b.ID,
		Title:     tsk.Title,
		Start:     b.StartTime(),
		Stop:      b.StopTime(),
		WorklogID: b.WorklogID,
	}
	switch {
	case b.Submitted():
		tb.SubmissionStatus = SubmissionStatusOK
	case tsk.HasTag(timesheet.OfflineTag):
		tb.SubmissionStatus = SubmissionStatusSkipped
	default:
		tb.SubmissionStatus = SubmissionStatusPending
	}
	return tb
}

type ByStart []TaskBooking

func (b ByStart) Len() int {
	return len(b)
}
func (b ByStart) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

func (b ByStart) Less(i, j int) bool {
	aStart := b[i].Start
	bStart := b[j].Start
	if bStart == nil && aStart != nil {
		return true
	}
	if aStart == nil && bStart != nil {
		return false
	}
	if aStart == nil && bStart == nil {
		return false
	}
	return aStart.Before(*bStart)
}

// summarize builds the summary of all bookings started on the same local day
// as t. Running bookings are listed but do not count towards the totals.
func summarize(tasks []timesheet.Task, t time.Time) Summary {
	summary := Summary{}
	summary.Totals = make(map[string]time.Duration)
	summary.Bookings = make([]TaskBooking, 0, 10)
	for _, tsk := range tasks {
		for _, b := range tsk.Bookings {
			start := b.StartTime()
			if start == nil || !isSameDay(start.In(t.Location()), t) {
				continue
			}
			tb := newTaskBooking(tsk, b)
			summary.Bookings = append(summary.Bookings, tb)
			if tb.Stop != nil {
				dur := tb.Duration()
				summary.Totals[tsk.Code] += dur
				summary.Total += dur
			}
		}
	}
	sort.Sort(ByStart(summary.Bookings))
	return summary
}

// pendingBookings lists finished, unsubmitted bookings of tasks that are not
// tagged offline, oldest first.
func pendingBookings(tasks []timesheet.Task) []TaskBooking {
	result := make([]TaskBooking, 0, 10)
	for _, tsk := range tasks {
		for _, b := range tsk.Bookings {
			tb := newTaskBooking(tsk, b)
			if tb.SubmissionStatus != SubmissionStatusPending || tb.Start == nil || tb.Stop == nil {
				continue
			}
			result = append(result, tb)
		}
	}
	sort.Stable(ByStart(result))
	return result
}

func filterTasks(tasks []timesheet.Task, f string) []timesheet.Task {
	q := strings.ToLower(f)
	result := make([]timesheet.Task, 0, 5)
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Label()), q) {
			result = append(result, t)
		}
	}
	return result
}

// assignWorklogID updates the booking inside tsk. An existing, different
// worklog id is never overwritten.
func assignWorklogID(tsk *timesheet.Task, bookingID, worklogID string) error {
	b, ok := tsk.BookingByID(bookingID)
	if !ok {
		return fmt.Errorf("booking %s not found in task %s", bookingID, tsk.Code)
	}
	if b.WorklogID != "" && b.WorklogID != worklogID {
		return fmt.Errorf("booking %s of task %s already has worklog %s", bookingID, tsk.Code, b.WorklogID)
	}
	b.WorklogID = worklogID
	return nil
}

// WorkdayTarget is the time expected to be booked per working day.
const WorkdayTarget = 8 * time.Hour

// WorkdaysPerWeek is the number of working days in a week without holidays.
const WorkdaysPerWeek = 5

type WeekSummary struct {
	// Start is Monday 00:00 in the location of the requested time.
	Start time.Time
	// Days holds the booked time per weekday, starting with Monday.
	Days  [7]time.Duration
	Total time.Duration
}

// Remaining returns how much time is still to be booked in the week when
// the given number of working days are holidays. It is negative when more
// than required has been booked.
func (w WeekSummary) Remaining(holidays int) (time.Duration, error) {
	if holidays < 0 || holidays > WorkdaysPerWeek {
		return 0, fmt.Errorf("holidays must be between 0 and %d, got %d", WorkdaysPerWeek, holidays)
	}
	return time.Duration(WorkdaysPerWeek-holidays)*WorkdayTarget - w.Total, nil
}

func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}

func summarizeWeek(tasks []timesheet.Task, t time.Time, now time.Time) WeekSummary {
	w := WeekSummary{Start: weekStart(t)}
	for _, tsk := range tasks {
		for _, b := range tsk.Bookings {
			start := b.StartTime()
			if start == nil {
				continue
			}
			local := start.In(t.Location())
			idx := -1
			for i := 0; i < 7; i++ {
				if isSameDay(local, w.Start.AddDate(0, 0, i)) {
					idx = i
					break
				}
			}
			if idx < 0 {
				continue
			}
			var dur time.Duration
			if stop := b.StopTime(); stop != nil {
				dur = stop.Sub(*start)
			} else if now.After(*start) {
				dur = now.Sub(*start)
			}
			w.Days[idx] += dur
			w.Total += dur
		}
	}
	return w
}

// SuggestTasks returns up to limit tasks matching partial, the most recently
// booked first.
func SuggestTasks(tasks []timesheet.Task, partial string, limit int) []timesheet.Task {
	matches := filterTasks(tasks, partial)
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := lastStart(matches[i]), lastStart(matches[j])
		if b == nil {
			return a != nil
		}
		return a != nil && a.After(*b)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func lastStart(t timesheet.Task) *time.Time {
	var latest *time.Time
	for _, b := range t.Bookings {
		if s := b.StartTime(); s != nil && (latest == nil || s.After(*latest)) {
			latest = s
		}
	}
	return latest
}

func isSameDay(a time.Time, b time.Time) bool {
	aYear, aMonth, aDay := a.Date()
	bYear, bMonth, bDay := b.Date()
	return aYear == bYear && aMonth == bMonth && aDay == bDay
}
