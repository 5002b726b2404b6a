package timesheet

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OfflineTag marks tasks whose bookings are never pushed to JIRA.
const OfflineTag = "offline"

// Task is a unit of work tracked locally. Its code doubles as the JIRA issue
// key the bookings are logged against.
type Task struct {
	Code     string    `yaml:"code"`
	Title    string    `yaml:"title"`
	Tags     []string  `yaml:"tags"`
	Bookings []Booking `yaml:"bookings"`
}

func (t Task) Label() string {
	return fmt.Sprintf("%s %s", t.Code, t.Title)
}

func (t Task) String() string {
	return t.Code
}

func (t Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if strings.EqualFold(tg, tag) {
			return true
		}
	}
	return false
}

// Running reports whether the last booking has been started but not stopped.
func (t *Task) Running() bool {
	if len(t.Bookings) == 0 {
		return false
	}
	return t.Bookings[len(t.Bookings)-1].Stop == ""
}

func (t *Task) Start(tm time.Time) error {
	if t.Running() {
		return fmt.Errorf("task %s is already running", t.Code)
	}
	b := Booking{ID: uuid.NewString()}
	b.SetStart(tm)
	t.Bookings = append(t.Bookings, b)
	return nil
}

func (t *Task) Stop(tm time.Time) error {
	if !t.Running() {
		return fmt.Errorf("task %s is not running", t.Code)
	}
	b := &t.Bookings[len(t.Bookings)-1]
	b.SetStop(tm)
	return nil
}

// BookingByID returns a pointer into the task's bookings so that callers can
// update it in place.
func (t *Task) BookingByID(id string) (*Booking, bool) {
	for idx := range t.Bookings {
		if t.Bookings[idx].ID == id {
			return &t.Bookings[idx], true
		}
	}
	return nil, false
}

// RemoveBooking drops the booking with the given id.
func (t *Task) RemoveBooking(id string) bool {
	for idx := range t.Bookings {
		if t.Bookings[idx].ID == id {
			bookings := make([]Booking, 0, len(t.Bookings)-1)
			bookings = append(bookings, t.Bookings[:idx]...)
			t.Bookings = append(bookings, t.Bookings[idx+1:]...)
			return true
		}
	}
	return false
}

// AddBooking adds a finished booking unless one with the same start and stop
// already exists. A running booking stays last.
func (t *Task) AddBooking(b Booking) bool {
	for _, existing := range t.Bookings {
		if existing.sameInterval(b) {
			return false
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	bookings := make([]Booking, 0, len(t.Bookings)+1)
	if t.Running() {
		last := len(t.Bookings) - 1
		bookings = append(bookings, t.Bookings[:last]...)
		bookings = append(bookings, b, t.Bookings[last])
	} else {
		bookings = append(bookings, t.Bookings...)
		bookings = append(bookings, b)
	}
	t.Bookings = bookings
	return true
}

// PurgeDuplicates removes bookings covering the same interval as an earlier
// one and returns how many were removed. A worklog id on a removed duplicate
// is moved to the booking that is kept.
func (t *Task) PurgeDuplicates() int {
	kept := make([]Booking, 0, len(t.Bookings))
	removed := 0
outer:
	for _, b := range t.Bookings {
		for idx := range kept {
			if kept[idx].sameInterval(b) {
				if kept[idx].WorklogID == "" {
					kept[idx].WorklogID = b.WorklogID
				}
				removed++
				continue outer
			}
		}
		kept = append(kept, b)
	}
	t.Bookings = kept
	return removed
}

type Booking struct {
	ID        string `yaml:"id"`
	Start     string `yaml:"start"`
	Stop      string `yaml:"stop"`
	WorklogID string `yaml:"worklog_id,omitempty"`
}

func (b *Booking) SetStart(t time.Time) {
	b.Start = t.Format(time.RFC3339)
}

func (b *Booking) SetStop(t time.Time) {
	b.Stop = t.Format(time.RFC3339)
}

func (b Booking) StartTime() *time.Time {
	return parseBookingTime(b.Start)
}

func (b Booking) StopTime() *time.Time {
	return parseBookingTime(b.Stop)
}

// Duration is zero for bookings that are still running.
func (b Booking) Duration() time.Duration {
	start := b.StartTime()
	stop := b.StopTime()
	if start == nil || stop == nil {
		return 0
	}
	return stop.Sub(*start)
}

func (b Booking) Submitted() bool {
	return b.WorklogID != ""
}

func (b Booking) sameInterval(o Booking) bool {
	if b.Stop == "" || o.Stop == "" {
		return false
	}
	bStart, oStart := b.StartTime(), o.StartTime()
	bStop, oStop := b.StopTime(), o.StopTime()
	if bStart == nil || oStart == nil || bStop == nil || oStop == nil {
		return b.Start == o.Start && b.Stop == o.Stop
	}
	return bStart.Equal(*oStart) && bStop.Equal(*oStop)
}

func parseBookingTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
