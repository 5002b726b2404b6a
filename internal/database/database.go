package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/zerok/timesheet"
)

// Database is the main abstraction for the datastore used by timesheet. There
// exist multiple implementions: the folder-based YAML store, a SQLite store
// and an in-memory store mostly used for testing.
type Database interface {
	ActiveCode() string
	ActiveTask() (timesheet.Task, bool)
	TaskByCode(code string) (timesheet.Task, bool)
	LoadState() error
	AddTask(timesheet.Task) error
	UpdateTask(oldCode string, task timesheet.Task) error
	ClockInto(code string) error
	ClockOutOf(code string) error
	AllTasks() ([]timesheet.Task, error)
	FilteredTasks(f string) ([]timesheet.Task, error)
	GenerateDailySummary(time.Time) Summary
	// GenerateWeeklySummary covers Monday to Sunday of the week containing
	// the given time. Running bookings count up to now.
	GenerateWeeklySummary(time.Time) WeekSummary
	// DeleteTask removes a task and all its bookings.
	DeleteTask(code string) error
	// DeleteBooking removes a single booking of a task.
	DeleteBooking(code, bookingID string) error
	// PendingBookings returns finished bookings that have no worklog id yet.
	PendingBookings() ([]TaskBooking, error)
	// SetWorklogID records the JIRA worklog a booking was submitted as.
	SetWorklogID(code, bookingID, worklogID string) error
	Empty() bool
}

// validateTask checks the rules every store enforces on AddTask and
// UpdateTask. Tags are kept comma-separated in some places, so they must not
// contain commas themselves.
func validateTask(t timesheet.Task) error {
	if t.Code == "" {
		return fmt.Errorf("a task requires a code")
	}
	for _, tag := range t.Tags {
		if strings.Contains(tag, ",") {
			return fmt.Errorf("the tag %q of task %s must not contain a comma", tag, t.Code)
		}
	}
	return nil
}
