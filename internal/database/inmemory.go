package database

import (
	"fmt"
	"time"

	"github.com/zerok/timesheet"
)

type InMemory struct {
	tasks      []timesheet.Task
	taskmap    map[string]int
	activeCode string
	now        func() time.Time
}

func NewInMemory() *InMemory {
	db := &InMemory{
		tasks:   make([]timesheet.Task, 0, 10),
		taskmap: make(map[string]int),
		now:     time.Now,
	}
	return db
}

// SetClock replaces the time source used when clocking in and out.
func (d *InMemory) SetClock(now func() time.Time) {
	d.now = now
}

func (d *InMemory) TaskByCode(code string) (timesheet.Task, bool) {
	idx, found := d.taskmap[code]
	if !found {
		return timesheet.Task{}, false
	}
	return d.tasks[idx], true
}

func (d *InMemory) ActiveCode() string {
	return d.activeCode
}

func (d *InMemory) ActiveTask() (timesheet.Task, bool) {
	if d.activeCode == "" {
		return timesheet.Task{}, false
	}
	return d.TaskByCode(d.activeCode)
}

func (d *InMemory) AddTask(t timesheet.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	_, exists := d.taskmap[t.Code]
	if exists {
		return fmt.Errorf("a task with this code already exists")
	}
	d.tasks = append(d.tasks, t)
	d.taskmap[t.Code] = len(d.tasks) - 1
	return nil
}

func (d *InMemory) UpdateTask(oldCode string, task timesheet.Task) error {
	idx, found := d.taskmap[oldCode]
	if !found {
		return fmt.Errorf("the requested task does not exist")
	}
	if err := validateTask(task); err != nil {
		return err
	}
	if task.Code != oldCode {
		if _, exists := d.taskmap[task.Code]; exists {
			return fmt.Errorf("a task with this code already exists")
		}
		delete(d.taskmap, oldCode)
		d.taskmap[task.Code] = idx
		if d.activeCode == oldCode {
			d.activeCode = task.Code
		}
	}
	if task.Bookings == nil {
		task.Bookings = d.tasks[idx].Bookings
	}
	d.tasks[idx] = task
	return nil
}

func (d *InMemory) AllTasks() ([]timesheet.Task, error) {
	return d.tasks, nil
}

func (d *InMemory) Empty() bool {
	return len(d.tasks) == 0
}

func (d *InMemory) ClockInto(code string) error {
	taskIdx, exists := d.taskmap[code]
	if !exists {
		return fmt.Errorf("the requested task does not exist")
	}
	if active, ok := d.ActiveTask(); ok && active.Running() {
		if err := d.ClockOutOf(active.Code); err != nil {
			return err
		}
	}
	if err := (&d.tasks[taskIdx]).Start(d.now()); err != nil {
		return err
	}
	d.activeCode = code
	return nil
}

func (d *InMemory) ClockOutOf(code string) error {
	taskIdx, exists := d.taskmap[code]
	if !exists {
		return fmt.Errorf("the requested task does not exist")
	}
	if err := (&d.tasks[taskIdx]).Stop(d.now()); err != nil {
		return err
	}
	if d.activeCode == code {
		d.activeCode = ""
	}
	return nil
}

func (d *InMemory) LoadState() error {
	return nil
}

func (d *InMemory) GenerateDailySummary(t time.Time) Summary {
	return summarize(d.tasks, t)
}

func (d *InMemory) GenerateWeeklySummary(t time.Time) WeekSummary {
	return summarizeWeek(d.tasks, t, d.now())
}

func (d *InMemory) DeleteTask(code string) error {
	taskIdx, exists := d.taskmap[code]
	if !exists {
		return fmt.Errorf("the requested task does not exist")
	}
	tasks := make([]timesheet.Task, 0, len(d.tasks))
	tasks = append(tasks, d.tasks[:taskIdx]...)
	d.tasks = append(tasks, d.tasks[taskIdx+1:]...)
	d.taskmap = make(map[string]int, len(d.tasks))
	for idx, t := range d.tasks {
		d.taskmap[t.Code] = idx
	}
	if d.activeCode == code {
		d.activeCode = ""
	}
	return nil
}

func (d *InMemory) DeleteBooking(code, bookingID string) error {
	taskIdx, exists := d.taskmap[code]
	if !exists {
		return fmt.Errorf("the requested task does not exist")
	}
	task := &d.tasks[taskIdx]
	if !task.RemoveBooking(bookingID) {
		return fmt.Errorf("booking %s not found in task %s", bookingID, code)
	}
	if d.activeCode == code && !task.Running() {
		d.activeCode = ""
	}
	return nil
}

func (d *InMemory) PendingBookings() ([]TaskBooking, error) {
	return pendingBookings(d.tasks), nil
}

func (d *InMemory) SetWorklogID(code, bookingID, worklogID string) error {
	taskIdx, exists := d.taskmap[code]
	if !exists {
		return fmt.Errorf("the requested task does not exist")
	}
	return assignWorklogID(&d.tasks[taskIdx], bookingID, worklogID)
}

func (d *InMemory) FilteredTasks(filter string) ([]timesheet.Task, error) {
	return filterTasks(d.tasks, filter), nil
}
