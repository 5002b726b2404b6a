package database

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zerok/timesheet"
	"gopkg.in/yaml.v2"
)

const ActiveCodeFilename = "activeCode"
const TasksFolder = "tasks"

// FolderBasedDatabase keeps one YAML file per task inside
// {root}/tasks/{code}.yml and the code of the running task in
// {root}/activeCode.
type FolderBasedDatabase struct {
	taskIndex     []timesheet.Task
	taskCodeIndex map[string]struct{}
	activeCode    string
	rootFolder    string
	log           *logrus.Logger
	now           func() time.Time
}

func (d *FolderBasedDatabase) ActiveCode() string {
	return d.activeCode
}

func (d *FolderBasedDatabase) ActiveTask() (timesheet.Task, bool) {
	if d.activeCode == "" {
		return timesheet.Task{}, false
	}
	return d.TaskByCode(d.activeCode)
}

func (d *FolderBasedDatabase) TaskByCode(code string) (timesheet.Task, bool) {
	idx := d.indexOf(code)
	if idx < 0 {
		return timesheet.Task{}, false
	}
	return d.taskIndex[idx], true
}

func NewDatabase(path string, log *logrus.Logger) (Database, error) {
	if log == nil {
		log = logrus.New()
		log.Out = ioutil.Discard
	}
	d := FolderBasedDatabase{
		rootFolder:    path,
		log:           log,
		taskCodeIndex: make(map[string]struct{}),
		now:           time.Now,
	}
	return &d, nil
}

func (d *FolderBasedDatabase) LoadState() error {
	d.log.Infof("Loading state")
	activeCodeFile := filepath.Join(d.rootFolder, ActiveCodeFilename)
	tasksFolder := filepath.Join(d.rootFolder, TasksFolder)

	activeCodeData, err := ioutil.ReadFile(activeCodeFile)
	if err != nil {
		if os.IsNotExist(err) {
			d.activeCode = ""
		} else {
			return errors.Wrap(err, "failed to read active code")
		}
	} else {
		d.activeCode = strings.TrimSpace(string(activeCodeData))
	}

	files, err := filepath.Glob(filepath.Join(tasksFolder, "*.yml"))
	if err != nil {
		return err
	}
	d.taskIndex = nil
	d.taskCodeIndex = make(map[string]struct{})
	for _, f := range files {
		d.log.Debugf("Loading task from %s", f)
		t, err := d.loadTask(f)
		if err != nil {
			return err
		}
		d.taskIndex = append(d.taskIndex, *t)
		d.taskCodeIndex[t.Code] = struct{}{}
	}
	return nil
}

func (d *FolderBasedDatabase) loadTask(path string) (*timesheet.Task, error) {
	baseName := filepath.Base(path)
	if !strings.HasSuffix(baseName, ".yml") || len(baseName) == len(".yml") {
		return nil, fmt.Errorf("%s doesn't match the filename pattern {code}.yml", path)
	}
	code := strings.TrimSuffix(baseName, ".yml")
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t timesheet.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	t.Code = code
	return &t, nil
}

func (d *FolderBasedDatabase) taskPath(code string) string {
	return filepath.Join(d.rootFolder, TasksFolder, fmt.Sprintf("%s.yml", code))
}

func (d *FolderBasedDatabase) saveTask(tsk *timesheet.Task) error {
	if err := os.MkdirAll(filepath.Join(d.rootFolder, TasksFolder), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(tsk)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(d.taskPath(tsk.Code), data, 0600)
}

func (d *FolderBasedDatabase) indexOf(code string) int {
	if _, ok := d.taskCodeIndex[code]; !ok {
		return -1
	}
	for idx := range d.taskIndex {
		if d.taskIndex[idx].Code == code {
			return idx
		}
	}
	return -1
}

func (d *FolderBasedDatabase) AddTask(t timesheet.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	if strings.ContainsAny(t.Code, `/\`) {
		return fmt.Errorf("the task code %q must not contain path separators", t.Code)
	}
	if d.taskCodeIndex == nil {
		d.taskCodeIndex = make(map[string]struct{})
	}
	if _, found := d.taskCodeIndex[t.Code]; found {
		return fmt.Errorf("the database already contains a task with the code %s", t.Code)
	}
	if err := d.saveTask(&t); err != nil {
		return err
	}
	d.taskIndex = append(d.taskIndex, t)
	d.taskCodeIndex[t.Code] = struct{}{}
	return nil
}

// UpdateTask replaces the task stored under oldCode. Bookings are kept if the
// new task doesn't carry any.
func (d *FolderBasedDatabase) UpdateTask(oldCode string, task timesheet.Task) error {
	idx := d.indexOf(oldCode)
	if idx < 0 {
		return fmt.Errorf("task %s not found", oldCode)
	}
	if err := validateTask(task); err != nil {
		return err
	}
	if strings.ContainsAny(task.Code, `/\`) {
		return fmt.Errorf("the task code %q must not contain path separators", task.Code)
	}
	if task.Code != oldCode {
		if _, found := d.taskCodeIndex[task.Code]; found {
			return fmt.Errorf("the database already contains a task with the code %s", task.Code)
		}
	}
	if task.Bookings == nil {
		task.Bookings = d.taskIndex[idx].Bookings
	}
	if err := d.saveTask(&task); err != nil {
		return err
	}
	if task.Code != oldCode {
		if err := os.Remove(d.taskPath(oldCode)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", d.taskPath(oldCode))
		}
		delete(d.taskCodeIndex, oldCode)
		d.taskCodeIndex[task.Code] = struct{}{}
		if d.activeCode == oldCode {
			if err := d.setActiveCode(task.Code); err != nil {
				return err
			}
		}
	}
	d.taskIndex[idx] = task
	return nil
}

func (d *FolderBasedDatabase) ClockInto(code string) error {
	if _, ok := d.taskCodeIndex[code]; !ok {
		return fmt.Errorf("task %s not found", code)
	}
	// If another task is active, clock out of that first
	if active, ok := d.ActiveTask(); ok && active.Running() {
		if err := d.ClockOutOf(active.Code); err != nil {
			return err
		}
	}
	idx := d.indexOf(code)
	task := &d.taskIndex[idx]
	if err := task.Start(d.now()); err != nil {
		return err
	}
	if err := d.saveTask(task); err != nil {
		return err
	}
	return d.setActiveCode(code)
}

func (d *FolderBasedDatabase) ClockOutOf(code string) error {
	idx := d.indexOf(code)
	if idx < 0 {
		return fmt.Errorf("task %s not found", code)
	}
	task := &d.taskIndex[idx]
	if err := task.Stop(d.now()); err != nil {
		return err
	}
	if err := d.saveTask(task); err != nil {
		return err
	}
	if d.activeCode == code {
		return d.setActiveCode("")
	}
	return nil
}

func (d *FolderBasedDatabase) Empty() bool {
	return len(d.taskIndex) == 0
}

func (d *FolderBasedDatabase) GenerateDailySummary(t time.Time) Summary {
	return summarize(d.taskIndex, t)
}

func (d *FolderBasedDatabase) GenerateWeeklySummary(t time.Time) WeekSummary {
	return summarizeWeek(d.taskIndex, t, d.now())
}

func (d *FolderBasedDatabase) DeleteTask(code string) error {
	idx := d.indexOf(code)
	if idx < 0 {
		return fmt.Errorf("task %s not found", code)
	}
	if err := os.Remove(d.taskPath(code)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", d.taskPath(code))
	}
	tasks := make([]timesheet.Task, 0, len(d.taskIndex))
	tasks = append(tasks, d.taskIndex[:idx]...)
	d.taskIndex = append(tasks, d.taskIndex[idx+1:]...)
	delete(d.taskCodeIndex, code)
	if d.activeCode == code {
		return d.setActiveCode("")
	}
	return nil
}

func (d *FolderBasedDatabase) DeleteBooking(code, bookingID string) error {
	idx := d.indexOf(code)
	if idx < 0 {
		return fmt.Errorf("task %s not found", code)
	}
	task := d.taskIndex[idx]
	if !task.RemoveBooking(bookingID) {
		return fmt.Errorf("booking %s not found in task %s", bookingID, code)
	}
	if err := d.saveTask(&task); err != nil {
		return err
	}
	d.taskIndex[idx] = task
	if d.activeCode == code && !task.Running() {
		return d.setActiveCode("")
	}
	return nil
}

func (d *FolderBasedDatabase) PendingBookings() ([]TaskBooking, error) {
	return pendingBookings(d.taskIndex), nil
}

func (d *FolderBasedDatabase) SetWorklogID(code, bookingID, worklogID string) error {
	idx := d.indexOf(code)
	if idx < 0 {
		return fmt.Errorf("task %s not found", code)
	}
	task := &d.taskIndex[idx]
	if err := assignWorklogID(task, bookingID, worklogID); err != nil {
		return err
	}
	return d.saveTask(task)
}

func (d *FolderBasedDatabase) AllTasks() ([]timesheet.Task, error) {
	return d.taskIndex, nil
}

func (d *FolderBasedDatabase) FilteredTasks(f string) ([]timesheet.Task, error) {
	if f == "" {
		return d.AllTasks()
	}
	return filterTasks(d.taskIndex, f), nil
}

func (d *FolderBasedDatabase) setActiveCode(code string) error {
	path := filepath.Join(d.rootFolder, ActiveCodeFilename)
	if err := os.MkdirAll(d.rootFolder, 0700); err != nil {
		return err
	}
	d.activeCode = code
	return ioutil.WriteFile(path, []byte(code), 0600)
}
