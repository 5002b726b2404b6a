package database

import (
	"database/sql"
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zerok/timesheet"
	_ "modernc.org/sqlite"
)

const activeCodeKey = "active_code"

// SQLiteDatabase stores tasks and bookings in a single SQLite file. Tags are
// stored comma-separated, which is why validateTask rejects commas in tags.
type SQLiteDatabase struct {
	db         *sqlx.DB
	log        *logrus.Logger
	activeCode string
	now        func() time.Time
}

type taskRow struct {
	Code  string `db:"code"`
	Title string `db:"title"`
	Tags  string `db:"tags"`
}

type bookingRow struct {
	ID        string `db:"id"`
	TaskCode  string `db:"task_code"`
	Position  int    `db:"position"`
	Start     string `db:"start"`
	Stop      string `db:"stop"`
	WorklogID string `db:"worklog_id"`
}

// NewSQLiteDatabase opens (or creates) the database at dbPath and applies
// pending migrations. Use ":memory:" for a throw-away database.
func NewSQLiteDatabase(dbPath string, log *logrus.Logger) (*SQLiteDatabase, error) {
	if log == nil {
		log = logrus.New()
		log.Out = ioutil.Discard
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	// A single connection keeps :memory: databases consistent and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}
	d := &SQLiteDatabase{db: db, log: log, now: time.Now}
	if err := d.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return d, nil
}

func (d *SQLiteDatabase) Close() error {
	return d.db.Close()
}

func (d *SQLiteDatabase) runMigrations() error {
	currentVersion := 0
	var tableCount int
	if err := d.db.Get(&tableCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return err
	}
	if tableCount > 0 {
		if err := d.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return err
		}
	}
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		d.log.Debugf("Applying migration v%d", m.version)
		if _, err := d.db.Exec(m.sql); err != nil {
			return errors.Wrapf(err, "failed to apply migration v%d", m.version)
		}
	}
	return nil
}

func (d *SQLiteDatabase) LoadState() error {
	d.log.Infof("Loading state")
	var code string
	err := d.db.Get(&code, "SELECT value FROM state WHERE key = ?", activeCodeKey)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to read active code")
	}
	d.activeCode = code
	return nil
}

func (d *SQLiteDatabase) ActiveCode() string {
	return d.activeCode
}

func (d *SQLiteDatabase) ActiveTask() (timesheet.Task, bool) {
	if d.activeCode == "" {
		return timesheet.Task{}, false
	}
	return d.TaskByCode(d.activeCode)
}

func (d *SQLiteDatabase) TaskByCode(code string) (timesheet.Task, bool) {
	tasks, err := d.loadTasks(d.db, "WHERE code = ?", code)
	if err != nil {
		d.log.WithError(err).Errorf("Failed to load task %s", code)
		return timesheet.Task{}, false
	}
	if len(tasks) == 0 {
		return timesheet.Task{}, false
	}
	return tasks[0], true
}

func (d *SQLiteDatabase) loadTasks(q sqlx.Queryer, where string, args ...interface{}) ([]timesheet.Task, error) {
	var rows []taskRow
	if err := sqlx.Select(q, &rows, "SELECT code, title, tags FROM tasks "+where+" ORDER BY code", args...); err != nil {
		return nil, errors.Wrap(err, "failed to query tasks")
	}
	var bookings []bookingRow
	if err := sqlx.Select(q, &bookings, "SELECT id, task_code, position, start, stop, worklog_id FROM bookings ORDER BY task_code, position"); err != nil {
		return nil, errors.Wrap(err, "failed to query bookings")
	}
	byTask := make(map[string][]timesheet.Booking)
	for _, b := range bookings {
		byTask[b.TaskCode] = append(byTask[b.TaskCode], timesheet.Booking{
			ID:        b.ID,
			Start:     b.Start,
			Stop:      b.Stop,
			WorklogID: b.WorklogID,
		})
	}
	tasks := make([]timesheet.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, timesheet.Task{
			Code:     r.Code,
			Title:    r.Title,
			Tags:     splitTags(r.Tags),
			Bookings: byTask[r.Code],
		})
	}
	return tasks, nil
}

func (d *SQLiteDatabase) taskExists(q sqlx.Queryer, code string) (bool, error) {
	var n int
	if err := sqlx.Get(q, &n, "SELECT COUNT(*) FROM tasks WHERE code = ?", code); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *SQLiteDatabase) AddTask(t timesheet.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	exists, err := d.taskExists(tx, t.Code)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("the database already contains a task with the code %s", t.Code)
	}
	if _, err := tx.Exec("INSERT INTO tasks (code, title, tags) VALUES (?, ?, ?)", t.Code, t.Title, joinTags(t.Tags)); err != nil {
		return errors.Wrapf(err, "failed to insert task %s", t.Code)
	}
	if err := insertBookings(tx, t.Code, t.Bookings); err != nil {
		return err
	}
	return tx.Commit()
}

func insertBookings(tx *sqlx.Tx, code string, bookings []timesheet.Booking) error {
	for idx, b := range bookings {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		_, err := tx.Exec("INSERT INTO bookings (id, task_code, position, start, stop, worklog_id) VALUES (?, ?, ?, ?, ?, ?)",
			b.ID, code, idx, b.Start, b.Stop, b.WorklogID)
		if err != nil {
			return errors.Wrapf(err, "failed to insert booking %s", b.ID)
		}
	}
	return nil
}

func (d *SQLiteDatabase) UpdateTask(oldCode string, task timesheet.Task) error {
	if err := validateTask(task); err != nil {
		return err
	}
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	exists, err := d.taskExists(tx, oldCode)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task %s not found", oldCode)
	}
	if task.Code != oldCode {
		taken, err := d.taskExists(tx, task.Code)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("the database already contains a task with the code %s", task.Code)
		}
	}
	if _, err := tx.Exec("UPDATE tasks SET code = ?, title = ?, tags = ? WHERE code = ?", task.Code, task.Title, joinTags(task.Tags), oldCode); err != nil {
		return errors.Wrapf(err, "failed to update task %s", oldCode)
	}
	if task.Bookings != nil {
		if _, err := tx.Exec("DELETE FROM bookings WHERE task_code = ?", task.Code); err != nil {
			return err
		}
		if err := insertBookings(tx, task.Code, task.Bookings); err != nil {
			return err
		}
	}
	renamedActive := task.Code != oldCode && d.activeCode == oldCode
	if renamedActive {
		if err := setState(tx, activeCodeKey, task.Code); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if renamedActive {
		d.activeCode = task.Code
	}
	return nil
}

func (d *SQLiteDatabase) ClockInto(code string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	exists, err := d.taskExists(tx, code)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task %s not found", code)
	}
	now := d.now()
	// Only one booking may run at a time.
	if _, err := tx.Exec("UPDATE bookings SET stop = ? WHERE stop = ''", now.Format(time.RFC3339)); err != nil {
		return errors.Wrap(err, "failed to stop running bookings")
	}
	var position int
	if err := tx.Get(&position, "SELECT COALESCE(MAX(position) + 1, 0) FROM bookings WHERE task_code = ?", code); err != nil {
		return err
	}
	b := timesheet.Booking{ID: uuid.NewString()}
	b.SetStart(now)
	if _, err := tx.Exec("INSERT INTO bookings (id, task_code, position, start) VALUES (?, ?, ?, ?)", b.ID, code, position, b.Start); err != nil {
		return errors.Wrapf(err, "failed to start booking for %s", code)
	}
	if err := setState(tx, activeCodeKey, code); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.activeCode = code
	return nil
}

func (d *SQLiteDatabase) ClockOutOf(code string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	exists, err := d.taskExists(tx, code)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task %s not found", code)
	}
	res, err := tx.Exec("UPDATE bookings SET stop = ? WHERE task_code = ? AND stop = ''", d.now().Format(time.RFC3339), code)
	if err != nil {
		return errors.Wrapf(err, "failed to stop booking for %s", code)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s is not running", code)
	}
	clearActive := d.activeCode == code
	if clearActive {
		if err := setState(tx, activeCodeKey, ""); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if clearActive {
		d.activeCode = ""
	}
	return nil
}

func (d *SQLiteDatabase) AllTasks() ([]timesheet.Task, error) {
	return d.loadTasks(d.db, "")
}

func (d *SQLiteDatabase) FilteredTasks(f string) ([]timesheet.Task, error) {
	tasks, err := d.AllTasks()
	if err != nil || f == "" {
		return tasks, err
	}
	return filterTasks(tasks, f), nil
}

func (d *SQLiteDatabase) GenerateDailySummary(t time.Time) Summary {
	tasks, err := d.AllTasks()
	if err != nil {
		d.log.WithError(err).Error("Failed to load tasks for summary")
	}
	return summarize(tasks, t)
}

func (d *SQLiteDatabase) GenerateWeeklySummary(t time.Time) WeekSummary {
	tasks, err := d.AllTasks()
	if err != nil {
		d.log.WithError(err).Error("Failed to load tasks for weekly summary")
	}
	return summarizeWeek(tasks, t, d.now())
}

func (d *SQLiteDatabase) DeleteTask(code string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM bookings WHERE task_code = ?", code); err != nil {
		return errors.Wrapf(err, "failed to delete bookings of %s", code)
	}
	res, err := tx.Exec("DELETE FROM tasks WHERE code = ?", code)
	if err != nil {
		return errors.Wrapf(err, "failed to delete task %s", code)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", code)
	}
	clearActive := d.activeCode == code
	if clearActive {
		if err := setState(tx, activeCodeKey, ""); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if clearActive {
		d.activeCode = ""
	}
	return nil
}

func (d *SQLiteDatabase) DeleteBooking(code, bookingID string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	exists, err := d.taskExists(tx, code)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task %s not found", code)
	}
	res, err := tx.Exec("DELETE FROM bookings WHERE id = ? AND task_code = ?", bookingID, code)
	if err != nil {
		return errors.Wrapf(err, "failed to delete booking %s", bookingID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %s not found in task %s", bookingID, code)
	}
	var running int
	if err := tx.Get(&running, "SELECT COUNT(*) FROM bookings WHERE task_code = ? AND stop = ''", code); err != nil {
		return err
	}
	clearActive := d.activeCode == code && running == 0
	if clearActive {
		if err := setState(tx, activeCodeKey, ""); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if clearActive {
		d.activeCode = ""
	}
	return nil
}

func (d *SQLiteDatabase) PendingBookings() ([]TaskBooking, error) {
	tasks, err := d.AllTasks()
	if err != nil {
		return nil, err
	}
	return pendingBookings(tasks), nil
}

func (d *SQLiteDatabase) SetWorklogID(code, bookingID, worklogID string) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var existing string
	err = tx.Get(&existing, "SELECT worklog_id FROM bookings WHERE id = ? AND task_code = ?", bookingID, code)
	if err == sql.ErrNoRows {
		return fmt.Errorf("booking %s not found in task %s", bookingID, code)
	}
	if err != nil {
		return err
	}
	if existing != "" && existing != worklogID {
		return fmt.Errorf("booking %s of task %s already has worklog %s", bookingID, code, existing)
	}
	if _, err := tx.Exec("UPDATE bookings SET worklog_id = ? WHERE id = ?", worklogID, bookingID); err != nil {
		return errors.Wrapf(err, "failed to record worklog for booking %s", bookingID)
	}
	return tx.Commit()
}

func (d *SQLiteDatabase) Empty() bool {
	var n int
	if err := d.db.Get(&n, "SELECT COUNT(*) FROM tasks"); err != nil {
		d.log.WithError(err).Error("Failed to count tasks")
		return true
	}
	return n == 0
}

func setState(tx *sqlx.Tx, key, value string) error {
	_, err := tx.Exec("INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	return errors.Wrapf(err, "failed to store %s", key)
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
