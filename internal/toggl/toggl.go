// Package toggl reads the detailed time entry CSV export of Toggl Track.
package toggl

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Tag is added to every imported entry.
const Tag = "Toggl"

const timeLayout = "2006-01-02 15:04:05"

var columns = []string{"Description", "Start date", "Start time", "End date", "End time", "Tags"}

// Entry is a finished time entry of the export.
type Entry struct {
	Description string
	Start       time.Time
	Stop        time.Time
	Tags        []string
}

// Code is the first word of the description.
func (e Entry) Code() string {
	fields := strings.Fields(e.Description)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Title is the description without its code.
func (e Entry) Title() string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(e.Description), e.Code()))
}

func (e Entry) Duration() time.Duration {
	return e.Stop.Sub(e.Start)
}

func ReadFile(path string, loc *time.Location) ([]Entry, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open Toggl export %s", path)
	}
	defer fp.Close()
	entries, err := Parse(fp, loc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Toggl export %s", path)
	}
	return entries, nil
}

// Parse reads entries from r. The dates of the export carry no offset and
// are interpreted in loc. Columns other than the ones needed are ignored.
func Parse(r io.Reader, loc *time.Location) ([]Entry, error) {
	rdr := csv.NewReader(r)
	header, err := rdr.Read()
	if err == io.EOF {
		return nil, errors.New("the export is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, c := range columns {
		if _, ok := index[c]; !ok {
			return nil, errors.Errorf("the export has no %q column", c)
		}
	}

	var entries []Entry
	for {
		record, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := rdr.FieldPos(0)
		e, err := parseRecord(record, index, loc)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseRecord(record []string, index map[string]int, loc *time.Location) (Entry, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[index[name]])
	}
	e := Entry{Description: field("Description")}
	if e.Code() == "" {
		return e, errors.New("the description is empty")
	}
	start, err := time.ParseInLocation(timeLayout, field("Start date")+" "+field("Start time"), loc)
	if err != nil {
		return e, errors.Wrap(err, "invalid start")
	}
	stop, err := time.ParseInLocation(timeLayout, field("End date")+" "+field("End time"), loc)
	if err != nil {
		return e, errors.Wrap(err, "invalid end")
	}
	if stop.Before(start) {
		return e, errors.Errorf("the entry ends at %s before it starts at %s", stop.Format(timeLayout), start.Format(timeLayout))
	}
	e.Start = start
	e.Stop = stop
	for _, tag := range strings.Split(field("Tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" && tag != Tag {
			e.Tags = append(e.Tags, tag)
		}
	}
	e.Tags = append(e.Tags, Tag)
	return e, nil
}
