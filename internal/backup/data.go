package backup

import "time"

// Snapshot is an entry of `restic snapshots --json`.
type Snapshot struct {
	RawTime  string   `json:"time"`
	Tree     string   `json:"tree"`
	Paths    []string `json:"paths"`
	Hostname string   `json:"hostname"`
	ID       string   `json:"short_id"`
}

func (s Snapshot) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s.RawTime)
}

// Label renders the snapshot for listings.
func (s Snapshot) Label() string {
	t, err := s.Time()
	if err != nil {
		return s.ID
	}
	return s.ID + " " + t.Local().Format("2006-01-02 15:04:05")
}
