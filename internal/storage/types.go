package storage

import (
	"errors"
	"strconv"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Location renders ledger times; nil means time.Local.
	Location *time.Location
}

// LedgerEntry is one delivered event.
type LedgerEntry struct {
	Timestamp float64 // server creation time, Unix seconds
	Content   string
	Source    string
	EventID   string
}

// HumanTime renders the entry time in ctime form ("Mon Jan  2 15:04:05 2006").
func (e LedgerEntry) HumanTime(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	sec := int64(e.Timestamp)
	return time.Unix(sec, 0).In(loc).Format(time.ANSIC)
}

// Line renders the entry as one ledger line:
// "<timestamp> <ctime>: <content>" plus " [<source>]" when there is a source.
func (e LedgerEntry) Line(loc *time.Location) string {
	s := formatTimestamp(e.Timestamp) + " " + e.HumanTime(loc) + ": " + e.Content
	if e.Source != "" {
		s += " [" + e.Source + "]"
	}
	return s
}

func formatTimestamp(ts float64) string { return strconv.FormatFloat(ts, 'f', -1, 64) }
