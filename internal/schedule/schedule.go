// Package schedule evaluates campaign run windows in a single fixed civil
// timezone. All computation happens in the schedule's zone; callers pass
// instants in any zone and conversion is explicit at this boundary.
package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DateBlock blocks dispatch on either an exact date ("2006-01-02") or a
// recurring weekday. Exact-date blocks take precedence over weekday rules.
type DateBlock struct {
	Date    string        `json:"date,omitempty"`
	Weekday *time.Weekday `json:"weekday,omitempty"`
}

// Schedule is a recurring time-of-day run window with weekday recurrence
// and blocked dates.
type Schedule struct {
	StartTime    string         `json:"start_time"` // "HH:MM"
	EndTime      string         `json:"end_time"`   // "HH:MM", zero = open-ended
	Weekdays     []time.Weekday `json:"weekdays"`   // empty = every day
	BlockedDates []DateBlock    `json:"blocked_dates,omitempty"`
}

// Value / Scan store the schedule as a JSON column.
func (s Schedule) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Schedule) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		return nil
	default:
		return fmt.Errorf("schedule: cannot scan %T", src)
	}
}

// Validate checks the HH:MM fields parse and the window is ordered.
func (s Schedule) Validate() error {
	start, err := parseClock(s.StartTime)
	if err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if s.EndTime != "" {
		end, err := parseClock(s.EndTime)
		if err != nil {
			return fmt.Errorf("end_time: %w", err)
		}
		if !end.After(start) {
			return fmt.Errorf("end_time %q not after start_time %q", s.EndTime, s.StartTime)
		}
	}
	return nil
}

// Blocked reports whether the given instant's date is blocked, converting
// into loc first. An exact-date block always wins over weekday recurrence
// for the same date.
func (s Schedule) Blocked(at time.Time, loc *time.Location) bool {
	local := at.In(loc)
	day := local.Format("2006-01-02")
	for _, b := range s.BlockedDates {
		if b.Date != "" && b.Date == day {
			return true
		}
	}
	for _, b := range s.BlockedDates {
		if b.Date == "" && b.Weekday != nil && *b.Weekday == local.Weekday() {
			return true
		}
	}
	return false
}

// IsDue reports whether the campaign should fire at the given instant.
// The start edge is widened by tolerance to absorb tick jitter; blocked
// dates veto an otherwise-due window.
func (s Schedule) IsDue(at time.Time, loc *time.Location, tolerance time.Duration) bool {
	local := at.In(loc)

	if s.Blocked(at, loc) {
		return false
	}
	if len(s.Weekdays) > 0 && !containsWeekday(s.Weekdays, local.Weekday()) {
		return false
	}

	start, err := parseClock(s.StartTime)
	if err != nil {
		return false
	}
	windowStart := start.at(local).Add(-tolerance)
	if local.Before(windowStart) {
		return false
	}

	if s.EndTime != "" {
		end, err := parseClock(s.EndTime)
		if err != nil {
			return false
		}
		if local.After(end.at(local)) {
			return false
		}
	}
	return true
}

// WindowStart returns the canonical UTC instant of the window start on the
// given day. It is the dedup key for once-per-window dispatch: two ticks in
// the same window map to the same instant.
func (s Schedule) WindowStart(at time.Time, loc *time.Location) time.Time {
	local := at.In(loc)
	start, err := parseClock(s.StartTime)
	if err != nil {
		y, m, d := local.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
	}
	return start.at(local).UTC()
}

type clock struct {
	hour, min int
}

// After reports whether c is later in the day than o.
func (c clock) After(o clock) bool {
	return c.hour > o.hour || (c.hour == o.hour && c.min > o.min)
}

// at anchors the clock time on ref's date in ref's location.
func (c clock) at(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, c.hour, c.min, 0, 0, ref.Location())
}

func parseClock(hhmm string) (clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return clock{}, fmt.Errorf("bad clock %q: %w", hhmm, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return clock{}, fmt.Errorf("bad clock %q", hhmm)
	}
	return clock{hour: h, min: m}, nil
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

// LoadLocation resolves the configured civil timezone, defaulting to
// America/Sao_Paulo when unset.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = "America/Sao_Paulo"
	}
	return time.LoadLocation(name)
}
