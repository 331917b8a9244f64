package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a due date. It accepts a calendar day ("2026-05-01") or a full
// RFC 3339 timestamp, and a day is written back in the short form.
type Date struct {
	time.Time
}

// NewDate returns the calendar day y-m-d in UTC.
func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DayOnly reports whether d carries no time of day.
func (d Date) DayOnly() bool {
	h, m, s := d.Clock()
	return d.Location() == time.UTC && h == 0 && m == 0 && s == 0 && d.Nanosecond() == 0
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.DayOnly() {
		return json.Marshal(d.Format(dateLayout))
	}
	return json.Marshal(d.Format(time.RFC3339Nano))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("due date must be a string: %w", err)
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("due date %q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	d.Time = t
	return nil
}
