package internal

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DateTimeLayout is the wire format of a DateTime: a wall clock reading with no zone.
const DateTimeLayout = "2006-01-02T15:04:05"

// DateTime is a naive local date and time, as printed on a playbill.
// The embedded time is always in UTC and carries no zone meaning.
type DateTime struct {
	time.Time
}

// Date returns the DateTime for the given wall clock reading.
func Date(year int, month time.Month, day, hour, minute int) DateTime {
	return DateTime{time.Date(year, month, day, hour, minute, 0, 0, time.UTC)}
}

// ValidDate is like Date but rejects readings that do not exist on the calendar
// (e.g. 31 February or 25:00) instead of normalizing them.
func ValidDate(year int, month time.Month, day, hour, minute int) (DateTime, bool) {
	if month < time.January || month > time.December {
		return DateTime{}, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || day < 1 {
		return DateTime{}, false
	}
	d := Date(year, month, day, hour, minute)
	if d.Year() != year || d.Month() != month || d.Day() != day {
		return DateTime{}, false
	}
	return d, true
}

// ParseDateTime parses the DateTimeLayout form.
func ParseDateTime(s string) (DateTime, error) {
	t, err := time.ParseInLocation(DateTimeLayout, s, time.UTC)
	if err != nil {
		return DateTime{}, err
	}
	return DateTime{t}, nil
}

func (d DateTime) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(DateTimeLayout)
}

func (d DateTime) Compare(o DateTime) int {
	return d.Time.Compare(o.Time)
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = DateTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date-time: %w", err)
	}
	parsed, err := ParseDateTime(s)
	if err != nil {
		return fmt.Errorf("date-time %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// RawEvent is one scraped performance from one source, before grouping.
type RawEvent struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Theatre       string   `json:"theatre"`
	Date          DateTime `json:"date"`
	Genre         string   `json:"genre"`
	Images        []string `json:"images"`
	BuyURL        string   `json:"buyUrl,omitempty"`
	URL           string   `json:"url,omitempty"`
	PerformanceID string   `json:"performanceId,omitempty"`
}

// Show is a logical performance at a theatre with all of its upcoming sessions.
type Show struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Theatre       string    `json:"theatre"`
	Genre         string    `json:"genre"`
	Images        []string  `json:"images"`
	Description   *string   `json:"description"`
	PerformanceID *string   `json:"performanceId"`
	Date          DateTime  `json:"date"`
	Sessions      []Session `json:"sessions"`
}

// Session is one dated instance of a Show.
type Session struct {
	ID     string   `json:"id"`
	Date   DateTime `json:"date"`
	BuyURL *string  `json:"buyUrl"`
}

// BuyURLs returns the non-empty purchase links of the show's sessions, in session order.
func (s Show) BuyURLs() []string {
	var out []string
	for _, sess := range s.Sessions {
		if sess.BuyURL != nil && *sess.BuyURL != "" {
			out = append(out, *sess.BuyURL)
		}
	}
	return out
}

// Clone returns a deep copy so callers may mutate the result without touching cached data.
func (s Show) Clone() Show {
	out := s
	out.Images = append([]string(nil), s.Images...)
	out.Sessions = append([]Session(nil), s.Sessions...)
	if s.Description != nil {
		out.Description = ptr(*s.Description)
	}
	if s.PerformanceID != nil {
		out.PerformanceID = ptr(*s.PerformanceID)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
