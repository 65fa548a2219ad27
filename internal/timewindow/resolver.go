// Package timewindow resolves user-supplied date/time/timezone strings into a
// validated start/end window normalized to the canonical timezone.
package timewindow

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Reason classifies why a submission was rejected.
type Reason string

const (
	ReasonInvalidDate           Reason = "invalid_date"
	ReasonInvalidTime           Reason = "invalid_time"
	ReasonInvalidTimezone       Reason = "invalid_timezone"
	ReasonEndBeforeOrEqualStart Reason = "end_not_after_start"
	ReasonStartInPast           Reason = "start_in_past"
)

// Rejection is a user-input error. It is surfaced synchronously to the
// submitter and never persisted or retried.
type Rejection struct {
	Reason Reason
	Field  string // offending input field ("date", "start", "end", "timezone")
	Msg    string // actionable, user-facing
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return string(r.Reason) + " (" + r.Field + "): " + r.Msg
	}
	return string(r.Reason) + ": " + r.Msg
}

// Window is a validated request window in the canonical timezone.
type Window struct {
	Start time.Time
	End   time.Time
}

var (
	dateRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	timeRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// Resolver converts raw window input into canonical-zone instants.
// It holds no clock: the caller injects now.
type Resolver struct {
	canonical *time.Location
}

func NewResolver(canonical *time.Location) *Resolver {
	if canonical == nil {
		canonical = time.UTC
	}
	return &Resolver{canonical: canonical}
}

func (r *Resolver) Canonical() *time.Location { return r.canonical }

// Resolve validates and normalizes a window.
//
// The wall-clock values are built in the user's zone first and only then
// converted to the canonical zone; comparing raw wall-clock numbers across
// zones would be wrong. Local times made ambiguous or nonexistent by a DST
// transition resolve to whatever time.Date yields for that zone (known
// limitation; no special detection).
func (r *Resolver) Resolve(dateStr, startStr, endStr, tzStr string, now time.Time) (Window, error) {
	year, month, day, err := parseDate(dateStr)
	if err != nil {
		return Window{}, err
	}

	startHour, startMin, err := parseClock("start", startStr)
	if err != nil {
		return Window{}, err
	}
	endHour, endMin, err := parseClock("end", endStr)
	if err != nil {
		return Window{}, err
	}

	userLoc, err := ResolveZone(tzStr)
	if err != nil {
		return Window{}, err
	}

	start := time.Date(year, time.Month(month), day, startHour, startMin, 0, 0, userLoc).In(r.canonical)
	end := time.Date(year, time.Month(month), day, endHour, endMin, 0, 0, userLoc).In(r.canonical)

	if !end.After(start) {
		return Window{}, &Rejection{
			Reason: ReasonEndBeforeOrEqualStart,
			Field:  "end",
			Msg:    "end time must be after start time",
		}
	}
	if start.Before(now) {
		return Window{}, &Rejection{
			Reason: ReasonStartInPast,
			Field:  "start",
			Msg:    "start time must be in the future",
		}
	}

	return Window{Start: start, End: end}, nil
}

func parseDate(raw string) (year, month, day int, err error) {
	m := dateRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, 0, &Rejection{
			Reason: ReasonInvalidDate,
			Field:  "date",
			Msg:    fmt.Sprintf("invalid date %q, expected YYYY-MM-DD (e.g. 2025-09-05)", raw),
		}
	}
	year, _ = strconv.Atoi(m[1])
	month, _ = strconv.Atoi(m[2])
	day, _ = strconv.Atoi(m[3])

	// The pattern admits impossible dates like 2025-13-01; verify the triple
	// survives time.Date normalization unchanged.
	probe := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if probe.Year() != year || int(probe.Month()) != month || probe.Day() != day {
		return 0, 0, 0, &Rejection{
			Reason: ReasonInvalidDate,
			Field:  "date",
			Msg:    fmt.Sprintf("%q is not a real calendar date", raw),
		}
	}
	return year, month, day, nil
}

func parseClock(field, raw string) (hour, minute int, err error) {
	m := timeRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, &Rejection{
			Reason: ReasonInvalidTime,
			Field:  field,
			Msg:    fmt.Sprintf("invalid %s time %q, expected HH:MM 24h (e.g. 17:40)", field, raw),
		}
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 {
		return 0, 0, &Rejection{
			Reason: ReasonInvalidTime,
			Field:  field,
			Msg:    fmt.Sprintf("invalid hour in %q", raw),
		}
	}
	if minute > 59 {
		return 0, 0, &Rejection{
			Reason: ReasonInvalidTime,
			Field:  field,
			Msg:    fmt.Sprintf("invalid minute in %q", raw),
		}
	}
	return hour, minute, nil
}
