package timewindow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	// Embed the tzdata database so abbreviation lookups work on hosts
	// without a system zoneinfo directory.
	_ "time/tzdata"
)

// zoneAbbrevs is a closed lookup table of accepted timezone abbreviations.
// This is intentionally not a general timezone-name resolver: anything outside
// the table (or the UTC±HH offset form) is a user error.
var zoneAbbrevs = map[string]string{
	"EST":  "America/New_York",
	"EDT":  "America/New_York",
	"CST":  "America/Chicago",
	"CDT":  "America/Chicago",
	"MST":  "America/Denver",
	"MDT":  "America/Denver",
	"PST":  "America/Los_Angeles",
	"PDT":  "America/Los_Angeles",
	"CET":  "Europe/Paris",
	"CEST": "Europe/Paris",
	"ECT":  "Europe/Paris",
	"GMT":  "Europe/London",
	"BST":  "Europe/London",
	"UTC":  "UTC",
}

var utcOffsetRe = regexp.MustCompile(`^UTC([+-])(\d{1,2})$`)

// ResolveZone maps a free-form timezone token to a *time.Location.
// Accepted forms: a table abbreviation (EST, CET, GMT, ...) or a numeric
// offset token UTC±HH (e.g. UTC+1, UTC-5).
func ResolveZone(raw string) (*time.Location, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))

	if name, ok := zoneAbbrevs[token]; ok {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("load zone %s: %w", name, err)
		}
		return loc, nil
	}

	if m := utcOffsetRe.FindStringSubmatch(token); m != nil {
		hours, _ := strconv.Atoi(m[2])
		if hours <= 14 {
			offset := hours * 3600
			if m[1] == "-" {
				offset = -offset
			}
			return time.FixedZone(fmt.Sprintf("UTC%s%d", m[1], hours), offset), nil
		}
	}

	return nil, &Rejection{
		Reason: ReasonInvalidTimezone,
		Field:  "timezone",
		Msg:    fmt.Sprintf("unknown timezone %q, use EST, CET, PST, GMT, UTC+1, UTC-5, ...", raw),
	}
}
