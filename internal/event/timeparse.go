package event

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// timezones maps the supported timezone tags to IANA zone names.
// DST offsets come from the zone database, not fixed offsets.
var timezones = map[string]string{
	"ET": "America/New_York",
	"CT": "America/Chicago",
	"PT": "America/Los_Angeles",
}

// TimezoneTags lists the supported timezone tags
func TimezoneTags() []string {
	return []string{"ET", "CT", "PT"}
}

// ParseEventTime combines a date string (YYYY-MM-DD), a time string
// (HH:MM, 24h) and a timezone tag into a UTC instant.
func ParseEventTime(dateStr, timeStr, tz string) (time.Time, error) {
	zoneName, ok := timezones[tz]
	if !ok {
		return time.Time{}, &ValidationError{
			Field:  "timezone",
			Reason: fmt.Sprintf("unknown timezone %q, supported: ET, CT, PT", tz),
		}
	}

	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %s: %w", zoneName, err)
	}

	if _, err := time.Parse(dateLayout, dateStr); err != nil {
		return time.Time{}, &ValidationError{
			Field:  "date",
			Reason: fmt.Sprintf("%q does not match YYYY-MM-DD", dateStr),
		}
	}
	if _, err := time.Parse(timeLayout, timeStr); err != nil {
		return time.Time{}, &ValidationError{
			Field:  "time",
			Reason: fmt.Sprintf("%q does not match HH:MM (24h)", timeStr),
		}
	}

	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, dateStr+" "+timeStr, loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: err.Error()}
	}

	return t.UTC(), nil
}

// FormatInZones renders a UTC instant in every supported timezone,
// for display in announcements and notifications.
func FormatInZones(t time.Time) string {
	out := ""
	for i, tag := range TimezoneTags() {
		loc, err := time.LoadLocation(timezones[tag])
		if err != nil {
			continue
		}
		if i > 0 {
			out += " / "
		}
		out += t.In(loc).Format("Mon Jan 2, 3:04 PM") + " " + tag
	}
	return out
}
