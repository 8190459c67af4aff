package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// dayCodes is indexed by time.Weekday.
var dayCodes = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

var clockPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// ClockTime is a wall-clock time of day at minute resolution.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Minutes returns the number of minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// TimeWindow is a parsed schedule rule such as "MON-FRI 09:00-17:00 Asia/Tokyo".
type TimeWindow struct {
	Days     []time.Weekday `json:"days"`
	Start    ClockTime      `json:"start_time"`
	End      ClockTime      `json:"end_time"`
	Timezone string         `json:"timezone"`
	Always   bool           `json:"always,omitempty"`
}

// WindowError reports a malformed window expression.
type WindowError struct {
	Expr   string
	Reason string
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("invalid time window %q: %s", e.Expr, e.Reason)
}

// ParseWindow parses a window expression of the form "DAYS START-END TIMEZONE".
// DAYS is a weekday code, a comma list, a range that may wrap around the week
// (FRI-MON), or "always". The bare expression "always" is open at all times.
func ParseWindow(expr string) (TimeWindow, error) {
	fields := strings.Fields(expr)
	if len(fields) == 1 && strings.EqualFold(fields[0], "always") {
		return TimeWindow{
			Days:     allDays(),
			Start:    ClockTime{},
			End:      ClockTime{Hour: 23, Minute: 59},
			Timezone: "UTC",
			Always:   true,
		}, nil
	}
	if len(fields) != 3 {
		return TimeWindow{}, &WindowError{Expr: expr, Reason: "expected DAYS START-END TIMEZONE"}
	}

	days, err := parseDays(fields[0])
	if err != nil {
		return TimeWindow{}, &WindowError{Expr: expr, Reason: err.Error()}
	}

	bounds := strings.Split(fields[1], "-")
	if len(bounds) != 2 {
		return TimeWindow{}, &WindowError{Expr: expr, Reason: fmt.Sprintf("malformed time range %q", fields[1])}
	}
	start, err := parseClock(bounds[0])
	if err != nil {
		return TimeWindow{}, &WindowError{Expr: expr, Reason: err.Error()}
	}
	end, err := parseClock(bounds[1])
	if err != nil {
		return TimeWindow{}, &WindowError{Expr: expr, Reason: err.Error()}
	}

	tz := fields[2]
	if tz == "Local" {
		return TimeWindow{}, &WindowError{Expr: expr, Reason: "timezone must be explicit"}
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return TimeWindow{}, &WindowError{Expr: expr, Reason: fmt.Sprintf("unknown timezone %q", tz)}
	}

	return TimeWindow{Days: days, Start: start, End: end, Timezone: tz}, nil
}

// Contains reports whether t falls inside the window. Both bounds are
// inclusive. When the start is later than the end the window runs overnight
// and times after midnight belong to the window opened on the previous day.
func (w TimeWindow) Contains(t time.Time) bool {
	if w.Always {
		return true
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return false
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()
	today := local.Weekday()
	start, end := w.Start.Minutes(), w.End.Minutes()

	if start <= end {
		return w.hasDay(today) && start <= minute && minute <= end
	}
	yesterday := (today + 6) % 7
	return (w.hasDay(today) && minute >= start) || (w.hasDay(yesterday) && minute <= end)
}

// String renders the window in canonical form.
func (w TimeWindow) String() string {
	if w.Always {
		return "always"
	}
	codes := make([]string, len(w.Days))
	for i, d := range w.Days {
		codes[i] = dayCodes[d]
	}
	return fmt.Sprintf("%s %s-%s %s", strings.Join(codes, ","), w.Start, w.End, w.Timezone)
}

func (w TimeWindow) hasDay(d time.Weekday) bool {
	for _, day := range w.Days {
		if day == d {
			return true
		}
	}
	return false
}

// WithinWindow is the single window check used by every call site. An empty
// expression means no restriction; a malformed one returns false with the
// parse error so callers fail closed.
func WithinWindow(expr string, now time.Time) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	w, err := ParseWindow(expr)
	if err != nil {
		return false, err
	}
	return w.Contains(now), nil
}

func parseDays(field string) ([]time.Weekday, error) {
	field = strings.ToUpper(field)
	if field == "ALWAYS" {
		return allDays(), nil
	}

	seen := make(map[time.Weekday]bool)
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return nil, fmt.Errorf("empty day in %q", field)
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			a, err := dayIndex(from)
			if err != nil {
				return nil, err
			}
			b, err := dayIndex(to)
			if err != nil {
				return nil, err
			}
			for d := a; ; d = (d + 1) % 7 {
				seen[d] = true
				if d == b {
					break
				}
			}
			continue
		}
		d, err := dayIndex(part)
		if err != nil {
			return nil, err
		}
		seen[d] = true
	}

	days := make([]time.Weekday, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

func dayIndex(code string) (time.Weekday, error) {
	for i, c := range dayCodes {
		if c == code {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown day %q", code)
}

func parseClock(raw string) (ClockTime, error) {
	m := clockPattern.FindStringSubmatch(raw)
	if m == nil {
		return ClockTime{}, fmt.Errorf("malformed time %q", raw)
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return ClockTime{Hour: h, Minute: minute}, nil
}

func allDays() []time.Weekday {
	days := make([]time.Weekday, 7)
	for i := range days {
		days[i] = time.Weekday(i)
	}
	return days
}
