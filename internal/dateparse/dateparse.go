// Package dateparse turns the human date bounds accepted by `punch list`
// into concrete instants.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse resolves input relative to time.Now.
func Parse(input string) (time.Time, error) {
	return ParseFrom(input, time.Now())
}

// ParseFrom resolves input relative to now. Date-like inputs resolve to
// local midnight of that day.
//
// Supported formats:
//   - Exact dates: "2026-03-01"
//   - Timestamps: RFC 3339
//   - Durations back from now: "90m", "24h"
//   - Days, weeks, months back: "-3d", "-2w", "-1m"
//   - Day names: "monday" (most recent, today counts)
//   - Keywords: "today", "yesterday", "this-week", "last-week", "this-month"
func ParseFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}
	loc := now.Location()

	if t, err := time.ParseInLocation("2006-01-02", input, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(input)); err == nil {
		return t, nil
	}

	today := midnight(now)
	switch input {
	case "now":
		return now, nil
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "this-week":
		return today.AddDate(0, 0, -daysSinceMonday(now)), nil
	case "last-week":
		return today.AddDate(0, 0, -daysSinceMonday(now)-7), nil
	case "this-month":
		y, m, _ := now.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), nil
	}

	// -Nd, -Nw, -Nm
	if strings.HasPrefix(input, "-") && len(input) >= 3 {
		unit := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			switch unit {
			case 'd':
				return today.AddDate(0, 0, -n), nil
			case 'w':
				return today.AddDate(0, 0, -7*n), nil
			case 'm':
				return today.AddDate(0, -n, 0), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use d, w, or m)", string(unit), input)
			}
		}
	}

	if d, err := time.ParseDuration(input); err == nil && d >= 0 {
		return now.Add(-d), nil
	}

	days := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	if target, ok := days[input]; ok {
		back := (int(now.Weekday()) - int(target) + 7) % 7
		return today.AddDate(0, 0, -back), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", input)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func daysSinceMonday(t time.Time) int {
	return (int(t.Weekday()) - int(time.Monday) + 7) % 7
}
