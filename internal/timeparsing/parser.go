// Package timeparsing turns the time expressions people type on the command
// line into instants and durations.
//
// Parsing is layered, first match wins:
//  1. Go duration (90s, 1h30m)
//  2. Compact duration (+6h, -1d, 2w)
//  3. Natural language (tomorrow at 9am, in 10 minutes)
//  4. Absolute timestamp (RFC3339, 2006-01-02 15:04, 2006-01-02)
package timeparsing

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrUnparseable is returned when no layer understands the input.
var ErrUnparseable = errors.New("unrecognized time expression")

var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

var nlp = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseCompactDuration applies [+-]N{h,d,w,m,y} to now. No sign means
// forward; m is months.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	m := compactDurationRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", m[2])
	}
	if m[1] == "-" {
		amount = -amount
	}
	switch m[3] {
	case "h":
		return now.Add(time.Duration(amount) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, amount), nil
	case "w":
		return now.AddDate(0, 0, 7*amount), nil
	case "m":
		return now.AddDate(0, amount, 0), nil
	default: // y
		return now.AddDate(amount, 0, 0), nil
	}
}

// IsCompactDuration reports whether s uses compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

// ParseNaturalLanguage resolves English expressions relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := nlp.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	return r.Time, nil
}

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime resolves s to an instant using every layer in order.
func ParseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparseable)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	return ParseNaturalLanguage(s, now)
}

// ParseTTL resolves s to a positive duration from now, so "10m", "+2h" and
// "tomorrow at 9am" all work as lock lifetimes.
func ParseTTL(s string, now time.Time) (time.Duration, error) {
	t, err := ParseTime(s, now)
	if err != nil {
		return 0, err
	}
	d := t.Sub(now)
	if d <= 0 {
		return 0, fmt.Errorf("%q is not in the future", s)
	}
	return d, nil
}

// ParseSince resolves a lookback such as "2h", "-1d" or "yesterday" to the
// instant it names. Bare durations count backwards.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	if IsCompactDuration(s) && !strings.HasPrefix(s, "-") {
		s = "-" + strings.TrimPrefix(s, "+")
	}
	return ParseTime(s, now)
}
