// Package duration parses and formats durations with day and week units,
// for long settings such as run retention ("30d", "2w", "1d12h").
//
// Anything time.ParseDuration accepts is accepted unchanged. In addition:
//   - d, day, days: 24 hours
//   - w, wk, week, weeks: 7 days
//   - h, m, s and ms may be written as words ("3 hours", "5 seconds")
//
// Whitespace between a number and its unit is optional.
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

var longUnits = map[string]time.Duration{
	"d":     Day,
	"day":   Day,
	"days":  Day,
	"w":     Week,
	"wk":    Week,
	"wks":   Week,
	"week":  Week,
	"weeks": Week,
}

// wordUnits maps spelled-out units onto time.ParseDuration's.
var wordUnits = map[string]string{
	"hour":         "h",
	"hours":        "h",
	"hr":           "h",
	"hrs":          "h",
	"minute":       "m",
	"minutes":      "m",
	"min":          "m",
	"mins":         "m",
	"second":       "s",
	"seconds":      "s",
	"sec":          "s",
	"secs":         "s",
	"millisecond":  "ms",
	"milliseconds": "ms",
}

// Parse parses s. A bare "0" is accepted; any other number needs a unit.
func Parse(s string) (time.Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("duration: empty string")
	}
	if in == "0" {
		return 0, nil
	}

	negative := false
	if rest, ok := strings.CutPrefix(in, "-"); ok {
		negative = true
		in = strings.TrimSpace(rest)
	}

	var total time.Duration
	var std strings.Builder

	for in != "" {
		num := leading(in, func(r rune) bool { return unicode.IsDigit(r) || r == '.' })
		if num == "" {
			return 0, fmt.Errorf("duration: invalid %q", s)
		}
		in = strings.TrimLeft(in[len(num):], " ")

		unit := leading(in, unicode.IsLetter)
		if unit == "" {
			return 0, fmt.Errorf("duration: missing unit in %q", s)
		}
		in = strings.TrimLeft(in[len(unit):], " ")

		if mult, ok := longUnits[unit]; ok {
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("duration: invalid %q: %w", s, err)
			}
			total += time.Duration(v * float64(mult))
			continue
		}
		if short, ok := wordUnits[unit]; ok {
			unit = short
		}
		std.WriteString(num)
		std.WriteString(unit)
	}

	if std.Len() > 0 {
		d, err := time.ParseDuration(std.String())
		if err != nil {
			return 0, fmt.Errorf("duration: %w", err)
		}
		total += d
	}

	if negative {
		total = -total
	}
	return total, nil
}

func leading(s string, f func(rune) bool) string {
	for i, r := range s {
		if !f(r) {
			return s[:i]
		}
	}
	return s
}

// MustParse is like Parse but panics on error.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders d so that Parse reads it back. Whole days are written as
// "Nd" and zero trailing components are dropped: 36h becomes "1d12h".
func Format(d time.Duration) string {
	if d < 0 {
		return "-" + Format(-d)
	}

	days := d / Day
	rest := d - days*Day
	if days == 0 {
		return trimZero(d.String())
	}

	out := strconv.FormatInt(int64(days), 10) + "d"
	if rest > 0 {
		out += trimZero(rest.String())
	}
	return out
}

func trimZero(s string) string {
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
