// Package format provides human-readable formatting for sizes, rates,
// bitrates and latencies.
package format

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Bytes formats a byte count with binary units.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), [...]string{"KB", "MB", "GB", "TB", "PB"}[exp])
}

// Number formats an integer with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Bitrate formats a kbit/s value, switching to Mbit/s from 10,000.
// Example: Bitrate(4500) => "4,500 kbps", Bitrate(12000) => "12.0 Mbps"
func Bitrate(kbps int) string {
	if kbps >= 10_000 {
		return fmt.Sprintf("%.1f Mbps", float64(kbps)/1000)
	}
	return printer.Sprintf("%d kbps", kbps)
}

// Millis formats a duration in milliseconds with one decimal.
// Example: Millis(512345 * time.Microsecond) => "512.3 ms"
func Millis(d time.Duration) string {
	return printer.Sprintf("%.1f ms", float64(d)/float64(time.Millisecond))
}

// Percentage formats a percentage value.
// Example: Percentage(45.678, 1) => "45.7%"
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// Change formats the relative change from a to b as a signed percentage.
// Example: Change(200, 150) => "-25.0%"
func Change(a, b float64) string {
	if a == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f%%", (b-a)/a*100)
}

// Duration rounds d for display.
// Example: Duration(90*time.Second + 400*time.Millisecond) => "1m30s"
func Duration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// RelativeTime formats t relative to now.
// Example: RelativeTime(now.Add(-5*time.Minute), now) => "5 minutes ago"
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return "in the future"
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour") + " ago"
	default:
		return plural(int(d.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
