package azbus

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// The admin api speaks ISO-8601 durations ("PT30S", "P14D",
// "P10675199DT2H48M5.4775807S" for TimeSpan.MaxValue). Only the day and time
// designators are supported; the service never sends years or months.

var ErrBadDuration = errors.New("invalid ISO-8601 duration")

// formatDuration renders d as an ISO-8601 duration, e.g. 90s -> "PT1M30S".
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteString("P")

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d == 0 {
		return b.String()
	}
	b.WriteString("T")

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute

	if hours > 0 {
		fmt.Fprintf(&b, "%dH", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dM", minutes)
	}
	if d > 0 {
		seconds := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
		fmt.Fprintf(&b, "%sS", seconds)
	}
	return b.String()
}

// parseDuration parses an ISO-8601 day/time duration. Values beyond the
// range of time.Duration saturate at math.MaxInt64.
func parseDuration(s string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(s, "P")
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}

	var total time.Duration
	overflow := false
	add := func(n int64, unit time.Duration) {
		if n > 0 && int64(unit) > 0 && n > math.MaxInt64/int64(unit) {
			overflow = true
			return
		}
		v := time.Duration(n) * unit
		if total > math.MaxInt64-v {
			overflow = true
			return
		}
		total += v
	}

	inTime := false
	components := 0
	for rest != "" {
		if rest[0] == 'T' {
			if inTime {
				return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
			}
			inTime = true
			rest = rest[1:]
			continue
		}
		i := strings.IndexAny(rest, "DHMS")
		if i <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
		}
		number, designator := rest[:i], rest[i]
		rest = rest[i+1:]
		components++

		if designator == 'S' {
			if !inTime {
				return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
			}
			whole, frac, _ := strings.Cut(number, ".")
			n, err := strconv.ParseInt(whole, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
			}
			add(n, time.Second)
			if frac != "" {
				if len(frac) > 9 {
					frac = frac[:9]
				}
				ns, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
				if err != nil {
					return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
				}
				add(ns, time.Nanosecond)
			}
			continue
		}

		n, err := strconv.ParseInt(number, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
		}
		switch {
		case designator == 'D' && !inTime:
			add(n, 24*time.Hour)
		case designator == 'H' && inTime:
			add(n, time.Hour)
		case designator == 'M' && inTime:
			add(n, time.Minute)
		default:
			return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
		}
	}
	if components == 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}
	if overflow {
		return math.MaxInt64, nil
	}
	return total, nil
}
