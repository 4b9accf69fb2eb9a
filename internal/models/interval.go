package models

import "time"

// Interval is a bar timeframe identifier ("1s" .. "1M").
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval10s Interval = "10s"
	Interval30s Interval = "30s"
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// ValidIntervals returns the intervals bars are aggregated for, shortest first.
func ValidIntervals() []Interval {
	return []Interval{
		"1s", "10s", "30s",
		"1m", "5m", "15m", "30m",
		"1h", "4h",
		"1d", "1w", "1M",
	}
}

// ParseInterval validates a client-supplied interval string.
func ParseInterval(s string) (Interval, bool) {
	for _, iv := range ValidIntervals() {
		if string(iv) == s {
			return iv, true
		}
	}
	return "", false
}

// Duration returns the nominal length of one bucket. For "1M" this is an
// approximation (30 days); Normalize is the authority on bucket boundaries.
func (i Interval) Duration() time.Duration {
	switch i {
	case "1s":
		return 1 * time.Second
	case "10s":
		return 10 * time.Second
	case "30s":
		return 30 * time.Second
	case "1m":
		return 1 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return 1 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 168 * time.Hour
	case "1M":
		return 720 * time.Hour
	default:
		return 1 * time.Minute
	}
}

// Normalize floors t to the open time of the bucket containing it.
// Sub-day intervals truncate on clock boundaries, "1w" aligns to Monday 00:00
// and "1M" to the first of the month, so calendar months keep exactly one bar.
func (i Interval) Normalize(t time.Time) time.Time {
	switch i {
	case "1s":
		return t.Truncate(time.Second)
	case "10s":
		s := (t.Second() / 10) * 10
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), s, 0, t.Location())
	case "30s":
		s := (t.Second() / 30) * 30
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), s, 0, t.Location())
	case "1m":
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	case "5m":
		m := (t.Minute() / 5) * 5
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, t.Location())
	case "15m":
		m := (t.Minute() / 15) * 15
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, t.Location())
	case "30m":
		m := (t.Minute() / 30) * 30
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, t.Location())
	case "1h":
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case "4h":
		h := (t.Hour() / 4) * 4
		return time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, t.Location())
	case "1d":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case "1w":
		// Align to Monday 00:00
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()-(weekday-1), 0, 0, 0, 0, t.Location())
	case "1M":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return t.Truncate(time.Minute)
	}
}

// NextBucket returns the open time of the bucket after the one opening at
// bucketStart. Correct across month lengths, unlike adding Duration.
func (i Interval) NextBucket(bucketStart time.Time) time.Time {
	if i == "1M" {
		return bucketStart.AddDate(0, 1, 0)
	}
	return bucketStart.Add(i.Duration())
}
