package models

import (
	"fmt"
	"strconv"
)

const (
	// MinIntervalBars is how many bars must have elapsed before a pair is polled again.
	MinIntervalBars = 2000
	// MaxCooldownSeconds caps the cooldown at one week.
	MaxCooldownSeconds = 60 * 60 * 24 * 7
)

// Interval groups.
const (
	GroupSeconds    = "seconds"
	GroupMinutes    = "minutes"
	GroupDays       = "days"
	GroupMonths     = "months"
	GroupNonSeconds = "non seconds"
	GroupAll        = "all"
)

var (
	secondIntervals = []string{"1S", "5S", "10S", "15S", "30S"}
	minuteIntervals = []string{"1", "3", "5", "15", "30", "60", "120", "240"}
	dayIntervals    = []string{"1D", "1W"}
	monthIntervals  = []string{"1M", "3M", "6M", "12M"}
)

// IntervalList returns a copy of the intervals in the named group.
func IntervalList(group string) ([]string, error) {
	var out []string
	switch group {
	case GroupSeconds:
		out = append(out, secondIntervals...)
	case GroupMinutes:
		out = append(out, minuteIntervals...)
	case GroupDays:
		out = append(out, dayIntervals...)
	case GroupMonths:
		out = append(out, monthIntervals...)
	case GroupNonSeconds:
		out = append(out, minuteIntervals...)
		out = append(out, dayIntervals...)
		out = append(out, monthIntervals...)
	case GroupAll:
		out = append(out, secondIntervals...)
		out = append(out, minuteIntervals...)
		out = append(out, dayIntervals...)
		out = append(out, monthIntervals...)
	default:
		return nil, fmt.Errorf("unknown interval group %q", group)
	}
	return out, nil
}

// IntervalSeconds converts an interval code to seconds.
// S, D, W and M (30 days) are unit suffixes; a bare number is minutes.
func IntervalSeconds(interval string) (int64, error) {
	if interval == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := interval[len(interval)-1]
	count := interval[:len(interval)-1]
	var mult int64
	switch unit {
	case 'S':
		mult = 1
	case 'D':
		mult = 24 * 60 * 60
	case 'W':
		mult = 7 * 24 * 60 * 60
	case 'M':
		mult = 30 * 24 * 60 * 60
	default:
		if unit < '0' || unit > '9' {
			return 0, fmt.Errorf("invalid interval %q", interval)
		}
		mult = 60
		count = interval
	}
	n := int64(1)
	if count != "" {
		v, err := strconv.ParseInt(count, 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid interval %q", interval)
		}
		n = v
	}
	return n * mult, nil
}

// CompareInterval returns seconds(a) - seconds(b).
func CompareInterval(a, b string) (int64, error) {
	sa, err := IntervalSeconds(a)
	if err != nil {
		return 0, err
	}
	sb, err := IntervalSeconds(b)
	if err != nil {
		return 0, err
	}
	return sa - sb, nil
}

// CooldownSeconds is min(interval * MinIntervalBars, MaxCooldownSeconds).
func CooldownSeconds(interval string) (int64, error) {
	s, err := IntervalSeconds(interval)
	if err != nil {
		return 0, err
	}
	return min(s*MinIntervalBars, MaxCooldownSeconds), nil
}

// KindEconomic marks catalog symbols that only carry monthly economic series.
const KindEconomic = "economic"

// IntervalsForSymbol returns the intervals crawled for a symbol of the given kind.
// Economic series need a pro account; seconds intervals are pro-only too.
func IntervalsForSymbol(kind string, isPro bool) []string {
	group := GroupNonSeconds
	switch {
	case kind == KindEconomic && !isPro:
		return nil
	case kind == KindEconomic:
		group = GroupMonths
	case isPro:
		group = GroupSeconds
	}
	out, _ := IntervalList(group)
	return out
}
