package util

import (
	"math"
	"strconv"
	"time"
)

// UnixFloat converts fractional unix seconds to a UTC time.
func UnixFloat(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// FormatUnix renders unix seconds as RFC3339, or the raw number when it is not finite.
func FormatUnix(ts float64) string {
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return strconv.FormatFloat(ts, 'f', -1, 64)
	}
	return UnixFloat(ts).Format(time.RFC3339)
}
