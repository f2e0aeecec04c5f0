package flowguard

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter interprets a Retry-After header value given either as
// delta-seconds or as an HTTP-date relative to now. Unparseable or past
// values yield zero.
func ParseRetryAfter(val string, now time.Time) time.Duration {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0
		}
		return time.Duration(math.Ceil(secs)) * time.Second
	}

	// http.ParseTime accepts RFC 1123, RFC 850 and ANSI C layouts.
	if t, err := http.ParseTime(val); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
