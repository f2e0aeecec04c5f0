package flowguard

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time copy of the counters kept for one endpoint key.
type Stats struct {
	Key               string
	TotalRequests     int64
	ThrottledRequests int64
	CumulativeWait    time.Duration
}

// ThrottleRate is the share of requests that were refused at least once.
func (s Stats) ThrottleRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.ThrottledRequests) / float64(s.TotalRequests)
}

// AvgWait is the mean time spent waiting per request.
func (s Stats) AvgWait() time.Duration {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.CumulativeWait / time.Duration(s.TotalRequests)
}

type counters struct {
	total     atomic.Int64
	throttled atomic.Int64
	waitNanos atomic.Int64
}

func (c *counters) addWait(d time.Duration) {
	if d > 0 {
		c.waitNanos.Add(int64(d))
	}
}

func (c *counters) snapshot(key string) Stats {
	return Stats{
		Key:               key,
		TotalRequests:     c.total.Load(),
		ThrottledRequests: c.throttled.Load(),
		CumulativeWait:    time.Duration(c.waitNanos.Load()),
	}
}

func (c *counters) reset() {
	c.total.Store(0)
	c.throttled.Store(0)
	c.waitNanos.Store(0)
}
