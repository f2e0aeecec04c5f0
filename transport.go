package flowguard

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Transport returns an http.RoundTripper that waits for admission before
// forwarding each request to base. Responses are fed back into the key's
// strategy: 429 and 503 report throttling with the server's Retry-After,
// 2xx reports success. If base is nil, http.DefaultTransport is used.
func (m *Manager) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{manager: m, base: base}
}

type transport struct {
	manager *Manager
	base    http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := t.manager.keyFunc(req)
	if err := t.manager.Wait(req.Context(), key, 1); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"), t.manager.clock())
		t.manager.logger.Debug("remote side throttled request",
			zap.String("key", key),
			zap.Int("status", resp.StatusCode),
			zap.Duration("retry_after", retryAfter),
		)
		t.manager.ReportThrottled(key, retryAfter)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		t.manager.ReportSuccess(key)
	}
	return resp, nil
}

// ResponseError classifies a response for retry decisions. 429 and 503
// become a *ThrottledError carrying the Retry-After, other 5xx statuses are
// marked transient, everything else yields nil.
func ResponseError(resp *http.Response) error {
	if resp == nil {
		return nil
	}
	key := requestKey(resp.Request)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &ThrottledError{
			Key:        key,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode >= 500:
		return MarkTransient(&StatusError{Key: key, StatusCode: resp.StatusCode})
	}
	return nil
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Key        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("flowguard: %s responded %d %s", e.Key, e.StatusCode, http.StatusText(e.StatusCode))
}
