// Package strategy implements the delivery channel strategies. Each
// strategy wraps one provider's HTTP API and reports outcomes through
// the NotificationResult contract: transport failures surface as
// transient errors, provider rejections ride inside the result with a
// permanent flag derived from the status code.
package strategy

import (
	"net/http"
	"time"
)

// providerTimeout bounds one provider API call end to end.
const providerTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: providerTimeout}
}

// permanentStatus reports whether a provider status code marks a
// rejection that retrying cannot fix. Request timeouts and throttling
// resolve on their own, so they stay retryable; the remaining 4xx mean
// the request itself is unacceptable.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout &&
		code != http.StatusTooManyRequests
}
