package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// StatusClass maps an HTTP status from a provider call to a coarse failure
// class used as a metrics label. Status 0 means the request never got a
// response.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "network"
	case code == 429:
		return "rate_limited"
	case code == 401 || code == 403:
		return "auth"
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	default:
		return "none"
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
