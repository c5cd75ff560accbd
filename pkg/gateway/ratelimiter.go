package gateway

import (
	"sync"
	"time"
)

// Default per-client limits
const (
	DefaultRequestsPerMinute = 120
	DefaultMaxConcurrent     = 16
)

const (
	reasonRateLimited   = "rate limit exceeded"
	reasonTooConcurrent = "too many concurrent requests"
)

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a rate limiter with the given limits. A
// non-positive limit falls back to its default.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Acquire admits one request if the client is under both limits. On
// success the caller must call Release when the request completes; on
// failure the reason is returned.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests >= r.maxConcurrent {
		return false, reasonTooConcurrent
	}

	r.prune()
	if len(r.requests) >= r.requestsPerMinute {
		return false, reasonRateLimited
	}

	r.requests = append(r.requests, r.now())
	r.concurrentRequests++
	return true, ""
}

// Release records the end of a request admitted by Acquire
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	return len(r.requests), r.concurrentRequests
}

// prune drops requests older than one minute. Caller holds r.mu.
func (r *ClientRateLimiter) prune() {
	cutoff := r.now().Add(-time.Minute)
	kept := r.requests[:0]
	for _, reqTime := range r.requests {
		if reqTime.After(cutoff) {
			kept = append(kept, reqTime)
		}
	}
	r.requests = kept
}

// rejectionCode maps a limiter reason to its JSON-RPC error code
func rejectionCode(reason string) int {
	if reason == reasonTooConcurrent {
		return TooManyConcurrent
	}
	return RateLimitExceeded
}

// HostRateLimiters hands out one ClientRateLimiter per remote host, for
// stateless HTTP requests.
type HostRateLimiters struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	limiters          map[string]*ClientRateLimiter
}

// NewHostRateLimiters creates an empty limiter set with per-host limits
func NewHostRateLimiters(requestsPerMinute, maxConcurrent int) *HostRateLimiters {
	return &HostRateLimiters{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		limiters:          make(map[string]*ClientRateLimiter),
	}
}

// For returns the limiter of host, creating it on first use
func (h *HostRateLimiters) For(host string) *ClientRateLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	limiter, ok := h.limiters[host]
	if !ok {
		limiter = NewClientRateLimiter(h.requestsPerMinute, h.maxConcurrent)
		h.limiters[host] = limiter
	}
	return limiter
}
