package webhook

import (
	"sync"
	"time"
)

// rateLimitWindowMs is the sliding window over which per-IP request
// counts apply.
const rateLimitWindowMs = 60_000

// RateLimiter bounds trigger requests per client IP over a sliding
// one-minute window. State for idle IPs is swept periodically.
type RateLimiter struct {
	limits            map[string]*RateLimitState
	maxRequestsPerMin int
	mu                sync.RWMutex
	cleanupInterval   time.Duration
	stopCleanup       chan struct{}
	cleanupRunning    bool
}

// NewRateLimiter creates a limiter allowing maxRequestsPerMinute per IP.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:            make(map[string]*RateLimitState),
		maxRequestsPerMin: maxRequestsPerMinute,
		cleanupInterval:   5 * time.Minute,
		stopCleanup:       make(chan struct{}),
	}
	go rl.startCleanup()

	return rl
}

// CheckLimit records a request from ip and reports whether it is within
// the limit.
func (rl *RateLimiter) CheckLimit(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	state, exists := rl.limits[ip]
	if !exists {
		state = &RateLimitState{
			Requests:    make([]int64, 0),
			WindowStart: now,
		}
		rl.limits[ip] = state
	}
	state.Requests = pruneWindow(state.Requests, now)

	if len(state.Requests) >= rl.maxRequestsPerMin {
		return false
	}

	state.Requests = append(state.Requests, now)
	return true
}

// GetRetryAfter returns the seconds until a blocked IP's oldest request
// leaves the window, rounded up.
func (rl *RateLimiter) GetRetryAfter(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	state, exists := rl.limits[ip]
	if !exists || len(state.Requests) == 0 {
		return 0
	}

	now := time.Now().UnixMilli()
	retryAfterMs := rateLimitWindowMs - (now - state.Requests[0])
	if retryAfterMs < 0 {
		return 0
	}
	return int((retryAfterMs + 999) / 1000)
}

func pruneWindow(requests []int64, now int64) []int64 {
	valid := make([]int64, 0, len(requests))
	for _, reqTime := range requests {
		if now-reqTime < rateLimitWindowMs {
			valid = append(valid, reqTime)
		}
	}
	return valid
}

func (rl *RateLimiter) startCleanup() {
	rl.mu.Lock()
	if rl.cleanupRunning {
		rl.mu.Unlock()
		return
	}
	rl.cleanupRunning = true
	rl.mu.Unlock()

	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops IPs with no requests left in the window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	for ip, state := range rl.limits {
		valid := pruneWindow(state.Requests, now)
		if len(valid) == 0 {
			delete(rl.limits, ip)
		} else {
			state.Requests = valid
		}
	}
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}
