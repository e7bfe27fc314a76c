package main

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// IPLimiter throttles WebSocket upgrades per client IP.
type IPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry
	rate     rate.Limit
	burst    int
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPLimiter(rps float64) *IPLimiter {
	burst := int(rps) * 2
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

// Serve evicts idle entries until ctx is done.
func (l *IPLimiter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.sweep(now.Add(-limiterIdleAfter))
		}
	}
}

func (l *IPLimiter) String() string { return "ip-limiter" }

func (l *IPLimiter) sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			n++
		}
	}
	return n
}

// newFrameLimiter bounds how many inbound frames one connection may push.
// The burst covers a client replaying its route announce after reconnect.
func newFrameLimiter(fps float64) *rate.Limiter {
	burst := int(fps)
	if burst < 10 {
		burst = 10
	}
	return rate.NewLimiter(rate.Limit(fps), burst)
}
