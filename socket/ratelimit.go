// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"net/netip"
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiterEntries caps the per-IP limiter table. When the table is
// full, the whole table is discarded rather than evicted piecemeal: a
// brief amnesty beats unbounded growth under address-spoofing load.
const maxLimiterEntries = 65536

// ipLimiter applies a token bucket per remote address to the
// authentication path.
type ipLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[netip.Addr]*rate.Limiter
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		limiters:  make(map[netip.Addr]*rate.Limiter),
	}
}

// allow reports whether a connection attempt from addr may proceed.
// Invalid addresses share one bucket: an unparseable peer address is
// not a way around the limit.
func (l *ipLimiter) allow(addr netip.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= maxLimiterEntries {
		l.limiters = make(map[netip.Addr]*rate.Limiter)
	}
	limiter, ok := l.limiters[addr]
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
		l.limiters[addr] = limiter
	}
	return limiter.Allow()
}
