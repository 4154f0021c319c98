package network

import "sync"

// ipLimiter caps concurrent room connections per remote IP.
type ipLimiter struct {
	mu         sync.Mutex
	maxConns   int
	connCounts map[string]int
}

func newIPLimiter(maxConns int) *ipLimiter {
	return &ipLimiter{
		maxConns:   maxConns,
		connCounts: make(map[string]int),
	}
}

func (l *ipLimiter) acquireConn(ip string) bool {
	if l.maxConns <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[ip] >= l.maxConns {
		return false
	}
	l.connCounts[ip]++
	return true
}

func (l *ipLimiter) releaseConn(ip string) {
	if l.maxConns <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[ip] <= 1 {
		delete(l.connCounts, ip)
		return
	}
	l.connCounts[ip]--
}
