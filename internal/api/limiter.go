package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientIDHeader names the caller explicitly; requests without it are keyed
// by remote IP.
const ClientIDHeader = "X-Client-ID"

// CallerLimiter keeps one token bucket per caller. Entries idle longer than
// the TTL are dropped, on the caller's next request or by Sweep.
type CallerLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	callers map[string]*callerEntry
}

type callerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCallerLimiter allows rps requests per second per caller with the given
// burst. rps <= 0 disables limiting.
func NewCallerLimiter(rps float64, burst int, ttl time.Duration) *CallerLimiter {
	if burst < 1 {
		burst = 1
	}
	return &CallerLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		callers: make(map[string]*callerEntry),
	}
}

// Allow takes a token from caller's bucket.
func (l *CallerLimiter) Allow(caller string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.callers[caller]
	if ok && l.idle(e, now) {
		delete(l.callers, caller)
		ok = false
	}
	if !ok {
		e = &callerEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.callers[caller] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *CallerLimiter) idle(e *callerEntry, now time.Time) bool {
	return l.ttl > 0 && now.Sub(e.lastSeen) > l.ttl
}

// Sweep drops idle callers and returns how many were removed.
func (l *CallerLimiter) Sweep() int {
	if l == nil {
		return 0
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for caller, e := range l.callers {
		if l.idle(e, now) {
			delete(l.callers, caller)
			n++
		}
	}
	return n
}

// Len returns the number of tracked callers.
func (l *CallerLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// callerID identifies the caller of r.
func callerID(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return "client:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
