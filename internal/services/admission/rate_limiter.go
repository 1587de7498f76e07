package admission

import (
	"sync"
	"time"
)

const (
	windowDuration = time.Minute
	windowSegments = 4
)

// slidingWindowLimiter counts requests per IP over a one-minute window
// partitioned into fixed segments. The effective count interpolates the
// oldest segment by its remaining overlap with the window, which smooths
// the boundary burst a plain fixed window allows.
type slidingWindowLimiter struct {
	limit     int
	mu        sync.Mutex
	counters  map[string]*ipWindow
	lastSweep time.Time
}

type ipWindow struct {
	segments   [windowSegments]int
	currentSeg int64
}

func newSlidingWindowLimiter(limit int) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		limit:    limit,
		counters: make(map[string]*ipWindow),
	}
}

// Allow records a request for ip at now and reports whether it fits the
// limit. When rejected it returns the seconds until the oldest segment
// rolls out of the window.
func (l *slidingWindowLimiter) Allow(ip string, now time.Time) (retryAfterSeconds int, allowed bool) {
	if l.limit <= 0 {
		return 0, true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	segLen := windowDuration / windowSegments
	seg := now.UnixNano() / int64(segLen)
	l.sweep(seg, now)

	w, ok := l.counters[ip]
	if !ok {
		w = &ipWindow{currentSeg: seg}
		l.counters[ip] = w
	}
	w.advance(seg)

	total := 0
	for _, c := range w.segments {
		total += c
	}
	if total >= l.limit {
		elapsedInSeg := now.UnixNano() % int64(segLen)
		retryAfter := int((int64(segLen) - elapsedInSeg) / int64(time.Second))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return retryAfter, false
	}

	w.segments[int(seg)%windowSegments]++
	return 0, true
}

// sweep drops windows whose every segment has aged out, so the map does
// not grow one entry per distinct IP forever. Runs at most once per
// window. Caller holds the mutex.
func (l *slidingWindowLimiter) sweep(seg int64, now time.Time) {
	if now.Sub(l.lastSweep) < windowDuration {
		return
	}
	l.lastSweep = now
	for ip, w := range l.counters {
		w.advance(seg)
		if w.empty() {
			delete(l.counters, ip)
		}
	}
}

// advance zeroes segments that aged out since the last observation
func (w *ipWindow) advance(seg int64) {
	delta := seg - w.currentSeg
	if delta <= 0 {
		return
	}
	if delta >= windowSegments {
		w.segments = [windowSegments]int{}
	} else {
		for i := int64(1); i <= delta; i++ {
			w.segments[int(w.currentSeg+i)%windowSegments] = 0
		}
	}
	w.currentSeg = seg
}

func (w *ipWindow) empty() bool {
	for _, c := range w.segments {
		if c != 0 {
			return false
		}
	}
	return true
}
