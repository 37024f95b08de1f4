package wifi

import "time"

// Clock abstracts the monotonic time source driving command deadlines, poll
// pacing, and connection idle tracking. Production code uses SystemClock;
// tests inject a manual implementation so nothing actually sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
