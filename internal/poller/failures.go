package poller

// FailureCounter counts consecutive non-throttle failures. It only drives
// the warning message, never control flow.
type FailureCounter struct {
	count     int
	threshold int
}

// NewFailureCounter returns a counter that warns at threshold.
func NewFailureCounter(threshold int) *FailureCounter {
	if threshold < 1 {
		threshold = 1
	}
	return &FailureCounter{threshold: threshold}
}

// Inc counts one failure and returns the running count.
func (f *FailureCounter) Inc() int {
	f.count++
	return f.count
}

// Reset zeroes the counter.
func (f *FailureCounter) Reset() {
	f.count = 0
}

// Count returns the running count.
func (f *FailureCounter) Count() int {
	return f.count
}

// Warn reports whether the count has reached the warning threshold.
func (f *FailureCounter) Warn() bool {
	return f.count >= f.threshold
}
