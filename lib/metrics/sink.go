package metrics

import "time"

// DurationRecorder records elapsed times.
type DurationRecorder interface {
	Update(d time.Duration)
}

// ValueRecorder records integer samples.
type ValueRecorder interface {
	Update(v int64)
}

// Sink hands out named recorders. Implementations must be safe for
// concurrent use and should return the same recorder for repeated names.
type Sink interface {
	Timer(name string) DurationRecorder
	Histogram(name string) ValueRecorder
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Timer(string) DurationRecorder  { return nopTimer{} }
func (discard) Histogram(string) ValueRecorder { return nopHistogram{} }

type nopTimer struct{}

func (nopTimer) Update(time.Duration) {}

type nopHistogram struct{}

func (nopHistogram) Update(int64) {}
