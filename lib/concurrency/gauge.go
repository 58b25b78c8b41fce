// Package concurrency tracks how many goroutines are inside a connection
// acquisition attempt.
package concurrency

import "sync/atomic"

// Reader exposes the current in-flight count. Strategies only read it.
type Reader interface {
	Value() int64
}

// Gauge is an atomic in-flight counter. The zero value is ready to use.
type Gauge struct {
	n atomic.Int64
}

// NewGauge returns a Gauge starting at zero.
func NewGauge() *Gauge {
	return &Gauge{}
}

// Inc records a goroutine entering an acquisition and returns the new count.
func (g *Gauge) Inc() int64 {
	return g.n.Add(1)
}

// Dec records a goroutine leaving an acquisition and returns the new count.
// The count never drops below zero; an unmatched Dec is ignored.
func (g *Gauge) Dec() int64 {
	for {
		cur := g.n.Load()
		if cur <= 0 {
			log.Warn("concurrency gauge decremented below zero")
			return 0
		}
		if g.n.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Value returns the current count. The value may be stale by the time it is
// used; callers treat it as a heuristic.
func (g *Gauge) Value() int64 {
	return g.n.Load()
}
