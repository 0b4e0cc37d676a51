package search

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the quiescence period before a search runs.
const DefaultDebounceWindow = 150 * time.Millisecond

// Debouncer runs fn once input has been quiet for the window, with the last
// value triggered. Each trigger stops the pending timer; a generation check
// inside the callback also drops a timer that fired before it was stopped.
type Debouncer struct {
	mu         sync.Mutex
	window     time.Duration
	fn         func(gen uint64, value string)
	timer      *time.Timer
	generation uint64
	latest     string
	stopped    bool
}

// NewDebouncer returns a debouncer. A non-positive window uses
// DefaultDebounceWindow.
func NewDebouncer(window time.Duration, fn func(gen uint64, value string)) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{window: window, fn: fn}
}

// Trigger records value and restarts the quiescence window.
func (d *Debouncer) Trigger(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	d.latest = value
	gen := d.generation
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.generation {
		d.mu.Unlock()
		return
	}
	value := d.latest
	d.timer = nil
	d.mu.Unlock()

	d.fn(gen, value)
}

// Latest returns the generation of the most recent trigger.
func (d *Debouncer) Latest() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Stop cancels any pending run. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
