package search

import (
	"context"
	"sync"
	"time"

	"sigmalens/metrics"
)

// LiveSearch debounces keystrokes into searches and delivers only results
// for the latest input. It is owned by a single consumer, such as one
// websocket connection.
type LiveSearch struct {
	ctx      context.Context
	searcher *Searcher
	records  func() []RuleRecord
	deliver  func(Result)

	debouncer *Debouncer

	mu     sync.Mutex
	latest uint64
}

// NewLiveSearch wires a searcher to a debouncer. records is called at search
// time so catalog reloads are picked up. deliver receives current results
// only.
func NewLiveSearch(ctx context.Context, searcher *Searcher, window time.Duration, records func() []RuleRecord, deliver func(Result)) *LiveSearch {
	ls := &LiveSearch{
		ctx:      ctx,
		searcher: searcher,
		records:  records,
		deliver:  deliver,
	}
	ls.debouncer = NewDebouncer(window, ls.run)
	return ls
}

// Input records a keystroke.
func (ls *LiveSearch) Input(value string) {
	ls.debouncer.Trigger(value)
}

// Stop cancels pending searches.
func (ls *LiveSearch) Stop() {
	ls.debouncer.Stop()
}

func (ls *LiveSearch) run(gen uint64, value string) {
	ls.mu.Lock()
	ls.latest = gen
	ls.mu.Unlock()

	res := ls.searcher.Search(ls.ctx, ls.records(), value)

	// A newer keystroke may have fired while the service was answering.
	ls.mu.Lock()
	current := gen == ls.latest && gen == ls.debouncer.Latest()
	ls.mu.Unlock()
	if !current {
		metrics.StaleResponsesDiscarded.WithLabelValues("search").Inc()
		return
	}
	ls.deliver(res)
}
