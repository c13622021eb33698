// Package resolver implements the debounced customer lookup used to resolve
// proposals that did not match a customer automatically.
package resolver

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"billdesk/api/internal/importer"
)

const (
	DefaultDelay    = 300 * time.Millisecond
	DefaultMinChars = 2
)

// Searcher looks up customers by free text.
type Searcher interface {
	SearchCustomers(ctx context.Context, term string) ([]importer.CustomerSearchResult, error)
}

type Option func(*Resolver)

func WithDelay(d time.Duration) Option {
	return func(r *Resolver) { r.delay = d }
}

func WithMinChars(n int) Option {
	return func(r *Resolver) { r.minChars = n }
}

// WithOnUpdate registers a callback that receives every accepted result set.
// It runs outside the resolver lock.
func WithOnUpdate(fn func([]importer.CustomerSearchResult)) Option {
	return func(r *Resolver) { r.onUpdate = fn }
}

// Resolver debounces search terms and only publishes the response to the most
// recently issued request.
type Resolver struct {
	search   Searcher
	delay    time.Duration
	minChars int
	onUpdate func([]importer.CustomerSearchResult)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	pending uint64
	seq     uint64
	term    string
	results []importer.CustomerSearchResult
	closed  bool
}

func New(search Searcher, opts ...Option) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		search:   search,
		delay:    DefaultDelay,
		minChars: DefaultMinChars,
		ctx:      ctx,
		cancel:   cancel,
		results:  []importer.CustomerSearchResult{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search schedules a lookup for term once the input has been quiet for the
// debounce delay. Terms shorter than the minimum clear the results without a
// request.
func (r *Resolver) Search(term string) {
	trimmed := strings.TrimSpace(term)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.term = term
	r.stopTimerLocked()
	if utf8.RuneCountInString(trimmed) < r.minChars {
		r.seq++
		r.results = []importer.CustomerSearchResult{}
		r.mu.Unlock()
		r.notify([]importer.CustomerSearchResult{})
		return
	}
	generation := r.pending
	r.timer = time.AfterFunc(r.delay, func() { r.fire(trimmed, generation) })
	r.mu.Unlock()
}

// stopTimerLocked cancels the scheduled lookup. A callback that already
// started sees a newer generation and returns without searching.
func (r *Resolver) stopTimerLocked() {
	r.pending++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Resolver) fire(term string, generation uint64) {
	r.mu.Lock()
	if r.closed || generation != r.pending {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	results, err := r.search.SearchCustomers(r.ctx, term)
	if err != nil {
		log.Printf("resolver: search %q: %v", term, err)
		results = []importer.CustomerSearchResult{}
	}
	if results == nil {
		results = []importer.CustomerSearchResult{}
	}

	r.mu.Lock()
	if r.closed || seq != r.seq {
		r.mu.Unlock()
		return
	}
	r.results = results
	r.mu.Unlock()
	r.notify(results)
}

func (r *Resolver) notify(results []importer.CustomerSearchResult) {
	if r.onUpdate != nil {
		r.onUpdate(cloneResults(results))
	}
}

// Results returns the last accepted result set.
func (r *Resolver) Results() []importer.CustomerSearchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneResults(r.results)
}

// Term returns the raw text of the last Search call.
func (r *Resolver) Term() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.term
}

// Reset drops the term, the results and any pending or in-flight request.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
	r.seq++
	r.term = ""
	r.results = []importer.CustomerSearchResult{}
}

// Close stops the resolver and cancels an in-flight request.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopTimerLocked()
	r.mu.Unlock()
	r.cancel()
}

func cloneResults(results []importer.CustomerSearchResult) []importer.CustomerSearchResult {
	out := make([]importer.CustomerSearchResult, len(results))
	copy(out, results)
	return out
}
