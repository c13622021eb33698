package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"billdesk/api/internal/importer"
)

type fakeSearcher struct {
	mu       sync.Mutex
	calls    []string
	searchFn func(ctx context.Context, term string) ([]importer.CustomerSearchResult, error)
}

func (f *fakeSearcher) SearchCustomers(ctx context.Context, term string) ([]importer.CustomerSearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, term)
	f.mu.Unlock()
	if f.searchFn != nil {
		return f.searchFn(ctx, term)
	}
	return []importer.CustomerSearchResult{{ID: "c-" + term, Name: term}}, nil
}

func (f *fakeSearcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func updates() (func([]importer.CustomerSearchResult), <-chan []importer.CustomerSearchResult) {
	ch := make(chan []importer.CustomerSearchResult, 16)
	return func(results []importer.CustomerSearchResult) { ch <- results }, ch
}

func waitUpdate(t *testing.T, ch <-chan []importer.CustomerSearchResult) []importer.CustomerSearchResult {
	t.Helper()
	select {
	case results := <-ch:
		return results
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolver update")
		return nil
	}
}

func TestDebounceSendsOnlyLastTerm(t *testing.T) {
	fake := &fakeSearcher{}
	onUpdate, ch := updates()
	r := New(fake, WithDelay(30*time.Millisecond), WithOnUpdate(onUpdate))
	defer r.Close()

	r.Search("A")
	if got := waitUpdate(t, ch); len(got) != 0 {
		t.Fatalf("short term should clear results, got %+v", got)
	}
	r.Search("AB")

	got := waitUpdate(t, ch)
	if len(got) != 1 || got[0].ID != "c-AB" {
		t.Fatalf("unexpected results %+v", got)
	}
	if calls := fake.Calls(); len(calls) != 1 || calls[0] != "AB" {
		t.Fatalf("expected exactly one call for AB, got %v", calls)
	}
}

func TestRapidTypingCollapsesIntoOneRequest(t *testing.T) {
	fake := &fakeSearcher{}
	onUpdate, ch := updates()
	r := New(fake, WithDelay(50*time.Millisecond), WithOnUpdate(onUpdate))
	defer r.Close()

	for _, term := range []string{"ac", "acm", "acme"} {
		r.Search(term)
	}
	waitUpdate(t, ch)

	if calls := fake.Calls(); len(calls) != 1 || calls[0] != "acme" {
		t.Fatalf("expected one call for acme, got %v", calls)
	}
	if r.Term() != "acme" {
		t.Fatalf("unexpected term %q", r.Term())
	}
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	slowStarted := make(chan struct{})
	fake := &fakeSearcher{searchFn: func(_ context.Context, term string) ([]importer.CustomerSearchResult, error) {
		if term == "ac" {
			close(slowStarted)
			<-release
		}
		return []importer.CustomerSearchResult{{ID: "c-" + term}}, nil
	}}
	onUpdate, ch := updates()
	r := New(fake, WithDelay(5*time.Millisecond), WithOnUpdate(onUpdate))
	defer r.Close()

	r.Search("ac")
	<-slowStarted
	r.Search("acme")

	got := waitUpdate(t, ch)
	if got[0].ID != "c-acme" {
		t.Fatalf("expected acme results first, got %+v", got)
	}

	close(release)
	select {
	case late := <-ch:
		t.Fatalf("stale response must not be published, got %+v", late)
	case <-time.After(100 * time.Millisecond):
	}
	if results := r.Results(); results[0].ID != "c-acme" {
		t.Fatalf("stale response overwrote results: %+v", results)
	}
}

func TestSearchErrorsDegradeToEmptyResults(t *testing.T) {
	fake := &fakeSearcher{searchFn: func(context.Context, string) ([]importer.CustomerSearchResult, error) {
		return nil, errors.New("503 service unavailable")
	}}
	onUpdate, ch := updates()
	r := New(fake, WithDelay(time.Millisecond), WithOnUpdate(onUpdate))
	defer r.Close()

	r.Search("acme")
	got := waitUpdate(t, ch)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", got)
	}
}

func TestResetDropsInFlightResponse(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeSearcher{searchFn: func(_ context.Context, term string) ([]importer.CustomerSearchResult, error) {
		close(started)
		<-release
		return []importer.CustomerSearchResult{{ID: "c1"}}, nil
	}}
	onUpdate, ch := updates()
	r := New(fake, WithDelay(time.Millisecond), WithOnUpdate(onUpdate))
	defer r.Close()

	r.Search("acme")
	<-started
	r.Reset()
	close(release)

	select {
	case got := <-ch:
		t.Fatalf("reset resolver published %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
	if len(r.Results()) != 0 || r.Term() != "" {
		t.Fatalf("expected cleared resolver, got %q %+v", r.Term(), r.Results())
	}
}

func TestCloseCancelsPendingSearch(t *testing.T) {
	fake := &fakeSearcher{}
	r := New(fake, WithDelay(20*time.Millisecond))
	r.Search("acme")
	r.Close()
	r.Search("acme")

	time.Sleep(60 * time.Millisecond)
	if calls := fake.Calls(); len(calls) != 0 {
		t.Fatalf("closed resolver issued %v", calls)
	}
}

func TestCloseCancelsInFlightContext(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeSearcher{searchFn: func(ctx context.Context, _ string) ([]importer.CustomerSearchResult, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}}
	r := New(fake, WithDelay(time.Millisecond))
	r.Search("acme")
	<-started
	r.Close()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight search was not cancelled")
	}
}

func TestMinCharsCountsRunes(t *testing.T) {
	fake := &fakeSearcher{}
	onUpdate, ch := updates()
	r := New(fake, WithDelay(time.Millisecond), WithOnUpdate(onUpdate))
	defer r.Close()

	r.Search("ü")
	waitUpdate(t, ch)
	r.Search("  x  ")
	waitUpdate(t, ch)
	r.Search("üb")
	waitUpdate(t, ch)

	if calls := fake.Calls(); len(calls) != 1 || calls[0] != "üb" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestSupersededTimerCallbackDoesNotSearch(t *testing.T) {
	fake := &fakeSearcher{}
	onUpdate, ch := updates()
	r := New(fake, WithDelay(time.Hour), WithOnUpdate(onUpdate))
	defer r.Close()

	r.Search("acme")
	r.mu.Lock()
	stale := r.pending
	r.mu.Unlock()
	r.Search("acme corp")
	r.mu.Lock()
	current := r.pending
	r.mu.Unlock()

	// A callback for "acme" that started before the second Search stopped
	// its timer.
	r.fire("acme", stale)
	if calls := fake.Calls(); len(calls) != 0 {
		t.Fatalf("superseded term must not be searched, got %v", calls)
	}

	r.fire("acme corp", current)
	waitUpdate(t, ch)
	if calls := fake.Calls(); len(calls) != 1 || calls[0] != "acme corp" {
		t.Fatalf("expected exactly one call for the last term, got %v", calls)
	}
}
