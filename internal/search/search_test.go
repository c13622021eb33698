package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeSource struct {
	searchFn func(q Query) ([]CustomerRecord, error)
	loadFn   func(ctx context.Context) ([]CustomerRecord, error)
}

func (f *fakeSource) Search(q Query) ([]CustomerRecord, error) { return f.searchFn(q) }
func (f *fakeSource) Healthy() bool                            { return true }
func (f *fakeSource) LoadAllRecords(ctx context.Context) ([]CustomerRecord, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx)
	}
	return nil, nil
}

func TestSearchCustomersUsesFallbackWithoutMeili(t *testing.T) {
	var seen Query
	svc := &Service{fallback: &fakeSource{searchFn: func(q Query) ([]CustomerRecord, error) {
		seen = q
		return []CustomerRecord{{ID: "cus_1", Name: "Acme GmbH", City: "Berlin", Active: true}}, nil
	}}}

	results := svc.SearchCustomers(context.Background(), "  acme ", true)
	if len(results) != 1 || results[0].ID != "cus_1" || results[0].City != "Berlin" {
		t.Fatalf("unexpected results %+v", results)
	}
	if seen.Text != "acme" || !seen.ActiveOnly {
		t.Fatalf("unexpected query %+v", seen)
	}
}

func TestSearchCustomersDegradesToEmptyList(t *testing.T) {
	svc := &Service{fallback: &fakeSource{searchFn: func(Query) ([]CustomerRecord, error) {
		return nil, errors.New("connection refused")
	}}}

	results := svc.SearchCustomers(context.Background(), "acme", true)
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", results)
	}
}

func TestSearchCustomersBlankTermSkipsBackends(t *testing.T) {
	svc := &Service{fallback: &fakeSource{searchFn: func(Query) ([]CustomerRecord, error) {
		t.Fatal("backend should not be queried for a blank term")
		return nil, nil
	}}}
	if results := svc.SearchCustomers(context.Background(), "   ", false); len(results) != 0 {
		t.Fatalf("expected no results, got %+v", results)
	}
}

func TestMeiliSearchSendsQueryAndActiveFilter(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/multi-search" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":[{"indexUid":"billdesk_customers","hits":[
			{"id":"cus_7","name":"Acme GmbH","city":"Hamburg","customerNumber":"K-7","active":true}
		]}]}`)
	}))
	defer srv.Close()

	m := &Meili{client: meili.New(srv.URL), done: make(chan struct{})}
	m.healthy.Store(true)

	records, err := m.Search(Query{Text: "acme", ActiveOnly: true, Limit: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "cus_7" || records[0].City != "Hamburg" || !records[0].Active {
		t.Fatalf("unexpected records %+v", records)
	}

	queries, _ := body["queries"].([]any)
	if len(queries) != 1 {
		t.Fatalf("expected one query, got %v", body)
	}
	q := queries[0].(map[string]any)
	if q["q"] != "acme" || q["filter"] != "active = true" {
		t.Fatalf("unexpected query payload %v", q)
	}
}

func TestMeiliSearchFailureMarksUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := &Meili{client: meili.New(srv.URL), done: make(chan struct{})}
	m.healthy.Store(true)

	if _, err := m.Search(Query{Text: "acme"}); err == nil {
		t.Fatal("expected error")
	}
	if m.Healthy() {
		t.Fatal("expected meili to be marked unhealthy")
	}
}

func TestReindexPushesCustomersToMeili(t *testing.T) {
	var docs []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/indexes/billdesk_customers/documents" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &docs)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"taskUid":1,"indexUid":"billdesk_customers","status":"enqueued","type":"documentAdditionOrUpdate"}`)
	}))
	defer srv.Close()

	m := &Meili{client: meili.New(srv.URL), done: make(chan struct{})}
	m.healthy.Store(true)
	svc := &Service{meili: m, fallback: &fakeSource{loadFn: func(context.Context) ([]CustomerRecord, error) {
		return []CustomerRecord{
			{ID: "cus_1", CustomerNumber: "K-1", Name: "Acme GmbH", City: "Berlin", Active: true},
			{ID: "cus_2", Name: "Globex", Active: false},
		}, nil
	}}}

	svc.ReindexFromPG(context.Background())

	if len(docs) != 2 || docs[0]["id"] != "cus_1" || docs[0]["customerNumber"] != "K-1" || docs[1]["active"] != false {
		t.Fatalf("unexpected documents %v", docs)
	}
}

func TestReindexSkipsUnhealthyMeili(t *testing.T) {
	m := &Meili{done: make(chan struct{})}
	svc := &Service{meili: m, fallback: &fakeSource{loadFn: func(context.Context) ([]CustomerRecord, error) {
		t.Fatal("records should not be loaded while meilisearch is down")
		return nil, nil
	}}}
	svc.ReindexFromPG(context.Background())
}

func TestPrefixQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"acme", "acme:*"},
		{"Acme  GmbH", "acme:* & gmbh:*"},
		{"o'neil & co", "o:* & neil:* & co:*"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := prefixQuery(tc.in); got != tc.want {
			t.Errorf("prefixQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); !strings.Contains(got, `\%`) || !strings.Contains(got, `\_`) || !strings.HasSuffix(got, `\\`) {
		t.Fatalf("unexpected escape %q", got)
	}
}
