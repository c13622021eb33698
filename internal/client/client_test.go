package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"billdesk/api/internal/importer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func TestUploadImportSendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/imports" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "march.csv" || string(data) != "a,b" {
			t.Errorf("unexpected file %q %q", header.Filename, data)
		}
		if got := r.FormValue("autoApproveThreshold"); got != "0.85" {
			t.Errorf("unexpected threshold %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"success":true,"session":{"id":"imp_1","proposals":[
			{"id":"p1","customerName":"Acme","matchResult":{"status":"matched","customerId":"c1","confidence":0.97}}
		]}}`)
	})

	item, err := c.UploadImport(context.Background(), []byte("a,b"), "march.csv", 0.85)
	if err != nil {
		t.Fatalf("UploadImport() error = %v", err)
	}
	if item.ID != "imp_1" || len(item.Proposals) != 1 {
		t.Fatalf("unexpected session %+v", item)
	}
	if m, ok := item.Proposals[0].Match.(importer.Matched); !ok || m.CustomerID != "c1" {
		t.Fatalf("unexpected match %#v", item.Proposals[0].Match)
	}
}

func TestErrorResponsesBecomeAPIErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"success":false,"code":"REVIEW_REJECTED","error":"1 review(s) rejected","details":{"p2":"approved without a customer"}}`)
	})

	_, err := c.ReviewProposals(context.Background(), "imp_1", []importer.Review{{ProposalID: "p2", Approved: true}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "REVIEW_REJECTED" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if apiErr.Details["p2"] != "approved without a customer" {
		t.Fatalf("unexpected details %v", apiErr.Details)
	}
}

func TestUploadErrorListsRejectedRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"success":false,"code":"UPLOAD_FAILED","error":"no importable rows found","details":{"row 3":"item name is empty","row 2":"customer name is empty"}}`)
	})

	_, err := c.UploadImport(context.Background(), []byte("a,b"), "march.csv", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "import api 422 UPLOAD_FAILED: no importable rows found (row 2: customer name is empty; row 3: item name is empty)"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestReviewProposalsSendsReviews(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/imports/imp_1/review" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Reviews []importer.Review `json:"reviews"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(body.Reviews) != 1 || body.Reviews[0].SelectedCustomerID != "c9" {
			t.Errorf("unexpected reviews %+v", body.Reviews)
		}
		_, _ = io.WriteString(w, `{"success":true,"session":{"id":"imp_1","proposals":[]}}`)
	})

	item, err := c.ReviewProposals(context.Background(), "imp_1", []importer.Review{{ProposalID: "p1", Approved: true, SelectedCustomerID: "c9"}})
	if err != nil || item.ID != "imp_1" {
		t.Fatalf("ReviewProposals() = %+v, %v", item, err)
	}
}

func TestApplyProposalsKeepsUnsuccessfulResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]bool
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body["autoCreateProducts"] {
			t.Errorf("expected autoCreateProducts=true, got %v", body)
		}
		_, _ = io.WriteString(w, `{"success":false,"error":"no contracts could be created","createdContracts":[],"errorsByProposal":{"p1":"product does not exist"}}`)
	})

	result, err := c.ApplyProposals(context.Background(), "imp_1", true)
	if err != nil {
		t.Fatalf("ApplyProposals() error = %v", err)
	}
	if result.Success || result.ErrorsByProposal["p1"] == "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCancelSessionAndSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/imports/imp_1/cancel":
			_, _ = io.WriteString(w, `{"success":true}`)
		case "/api/customers/search":
			if r.URL.Query().Get("q") != "acme gmbh" || r.URL.Query().Get("active") != "true" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"results":[{"id":"c1","name":"Acme GmbH","city":"Berlin"}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	if err := c.CancelSession(context.Background(), "imp_1"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}
	results, err := c.SearchCustomers(context.Background(), "acme gmbh")
	if err != nil || len(results) != 1 || results[0].City != "Berlin" {
		t.Fatalf("SearchCustomers() = %+v, %v", results, err)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := New(srv.URL, nil)
	srv.Close()

	if err := c.CancelSession(context.Background(), "imp_1"); err == nil {
		t.Fatal("expected transport error")
	}
}
