package email

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendFeedbackRequestSuccess(t *testing.T) {
	var gotKey, gotPath string
	var gotReq sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Smtp2go-Api-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"data":{"succeeded":1}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "smtp-key", Endpoint: srv.URL, Sender: "noreply@feedback-to.me"})
	ok := c.SendFeedbackRequest("peer@example.com", "https://feedback.test/feedback/tok1", "Jane", "Acme")
	if !ok {
		t.Fatal("send reported failure")
	}
	if gotKey != "smtp-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotPath != "/email/send" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotReq.Sender != "noreply@feedback-to.me" {
		t.Fatalf("sender = %q", gotReq.Sender)
	}
	if len(gotReq.To) != 1 || gotReq.To[0] != "peer@example.com" {
		t.Fatalf("to = %v", gotReq.To)
	}
	if !strings.Contains(gotReq.TextBody, "Jane (Acme)") {
		t.Fatalf("body missing sender name: %q", gotReq.TextBody)
	}
	if !strings.Contains(gotReq.TextBody, "https://feedback.test/feedback/tok1") {
		t.Fatalf("body missing magic link: %q", gotReq.TextBody)
	}
}

func TestSendRejectedByProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"succeeded":0,"failed":1}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", Endpoint: srv.URL, Sender: "noreply@feedback-to.me"})
	if c.SendConfirmation("x@example.com", "https://feedback.test/confirm-email/t", "Jane") {
		t.Fatal("rejected send reported success")
	}
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", Endpoint: srv.URL, Sender: "noreply@feedback-to.me"})
	if c.SendPasswordReset("x@example.com", "https://feedback.test/reset-password/t", "Jane") {
		t.Fatal("http error reported success")
	}
}

func TestSendWithoutAPIKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Sender: "noreply@feedback-to.me"})
	if c.SendConfirmation("x@example.com", "link", "Jane") {
		t.Fatal("send without api key reported success")
	}
	if called {
		t.Fatal("provider called without api key")
	}
}

func TestSendFeedbackRequestWithoutCompany(t *testing.T) {
	var gotReq sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"data":{"succeeded":1}}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", Endpoint: srv.URL, Sender: "noreply@feedback-to.me"})
	if !c.SendFeedbackRequest("peer@example.com", "link", "Jane", "") {
		t.Fatal("send reported failure")
	}
	if strings.Contains(gotReq.TextBody, "(") {
		t.Fatalf("body carries empty company: %q", gotReq.TextBody)
	}
}
