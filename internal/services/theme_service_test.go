package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const themeJSON = `{"positive_themes":["You listen well","You show initiative"],"negative_themes":["You can over-commit"],"neutral_themes":[]}`

func TestExtractEmptyText(t *testing.T) {
	llmStub := &scriptedCompleter{}
	svc := NewThemeExtractionService(llmStub, "fast", "fallback")

	set, err := svc.Extract(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if set == nil || set.Len() != 0 {
		t.Fatalf("set = %+v, want empty", set)
	}
	if len(llmStub.calls) != 0 {
		t.Fatalf("model called %d times for empty text", len(llmStub.calls))
	}
}

func TestExtractParsesFencedJSONAndAudits(t *testing.T) {
	audited := `{"positive_themes":["You listen actively","You take the lead"],"negative_themes":["You can take on too much"],"neutral_themes":[]}`
	llmStub := &scriptedCompleter{replies: []string{"```json\n" + themeJSON + "\n```", audited}}
	svc := NewThemeExtractionService(llmStub, "fast", "fallback")

	set, err := svc.Extract(context.Background(), "Alice is a great listener but takes on too much.")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("theme count = %d, want 3", set.Len())
	}
	if set.Positive[0] != "You listen actively" {
		t.Fatalf("audited themes not used: %+v", set)
	}
	if len(llmStub.calls) != 2 {
		t.Fatalf("calls = %d, want extraction + audit", len(llmStub.calls))
	}
	if !strings.Contains(llmStub.calls[1].prompt, "You listen well") {
		t.Fatal("audit prompt does not carry the extracted statements")
	}
}

func TestExtractFallbackModel(t *testing.T) {
	llmStub := &scriptedCompleter{
		errs:    []error{errors.New("timeout"), nil, nil},
		replies: []string{"", themeJSON, themeJSON},
	}
	svc := NewThemeExtractionService(llmStub, "fast", "fallback")

	set, err := svc.Extract(context.Background(), "Great teammate.")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("theme count = %d, want 3", set.Len())
	}
	if llmStub.calls[1].model != "fallback" {
		t.Fatalf("second call model = %q, want fallback", llmStub.calls[1].model)
	}
}

func TestExtractAuditMismatchKeepsUnaudited(t *testing.T) {
	shrunk := `{"positive_themes":["You listen well"],"negative_themes":[],"neutral_themes":[]}`
	llmStub := &scriptedCompleter{replies: []string{themeJSON, shrunk}}
	svc := NewThemeExtractionService(llmStub, "fast", "fallback")

	set, err := svc.Extract(context.Background(), "Great teammate.")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if set.Len() != 3 || set.Positive[0] != "You listen well" {
		t.Fatalf("audit shrinkage not rejected: %+v", set)
	}
}

func TestExtractAuditFailureKeepsUnaudited(t *testing.T) {
	llmStub := &scriptedCompleter{
		replies: []string{themeJSON, "", ""},
		errs:    []error{nil, errors.New("down"), errors.New("down")},
	}
	svc := NewThemeExtractionService(llmStub, "fast", "fallback")

	set, err := svc.Extract(context.Background(), "Great teammate.")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("theme count = %d, want unaudited 3", set.Len())
	}
}

func TestExtractTotalFailure(t *testing.T) {
	llmStub := &scriptedCompleter{errs: []error{errors.New("down"), errors.New("down too")}}
	svc := NewThemeExtractionService(llmStub, "fast", "fallback")

	set, err := svc.Extract(context.Background(), "Great teammate.")
	if err == nil {
		t.Fatal("expected error when both models fail")
	}
	if set != nil {
		t.Fatalf("set = %+v, want nil", set)
	}
}

func TestExtractUnparseableThenFallback(t *testing.T) {
	llmStub := &scriptedCompleter{replies: []string{"sorry, I cannot do that", themeJSON, themeJSON}}
	svc := NewThemeExtractionService(llmStub, "fast", "fallback")

	set, err := svc.Extract(context.Background(), "Great teammate.")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if set.Len() != 3 {
		t.Fatalf("theme count = %d, want 3", set.Len())
	}
	if llmStub.calls[1].model != "fallback" {
		t.Fatalf("unparseable reply did not trigger fallback: %+v", llmStub.calls)
	}
}
