package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/feedbacktome/feedbacktome/internal/llm"
)

// Completer is the single LLM operation the services depend on.
type Completer interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// ThemeSet is the sentiment-partitioned output of one extraction.
type ThemeSet struct {
	Positive []string `json:"positive_themes"`
	Negative []string `json:"negative_themes"`
	Neutral  []string `json:"neutral_themes"`
}

func (ts *ThemeSet) Len() int {
	return len(ts.Positive) + len(ts.Negative) + len(ts.Neutral)
}

const themeSystemPrompt = "You are a helpful assistant who helps collect and anonymise 360 feedback requests."

const themePromptTemplate = `Please read the feedback paragraph below, and convert it into a series of positive, negative, and neutral traits.
Each trait should be a single sentence, and should ensure the feedback is totally anonymous.

Examples of positive traits:
- You thrive under pressure
- You always show initiative
- You are friendly and nice

Example of negative traits:
- You can withdraw when scared
- You can let your temper get the better of you

Example of neutral traits:
- You tend to work independently
- You maintain a consistent schedule

Return strict JSON with keys "positive_themes", "negative_themes" and "neutral_themes", each an array of strings. Leave an array empty if nothing matches that sentiment. Return ONLY the raw JSON without any markdown formatting or additional text.

Feedback:
%s`

const themeAuditPromptTemplate = `The JSON below contains anonymised feedback statements grouped by sentiment. Review every statement and rewrite any that still contains identifying detail (names, genders, specific projects, dates, or anything that could reveal who wrote it). Keep each statement in its sentiment group and keep the number of statements unchanged.

Return the same JSON structure with keys "positive_themes", "negative_themes" and "neutral_themes". Return ONLY the raw JSON.

%s`

// ThemeExtractionService converts free-text feedback into anonymized themes.
// Extraction runs a fast model with one fallback, then a second audit pass
// over the extracted statements. Every failure mode degrades rather than
// aborts: an audit failure keeps the unaudited set, a total failure returns
// an error the caller is expected to tolerate.
type ThemeExtractionService struct {
	llm      Completer
	model    string
	fallback string
}

func NewThemeExtractionService(client Completer, model, fallback string) *ThemeExtractionService {
	return &ThemeExtractionService{llm: client, model: model, fallback: fallback}
}

func (s *ThemeExtractionService) Extract(ctx context.Context, feedbackText string) (*ThemeSet, error) {
	if strings.TrimSpace(feedbackText) == "" {
		return &ThemeSet{}, nil
	}
	prompt := fmt.Sprintf(themePromptTemplate, feedbackText)
	set, err := s.completeThemes(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extract themes: %w", err)
	}
	if set.Len() == 0 {
		return set, nil
	}
	return s.audit(ctx, set), nil
}

// audit runs the anonymity pass. On any failure the unaudited set is kept.
func (s *ThemeExtractionService) audit(ctx context.Context, set *ThemeSet) *ThemeSet {
	raw, err := json.Marshal(set)
	if err != nil {
		return set
	}
	audited, err := s.completeThemes(ctx, fmt.Sprintf(themeAuditPromptTemplate, string(raw)))
	if err != nil {
		log.Printf("theme audit failed, keeping unaudited themes: %v", err)
		return set
	}
	if audited.Len() != set.Len() {
		log.Printf("theme audit changed statement count (%d -> %d), keeping unaudited themes", set.Len(), audited.Len())
		return set
	}
	return audited
}

func (s *ThemeExtractionService) completeThemes(ctx context.Context, prompt string) (*ThemeSet, error) {
	var lastErr error
	for _, model := range []string{s.model, s.fallback} {
		if model == "" {
			continue
		}
		content, err := s.llm.Complete(ctx, model, themeSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		var set ThemeSet
		if err := json.Unmarshal([]byte(llm.CleanJSON(content)), &set); err != nil {
			lastErr = fmt.Errorf("parse themes from %s: %w", model, err)
			continue
		}
		return &set, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no theme model configured")
	}
	return nil, lastErr
}
