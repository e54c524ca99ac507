package services

import (
	"context"
	"fmt"

	"github.com/feedbacktome/feedbacktome/internal/llm"
)

const reportSystemPrompt = "You are an experienced executive coach who writes warm, constructive 360 feedback reports."

const reportPromptTemplate = `Write a 360 feedback report in markdown for the person described by the aggregated feedback below. Address the subject directly as "you".

The report must contain exactly these sections, in order:

# Introduction
# Key Trends
# Detailed Observations
# Action Plan
# Conclusion

The Action Plan section must contain three subsections: things to Continue, things to Stop, and things to Start. Ground every observation in the ratings and themes provided; never invent specifics, and never speculate about who said what.

Aggregated feedback:

%s`

// reportUnavailableText is stored nowhere; it is returned alongside the error
// so callers can surface something readable while treating the run as failed.
const reportUnavailableText = "We were unable to generate your report at this time. Please try again later."

// ReportSynthesisService turns a ReportInput into the final markdown report
// using the reasoning model, with one fallback attempt.
type ReportSynthesisService struct {
	llm      Completer
	model    string
	fallback string
}

func NewReportSynthesisService(client Completer, model, fallback string) *ReportSynthesisService {
	return &ReportSynthesisService{llm: client, model: model, fallback: fallback}
}

// Generate returns the prompt that was used and the synthesized report. When
// both models fail it returns placeholder text and a non-nil error; the
// caller must not persist the placeholder.
func (s *ReportSynthesisService) Generate(ctx context.Context, input *ReportInput) (prompt, report string, err error) {
	prompt = fmt.Sprintf(reportPromptTemplate, input.Brief())
	var lastErr error
	for _, model := range []string{s.model, s.fallback} {
		if model == "" {
			continue
		}
		content, cerr := s.llm.Complete(ctx, model, reportSystemPrompt, prompt)
		if cerr != nil {
			lastErr = cerr
			continue
		}
		return prompt, llm.StripFences(content), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no report model configured")
	}
	return prompt, reportUnavailableText, NewBadGatewayError("report generation failed: " + lastErr.Error())
}
