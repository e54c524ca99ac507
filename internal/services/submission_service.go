package services

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"
)

// SubmissionStore abstracts persistence for the respondent submission flow.
// CompleteSubmission must atomically mark the request completed, insert the
// submission and bump the cached feedback counter, failing with
// ErrAlreadyCompleted when the token was used concurrently.
type SubmissionStore interface {
	GetRequest(token string) (*FeedbackRequest, error)
	GetProcess(id string) (*FeedbackProcess, error)
	CompleteSubmission(sub *FeedbackSubmission) error
	AddThemes(themes []*FeedbackTheme) error
}

// ThemeExtractor is the extraction dependency; failures are tolerated.
type ThemeExtractor interface {
	Extract(ctx context.Context, feedbackText string) (*ThemeSet, error)
}

// SubmitResult reports what happened to one submission.
type SubmitResult struct {
	SubmissionID    string `json:"submission_id"`
	ThemesExtracted int    `json:"themes_extracted"`
}

// SubmissionService handles the respondent side: validating the magic link,
// sanitizing ratings, completing the request exactly once and extracting
// themes as a best-effort side effect.
type SubmissionService struct {
	store     SubmissionStore
	extractor ThemeExtractor
	ratingMin int
	ratingMax int
	now       func() time.Time
	idGen     func() string
}

func NewSubmissionService(store SubmissionStore, extractor ThemeExtractor, ratingMin, ratingMax int) *SubmissionService {
	return &SubmissionService{
		store:     store,
		extractor: extractor,
		ratingMin: ratingMin,
		ratingMax: ratingMax,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     func() string { return shortID(12) },
	}
}

// Submit completes a feedback request. Ratings arrive as raw form values:
// keys are matched case-insensitively against the process qualities, unknown
// keys are dropped silently, and values that do not parse into the rating
// range are dropped with a warning. The submission itself never fails over
// bad ratings.
func (s *SubmissionService) Submit(ctx context.Context, token string, ratings map[string]string, feedbackText string) (*SubmitResult, error) {
	req, err := s.store.GetRequest(token)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Expired(s.now()) {
		return nil, NewNotFoundError("unknown or expired feedback link")
	}
	if req.Completed() {
		return nil, NewAlreadyCompletedError("this feedback has already been submitted")
	}
	if strings.TrimSpace(feedbackText) == "" {
		return nil, NewInvalidError("feedback text required")
	}
	p, err := s.store.GetProcess(req.ProcessID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("process not found")
	}

	sub := &FeedbackSubmission{
		ID:           s.idGen(),
		RequestToken: req.Token,
		ProcessID:    p.ID,
		Ratings:      s.sanitizeRatings(p.Qualities, ratings),
		FeedbackText: feedbackText,
		CreatedAt:    s.now(),
	}
	if err := s.store.CompleteSubmission(sub); err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			return nil, NewAlreadyCompletedError("this feedback has already been submitted")
		}
		return nil, err
	}

	result := &SubmitResult{SubmissionID: sub.ID}
	if s.extractor == nil {
		return result, nil
	}
	set, err := s.extractor.Extract(ctx, feedbackText)
	if err != nil || set == nil {
		// Extraction is best effort; the submission stands with zero themes.
		log.Printf("theme extraction failed for submission %s: %v", sub.ID, err)
		return result, nil
	}
	themes := s.buildThemes(sub, set)
	if len(themes) > 0 {
		if err := s.store.AddThemes(themes); err != nil {
			log.Printf("store themes for submission %s: %v", sub.ID, err)
			return result, nil
		}
	}
	result.ThemesExtracted = len(themes)
	return result, nil
}

func (s *SubmissionService) sanitizeRatings(qualities []string, raw map[string]string) map[string]int {
	canonical := make(map[string]string, len(qualities))
	for _, q := range qualities {
		canonical[strings.ToLower(q)] = q
	}
	out := map[string]int{}
	for key, val := range raw {
		q, ok := canonical[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n < s.ratingMin || n > s.ratingMax {
			log.Printf("dropping rating %q=%q: outside %d-%d", key, val, s.ratingMin, s.ratingMax)
			continue
		}
		out[q] = n
	}
	return out
}

func (s *SubmissionService) buildThemes(sub *FeedbackSubmission, set *ThemeSet) []*FeedbackTheme {
	now := s.now()
	add := func(dst []*FeedbackTheme, items []string, sentiment Sentiment) []*FeedbackTheme {
		for _, theme := range items {
			theme = strings.TrimSpace(theme)
			if theme == "" {
				continue
			}
			dst = append(dst, &FeedbackTheme{
				ID:           shortID(12),
				SubmissionID: sub.ID,
				ProcessID:    sub.ProcessID,
				Theme:        theme,
				Sentiment:    sentiment,
				CreatedAt:    now,
			})
		}
		return dst
	}
	themes := []*FeedbackTheme(nil)
	themes = add(themes, set.Positive, SentimentPositive)
	themes = add(themes, set.Negative, SentimentNegative)
	themes = add(themes, set.Neutral, SentimentNeutral)
	return themes
}
