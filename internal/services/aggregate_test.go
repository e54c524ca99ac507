package services

import (
	"math"
	"strings"
	"testing"
	"time"
)

type stubAggStore struct {
	process     *FeedbackProcess
	requests    []*FeedbackRequest
	submissions []*FeedbackSubmission
	themes      []*FeedbackTheme
}

func (s *stubAggStore) GetProcess(id string) (*FeedbackProcess, error) {
	if s.process != nil && s.process.ID == id {
		return s.process, nil
	}
	return nil, nil
}

func (s *stubAggStore) ListRequestsByProcess(string) ([]*FeedbackRequest, error) {
	return s.requests, nil
}

func (s *stubAggStore) ListSubmissionsByProcess(string) ([]*FeedbackSubmission, error) {
	return s.submissions, nil
}

func (s *stubAggStore) ListThemesByProcess(string) ([]*FeedbackTheme, error) {
	return s.themes, nil
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCalcStats(t *testing.T) {
	st := CalcStats([]int{6, 4, 8})
	if st == nil {
		t.Fatal("stats = nil, want values")
	}
	if !almostEqual(st.Average, 6.0) {
		t.Fatalf("average = %v, want 6.0", st.Average)
	}
	if !almostEqual(st.Variance, 8.0/3.0) {
		t.Fatalf("variance = %v, want %v", st.Variance, 8.0/3.0)
	}
	if !almostEqual(st.StdDev, math.Sqrt(8.0/3.0)) {
		t.Fatalf("stddev = %v, want %v", st.StdDev, math.Sqrt(8.0/3.0))
	}
	if st.Min != 4 || st.Max != 8 || st.Count != 3 {
		t.Fatalf("min/max/count = %d/%d/%d, want 4/8/3", st.Min, st.Max, st.Count)
	}
}

func TestCalcStatsSingleRating(t *testing.T) {
	st := CalcStats([]int{7})
	if st == nil {
		t.Fatal("stats = nil, want values")
	}
	if st.Variance != 0 || st.StdDev != 0 {
		t.Fatalf("variance/stddev = %v/%v, want 0/0", st.Variance, st.StdDev)
	}
	if st.Average != 7 || st.Min != 7 || st.Max != 7 || st.Count != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestCalcStatsEmpty(t *testing.T) {
	if st := CalcStats(nil); st != nil {
		t.Fatalf("stats = %+v, want nil", st)
	}
}

func fixedTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestBuildReportInput(t *testing.T) {
	store := &stubAggStore{
		process: &FeedbackProcess{
			ID:                     "P1",
			Qualities:              []string{"Communication", "Leadership"},
			MinSubmissionsRequired: 3,
		},
		requests: []*FeedbackRequest{
			{Token: "t1", ProcessID: "P1", Role: RolePeer},
			{Token: "t2", ProcessID: "P1", Role: RolePeer},
			{Token: "t3", ProcessID: "P1", Role: RoleSupervisor},
		},
		submissions: []*FeedbackSubmission{
			{ID: "s1", RequestToken: "t1", ProcessID: "P1", Ratings: map[string]int{"Communication": 6, "Leadership": 5}},
			{ID: "s2", RequestToken: "t2", ProcessID: "P1", Ratings: map[string]int{"Communication": 4}},
			{ID: "s3", RequestToken: "t3", ProcessID: "P1", Ratings: map[string]int{"Communication": 8, "Leadership": 7}},
			{ID: "s4", RequestToken: "orphan", ProcessID: "P1", Ratings: map[string]int{"Communication": 1}},
		},
		themes: []*FeedbackTheme{
			{ProcessID: "P1", Theme: "You communicate clearly", Sentiment: SentimentPositive},
			{ProcessID: "P1", Theme: "You can rush decisions", Sentiment: SentimentNegative},
			{ProcessID: "P1", Theme: "You communicate clearly", Sentiment: SentimentPositive},
		},
	}

	svc := NewAggregationService(store)
	in, err := svc.BuildReportInput("P1")
	if err != nil {
		t.Fatalf("BuildReportInput returned error: %v", err)
	}

	comm := in.Overall["Communication"]
	if comm == nil {
		t.Fatal("no overall stats for Communication")
	}
	if !almostEqual(comm.Average, 6.0) || !almostEqual(comm.Variance, 8.0/3.0) || comm.Count != 3 {
		t.Fatalf("Communication stats = %+v, want avg 6.0 variance 8/3 count 3", comm)
	}

	peer := in.ByRole[RolePeer]
	if peer.Count != 2 {
		t.Fatalf("peer count = %d, want 2", peer.Count)
	}
	if st := peer.Qualities["Communication"]; st == nil || st.Count != 2 || !almostEqual(st.Average, 5.0) {
		t.Fatalf("peer Communication stats = %+v, want count 2 avg 5.0", st)
	}
	if st := peer.Qualities["Leadership"]; st == nil || st.Count != 1 {
		t.Fatalf("peer Leadership stats = %+v, want count 1", st)
	}
	if sup := in.ByRole[RoleSupervisor]; sup.Count != 1 {
		t.Fatalf("supervisor count = %d, want 1", sup.Count)
	}

	// Submissions without a matching request contribute nothing.
	if in.TotalSubmissions != 4 {
		t.Fatalf("total submissions = %d, want 4", in.TotalSubmissions)
	}

	pos := in.Themes[SentimentPositive]
	if len(pos) != 2 || pos[0] != "You communicate clearly" || pos[1] != "You communicate clearly" {
		t.Fatalf("positive themes = %v, want duplicate preserved", pos)
	}
	if got := in.Themes[SentimentNegative]; len(got) != 1 || got[0] != "You can rush decisions" {
		t.Fatalf("negative themes = %v", got)
	}
	if in.TotalThemes != 3 {
		t.Fatalf("total themes = %d, want 3", in.TotalThemes)
	}
}

func TestBuildReportInputDeterministic(t *testing.T) {
	store := &stubAggStore{
		process: &FeedbackProcess{ID: "P1", Qualities: []string{"Communication"}},
		requests: []*FeedbackRequest{
			{Token: "t1", ProcessID: "P1", Role: RolePeer},
			{Token: "t2", ProcessID: "P1", Role: RolePeer},
		},
		submissions: []*FeedbackSubmission{
			{ID: "s1", RequestToken: "t1", ProcessID: "P1", Ratings: map[string]int{"Communication": 6}},
			{ID: "s2", RequestToken: "t2", ProcessID: "P1", Ratings: map[string]int{"Communication": 4}},
		},
		themes: []*FeedbackTheme{
			{ProcessID: "P1", Theme: "You show initiative", Sentiment: SentimentPositive},
		},
	}
	svc := NewAggregationService(store)

	first, err := svc.BuildReportInput("P1")
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := svc.BuildReportInput("P1")
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if first.Brief() != second.Brief() {
		t.Fatal("same stored rows produced different briefs")
	}
}

func TestBuildReportInputUnknownProcess(t *testing.T) {
	svc := NewAggregationService(&stubAggStore{})
	_, err := svc.BuildReportInput("missing")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestBriefLayout(t *testing.T) {
	store := &stubAggStore{
		process: &FeedbackProcess{ID: "P1", Qualities: []string{"Communication"}},
		requests: []*FeedbackRequest{
			{Token: "t1", ProcessID: "P1", Role: RolePeer},
			{Token: "t2", ProcessID: "P1", Role: RolePeer},
			{Token: "t3", ProcessID: "P1", Role: RoleSupervisor},
		},
		submissions: []*FeedbackSubmission{
			{ID: "s1", RequestToken: "t1", ProcessID: "P1", Ratings: map[string]int{"Communication": 6}},
			{ID: "s2", RequestToken: "t2", ProcessID: "P1", Ratings: map[string]int{"Communication": 4}},
			{ID: "s3", RequestToken: "t3", ProcessID: "P1", Ratings: map[string]int{"Communication": 8}},
		},
		themes: []*FeedbackTheme{
			{ProcessID: "P1", Theme: "You listen well", Sentiment: SentimentPositive},
			{ProcessID: "P1", Theme: "You can over-commit", Sentiment: SentimentNegative},
		},
	}
	in, err := NewAggregationService(store).BuildReportInput("P1")
	if err != nil {
		t.Fatalf("BuildReportInput: %v", err)
	}

	brief := in.Brief()
	for _, want := range []string{
		"Feedback Report Summary for Process P1",
		"Overall Quality Ratings:",
		"- Average Rating: 6.00",
		"- Rating Range: 4 - 8",
		"- Rating Variance: 2.67",
		"- Number of Ratings: 3",
		"Role-Based Quality Analysis:",
		"Peer Feedback (from 2 respondents):",
		"Supervisor Feedback (from 1 respondents):",
		"Positive Themes:\n- You listen well",
		"Areas for Improvement:\n- You can over-commit",
		"Summary Statistics:",
		"- Total Submissions: 3",
		"- Total Themes Identified: 2",
		"* Peers: 2",
		"* Supervisors: 1",
	} {
		if !strings.Contains(brief, want) {
			t.Fatalf("brief missing %q\n\n%s", want, brief)
		}
	}
}
