package services

import (
	"fmt"
	"math"
	"strings"
)

// QualityStats summarizes the ratings collected for one quality. Variance is
// the population variance; a single rating yields zero variance rather than
// an undefined sample estimate.
type QualityStats struct {
	Average  float64 `json:"average"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
	Min      int     `json:"min"`
	Max      int     `json:"max"`
	Count    int     `json:"count"`
}

// CalcStats computes rating statistics for one quality. Returns nil when no
// ratings were supplied so empty cells can be omitted entirely.
func CalcStats(values []int) *QualityStats {
	if len(values) == 0 {
		return nil
	}
	n := len(values)
	sum := 0
	min, max := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	avg := float64(sum) / float64(n)
	variance := 0.0
	if n > 1 {
		for _, v := range values {
			d := float64(v) - avg
			variance += d * d
		}
		variance /= float64(n)
	}
	return &QualityStats{
		Average:  avg,
		Variance: variance,
		StdDev:   math.Sqrt(variance),
		Min:      min,
		Max:      max,
		Count:    n,
	}
}

// RoleBreakdown carries per-quality statistics for one respondent role.
type RoleBreakdown struct {
	Count     int                      `json:"count"`
	Qualities map[string]*QualityStats `json:"qualities"`
}

// ReportInput is the deterministic aggregate handed to report synthesis.
type ReportInput struct {
	ProcessID        string
	Qualities        []string
	Overall          map[string]*QualityStats
	ByRole           map[Role]*RoleBreakdown
	Themes           map[Sentiment][]string
	TotalSubmissions int
	TotalThemes      int
}

// NoData reports whether the process has no submissions at all.
func (in *ReportInput) NoData() bool { return in.TotalSubmissions == 0 }

// AggregateStore is the read surface the aggregation engine needs.
type AggregateStore interface {
	GetProcess(id string) (*FeedbackProcess, error)
	ListRequestsByProcess(processID string) ([]*FeedbackRequest, error)
	ListSubmissionsByProcess(processID string) ([]*FeedbackSubmission, error)
	ListThemesByProcess(processID string) ([]*FeedbackTheme, error)
}

// AggregationService turns raw submissions into the statistical summary and
// theme partition a report is synthesized from. It is purely computational:
// the same stored rows always produce the same ReportInput.
type AggregationService struct {
	store AggregateStore
}

func NewAggregationService(store AggregateStore) *AggregationService {
	return &AggregationService{store: store}
}

func (s *AggregationService) BuildReportInput(processID string) (*ReportInput, error) {
	p, err := s.store.GetProcess(processID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("process not found")
	}
	requests, err := s.store.ListRequestsByProcess(processID)
	if err != nil {
		return nil, err
	}
	submissions, err := s.store.ListSubmissionsByProcess(processID)
	if err != nil {
		return nil, err
	}
	themes, err := s.store.ListThemesByProcess(processID)
	if err != nil {
		return nil, err
	}

	roleByToken := make(map[string]Role, len(requests))
	for _, r := range requests {
		roleByToken[r.Token] = r.Role
	}

	in := &ReportInput{
		ProcessID:        processID,
		Qualities:        p.Qualities,
		Overall:          map[string]*QualityStats{},
		ByRole:           map[Role]*RoleBreakdown{},
		Themes:           map[Sentiment][]string{},
		TotalSubmissions: len(submissions),
		TotalThemes:      len(themes),
	}
	for _, role := range Roles {
		in.ByRole[role] = &RoleBreakdown{Qualities: map[string]*QualityStats{}}
	}

	// quality -> role -> ratings, in submission order
	byRole := map[Role]map[string][]int{}
	for _, sub := range submissions {
		role, ok := roleByToken[sub.RequestToken]
		if !ok {
			continue
		}
		in.ByRole[role].Count++
		if byRole[role] == nil {
			byRole[role] = map[string][]int{}
		}
		for _, q := range p.Qualities {
			if v, ok := sub.Ratings[q]; ok {
				byRole[role][q] = append(byRole[role][q], v)
			}
		}
	}

	for _, q := range p.Qualities {
		all := []int(nil)
		for _, role := range Roles {
			vals := byRole[role][q]
			if st := CalcStats(vals); st != nil {
				in.ByRole[role].Qualities[q] = st
			}
			all = append(all, vals...)
		}
		if st := CalcStats(all); st != nil {
			in.Overall[q] = st
		}
	}

	// Themes keep insertion order and duplicates; repetition is signal.
	for _, t := range themes {
		in.Themes[t.Sentiment] = append(in.Themes[t.Sentiment], t.Theme)
	}
	return in, nil
}

// Brief renders the natural-language summary fed to the reasoning model.
func (in *ReportInput) Brief() string {
	var b strings.Builder
	rule := strings.Repeat("-", 40)
	fmt.Fprintf(&b, "Feedback Report Summary for Process %s\n\n", in.ProcessID)
	fmt.Fprintf(&b, "Overall Quality Ratings:\n%s", rule)

	for _, q := range in.Qualities {
		st := in.Overall[q]
		if st == nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n- Average Rating: %.2f\n- Rating Range: %d - %d\n- Rating Variance: %.2f\n- Number of Ratings: %d",
			q, st.Average, st.Min, st.Max, st.Variance, st.Count)
	}

	fmt.Fprintf(&b, "\n\nRole-Based Quality Analysis:\n%s", rule)
	for _, role := range Roles {
		data := in.ByRole[role]
		if data == nil || data.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s Feedback (from %d respondents):", titleRole(role), data.Count)
		for _, q := range in.Qualities {
			st := data.Qualities[q]
			if st == nil {
				continue
			}
			fmt.Fprintf(&b, "\n%s:\n- Average Rating: %.2f\n- Rating Range: %d - %d\n- Rating Variance: %.2f",
				q, st.Average, st.Min, st.Max, st.Variance)
		}
	}

	fmt.Fprintf(&b, "\n\nFeedback Themes:\n%s\n", rule)
	fmt.Fprintf(&b, "\nPositive Themes:\n%s\n", bulleted(in.Themes[SentimentPositive]))
	fmt.Fprintf(&b, "\nAreas for Improvement:\n%s\n", bulleted(in.Themes[SentimentNegative]))
	fmt.Fprintf(&b, "\nNeutral Observations:\n%s\n", bulleted(in.Themes[SentimentNeutral]))

	fmt.Fprintf(&b, "\nSummary Statistics:\n- Total Submissions: %d\n- Total Themes Identified: %d\n- Breakdown by Role:\n  * Peers: %d\n  * Supervisors: %d\n  * Reports: %d\n",
		in.TotalSubmissions, in.TotalThemes,
		in.ByRole[RolePeer].Count, in.ByRole[RoleSupervisor].Count, in.ByRole[RoleReport].Count)
	return b.String()
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, "- "+it)
	}
	return strings.Join(lines, "\n")
}

func titleRole(r Role) string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
