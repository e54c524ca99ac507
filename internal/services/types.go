package services

import (
	"strings"
	"time"
)

// ProcessState is the lifecycle position of a feedback process. It is derived
// rather than stored: a persisted report is terminal, otherwise the
// completed-request count decides whether the report gate is open.
type ProcessState string

const (
	StateCollecting     ProcessState = "collecting"
	StateReadyForReport ProcessState = "ready_for_report"
	StateReported       ProcessState = "reported"
)

// Role classifies the relationship of a respondent to the feedback subject.
type Role string

const (
	RolePeer       Role = "peer"
	RoleSupervisor Role = "supervisor"
	RoleReport     Role = "report"
)

// Roles lists every valid role in a fixed presentation order.
var Roles = []Role{RolePeer, RoleSupervisor, RoleReport}

func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePeer:
		return RolePeer, true
	case RoleSupervisor:
		return RoleSupervisor, true
	case RoleReport:
		return RoleReport, true
	}
	return "", false
}

// Sentiment buckets an extracted theme.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// FeedbackProcess is one 360 feedback campaign owned by a user.
type FeedbackProcess struct {
	ID                     string    `json:"id"`
	OwnerID                string    `json:"owner_id"`
	Title                  string    `json:"title"`
	Qualities              []string  `json:"qualities"`
	MinSubmissionsRequired int       `json:"min_submissions_required"`
	FeedbackCount          int       `json:"feedback_count"`
	ReportPrompt           string    `json:"-"`
	ReportText             string    `json:"report_text,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// Reported reports whether a synthesized report has been persisted. Once true
// the process is frozen: no new requests and no regeneration.
func (p *FeedbackProcess) Reported() bool { return p.ReportText != "" }

// State derives the lifecycle state from the authoritative completed-request
// count. The cached FeedbackCount is never used for gating.
func (p *FeedbackProcess) State(completed int) ProcessState {
	if p.Reported() {
		return StateReported
	}
	if completed >= p.MinSubmissionsRequired {
		return StateReadyForReport
	}
	return StateCollecting
}

// FeedbackRequest is one magic-link invitation to submit feedback.
type FeedbackRequest struct {
	Token       string     `json:"token"`
	ProcessID   string     `json:"process_id"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	ExpiresAt   time.Time  `json:"expires_at"`
	EmailSentAt *time.Time `json:"email_sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r *FeedbackRequest) Completed() bool { return r.CompletedAt != nil }

func (r *FeedbackRequest) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }

// FeedbackSubmission is the immutable payload a respondent submitted against
// a request token. Exactly one submission may exist per token.
type FeedbackSubmission struct {
	ID           string         `json:"id"`
	RequestToken string         `json:"request_token"`
	ProcessID    string         `json:"process_id"`
	Ratings      map[string]int `json:"ratings"`
	FeedbackText string         `json:"feedback_text"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FeedbackTheme is one anonymized statement extracted from a submission.
type FeedbackTheme struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	ProcessID    string    `json:"process_id"`
	Theme        string    `json:"theme"`
	Sentiment    Sentiment `json:"sentiment"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is an account that owns feedback processes and spends credits.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	Company   string    `json:"company,omitempty"`
	Team      string    `json:"team,omitempty"`
	PassHash  []byte    `json:"-"`
	Confirmed bool      `json:"confirmed"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

// ConfirmToken is a single-use token for email confirmation or password reset.
type ConfirmToken struct {
	Token     string
	Email     string
	Purpose   string // PurposeConfirm or PurposePasswordReset
	ExpiresAt time.Time
	Used      bool
}

const (
	PurposeConfirm       = "confirm"
	PurposePasswordReset = "password_reset"
)
