package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProcessStore is the persistence surface the lifecycle controller needs.
// Methods that touch several rows (create, delete, complete) are single
// transactions in the concrete store.
type ProcessStore interface {
	GetUser(id string) (*User, error)
	GetCredits(userID string) (int, error)
	CreateProcessWithRequests(p *FeedbackProcess, reqs []*FeedbackRequest) error
	GetProcess(id string) (*FeedbackProcess, error)
	ListProcessesByOwner(ownerID string) ([]*FeedbackProcess, error)
	ListRequestsByProcess(processID string) ([]*FeedbackRequest, error)
	GetRequest(token string) (*FeedbackRequest, error)
	AddRequestWithDebit(ownerID string, req *FeedbackRequest) error
	DeleteRequestCascade(token string) (refunded bool, err error)
	DeleteProcessCascade(processID string) (refunded int, err error)
	CountCompletedRequests(processID string) (int, error)
	MarkEmailSent(token string, at time.Time) error
	SaveReport(processID, prompt, text string) error
}

// RequestMailer delivers a magic link to one respondent.
type RequestMailer interface {
	SendFeedbackRequest(to, link, firstName, company string) bool
}

type Recipient struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type CreateProcessInput struct {
	Title           string      `json:"title"`
	Qualities       []string    `json:"qualities"`
	CustomQualities string      `json:"custom_qualities"`
	MinSubmissions  int         `json:"min_submissions_required"`
	Recipients      []Recipient `json:"recipients"`
}

// RoleProgress counts invitations for one role on the owner dashboard.
type RoleProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

// ProcessStatus is the owner-facing view of one process. CompletedCount is
// re-derived from the request rows, never from the cached counter.
type ProcessStatus struct {
	Process        *FeedbackProcess       `json:"process"`
	State          ProcessState           `json:"state"`
	CompletedCount int                    `json:"completed_count"`
	CanGenerate    bool                   `json:"can_generate"`
	Requests       []*FeedbackRequest     `json:"requests"`
	ByRole         map[Role]*RoleProgress `json:"by_role"`
}

type ProcessList struct {
	Active    []*FeedbackProcess `json:"active"`
	Completed []*FeedbackProcess `json:"completed"`
}

// FeedbackFormView is what an anonymous respondent sees behind a magic link.
type FeedbackFormView struct {
	RequesterName string   `json:"requester_name"`
	Qualities     []string `json:"qualities"`
	RatingMin     int      `json:"rating_min"`
	RatingMax     int      `json:"rating_max"`
}

type ProcessServiceConfig struct {
	BaseURL               string
	DefaultMinSubmissions int
	PresetQualities       []string
	RatingMin             int
	RatingMax             int
}

// ProcessService drives the process lifecycle: creation, request management,
// credit accounting and report generation. Every owner-scoped operation
// verifies ownership before touching storage.
type ProcessService struct {
	store   ProcessStore
	issuer  *RequestIssuer
	agg     *AggregationService
	reports *ReportSynthesisService
	mailer  RequestMailer
	cfg     ProcessServiceConfig
	now     func() time.Time
	idGen   func() string
}

func NewProcessService(store ProcessStore, issuer *RequestIssuer, agg *AggregationService, reports *ReportSynthesisService, mailer RequestMailer, cfg ProcessServiceConfig) *ProcessService {
	return &ProcessService{
		store:   store,
		issuer:  issuer,
		agg:     agg,
		reports: reports,
		mailer:  mailer,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		idGen:   func() string { return shortID(12) },
	}
}

func (s *ProcessService) ownedProcess(ownerID, processID string) (*FeedbackProcess, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	p, err := s.store.GetProcess(processID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("process not found")
	}
	if p.OwnerID != ownerID {
		return nil, NewUnauthorizedError("not your process")
	}
	return p, nil
}

// CreateProcess validates the input, debits one credit per recipient and
// creates the process together with its initial requests in one transaction.
// Insufficient credits reject the whole creation with no partial writes.
func (s *ProcessService) CreateProcess(ownerID string, in CreateProcessInput) (*FeedbackProcess, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, NewInvalidError("title required")
	}
	qualities := mergeQualities(in.Qualities, in.CustomQualities)
	if len(qualities) == 0 {
		qualities = append([]string(nil), s.cfg.PresetQualities...)
	}
	if len(qualities) == 0 {
		return nil, NewInvalidError("at least one quality required")
	}
	min := in.MinSubmissions
	if min == 0 {
		min = s.cfg.DefaultMinSubmissions
	}
	if min < 1 {
		return nil, NewInvalidError("min_submissions_required must be at least 1")
	}
	for _, r := range in.Recipients {
		if !validEmail(r.Email) {
			return nil, NewInvalidError("invalid recipient email: " + r.Email)
		}
		if _, ok := ParseRole(r.Role); !ok {
			return nil, NewInvalidError("invalid recipient role: " + r.Role)
		}
	}

	credits, err := s.store.GetCredits(ownerID)
	if err != nil {
		return nil, err
	}
	if credits < len(in.Recipients) {
		return nil, NewInsufficientCreditsError(fmt.Sprintf("need %d credits, have %d", len(in.Recipients), credits))
	}

	p := &FeedbackProcess{
		ID:                     s.idGen(),
		OwnerID:                ownerID,
		Title:                  strings.TrimSpace(in.Title),
		Qualities:              qualities,
		MinSubmissionsRequired: min,
		CreatedAt:              s.now(),
	}
	reqs := make([]*FeedbackRequest, 0, len(in.Recipients))
	for _, r := range in.Recipients {
		role, _ := ParseRole(r.Role)
		reqs = append(reqs, s.issuer.Issue(p.ID, strings.TrimSpace(r.Email), role))
	}
	if err := s.store.CreateProcessWithRequests(p, reqs); err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return nil, NewInsufficientCreditsError("insufficient credits")
		}
		return nil, err
	}
	return p, nil
}

// AddRequest invites one more respondent to an existing process. Reported
// processes are frozen and reject new requests.
func (s *ProcessService) AddRequest(ownerID, processID, email, role string) (*FeedbackRequest, error) {
	p, err := s.ownedProcess(ownerID, processID)
	if err != nil {
		return nil, err
	}
	if p.Reported() {
		return nil, NewFrozenError("process already has a report")
	}
	if !validEmail(email) {
		return nil, NewInvalidError("invalid email")
	}
	parsed, ok := ParseRole(role)
	if !ok {
		return nil, NewInvalidError("invalid role")
	}
	req := s.issuer.Issue(p.ID, strings.TrimSpace(email), parsed)
	if err := s.store.AddRequestWithDebit(ownerID, req); err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return nil, NewInsufficientCreditsError("insufficient credits")
		}
		return nil, err
	}
	return req, nil
}

// DeleteRequest removes one invitation together with any submission and
// themes behind it. The credit is refunded only while no report exists.
func (s *ProcessService) DeleteRequest(ownerID, processID, token string) (bool, error) {
	p, err := s.ownedProcess(ownerID, processID)
	if err != nil {
		return false, err
	}
	r, err := s.store.GetRequest(token)
	if err != nil {
		return false, err
	}
	if r == nil || r.ProcessID != p.ID {
		return false, NewNotFoundError("request not found")
	}
	return s.store.DeleteRequestCascade(token)
}

// DeleteProcess removes the process and everything under it, refunding one
// credit per pending request when no report was generated.
func (s *ProcessService) DeleteProcess(ownerID, processID string) (int, error) {
	p, err := s.ownedProcess(ownerID, processID)
	if err != nil {
		return 0, err
	}
	return s.store.DeleteProcessCascade(p.ID)
}

// GenerateReport aggregates, synthesizes and persists the report. The gate
// re-derives the completed count from storage; the cached feedback counter is
// display-only. A synthesis failure leaves the process untouched so the
// owner can retry.
func (s *ProcessService) GenerateReport(ctx context.Context, ownerID, processID string) (*FeedbackProcess, error) {
	p, err := s.ownedProcess(ownerID, processID)
	if err != nil {
		return nil, err
	}
	if p.Reported() {
		return nil, NewAlreadyReportedError("report already generated")
	}
	completed, err := s.store.CountCompletedRequests(p.ID)
	if err != nil {
		return nil, err
	}
	if completed < p.MinSubmissionsRequired {
		return nil, NewNotReadyError(fmt.Sprintf("only %d of %d required submissions received", completed, p.MinSubmissionsRequired))
	}
	input, err := s.agg.BuildReportInput(p.ID)
	if err != nil {
		return nil, err
	}
	prompt, report, err := s.reports.Generate(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveReport(p.ID, prompt, report); err != nil {
		if errors.Is(err, ErrAlreadyReported) {
			return nil, NewAlreadyReportedError("report already generated")
		}
		return nil, err
	}
	p.ReportPrompt = prompt
	p.ReportText = report
	return p, nil
}

// SendRequestEmail delivers the magic link and records the send time. The
// timestamp is only written after the provider accepted the message.
func (s *ProcessService) SendRequestEmail(ownerID, processID, token string) (time.Time, error) {
	p, err := s.ownedProcess(ownerID, processID)
	if err != nil {
		return time.Time{}, err
	}
	r, err := s.store.GetRequest(token)
	if err != nil {
		return time.Time{}, err
	}
	if r == nil || r.ProcessID != p.ID {
		return time.Time{}, NewNotFoundError("request not found")
	}
	if r.Completed() {
		return time.Time{}, NewAlreadyCompletedError("feedback already submitted")
	}
	owner, err := s.store.GetUser(ownerID)
	if err != nil {
		return time.Time{}, err
	}
	if owner == nil {
		return time.Time{}, NewUnauthorizedError("unauthorized")
	}
	if s.mailer == nil || !s.mailer.SendFeedbackRequest(r.Email, s.FeedbackLink(r.Token), owner.FirstName, owner.Company) {
		return time.Time{}, NewBadGatewayError("email delivery failed")
	}
	at := s.now()
	if err := s.store.MarkEmailSent(token, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// Status builds the owner dashboard view for one process.
func (s *ProcessService) Status(ownerID, processID string) (*ProcessStatus, error) {
	p, err := s.ownedProcess(ownerID, processID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.store.ListRequestsByProcess(p.ID)
	if err != nil {
		return nil, err
	}
	byRole := map[Role]*RoleProgress{}
	for _, role := range Roles {
		byRole[role] = &RoleProgress{}
	}
	completed := 0
	for _, r := range reqs {
		prog := byRole[r.Role]
		if prog == nil {
			prog = &RoleProgress{}
			byRole[r.Role] = prog
		}
		prog.Total++
		if r.Completed() {
			prog.Completed++
			completed++
		}
	}
	return &ProcessStatus{
		Process:        p,
		State:          p.State(completed),
		CompletedCount: completed,
		CanGenerate:    !p.Reported() && completed >= p.MinSubmissionsRequired,
		Requests:       reqs,
		ByRole:         byRole,
	}, nil
}

// ListProcesses splits the owner's processes into active and reported.
func (s *ProcessService) ListProcesses(ownerID string) (*ProcessList, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	ps, err := s.store.ListProcessesByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	out := &ProcessList{Active: []*FeedbackProcess{}, Completed: []*FeedbackProcess{}}
	for _, p := range ps {
		if p.Reported() {
			out.Completed = append(out.Completed, p)
		} else {
			out.Active = append(out.Active, p)
		}
	}
	return out, nil
}

// FormView resolves a magic-link token into the respondent-facing form data.
func (s *ProcessService) FormView(token string) (*FeedbackFormView, error) {
	r, err := s.store.GetRequest(token)
	if err != nil {
		return nil, err
	}
	if r == nil || r.Expired(s.now()) {
		return nil, NewNotFoundError("unknown or expired feedback link")
	}
	if r.Completed() {
		return nil, NewAlreadyCompletedError("this feedback has already been submitted")
	}
	p, err := s.store.GetProcess(r.ProcessID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("process not found")
	}
	owner, err := s.store.GetUser(p.OwnerID)
	if err != nil {
		return nil, err
	}
	name := ""
	if owner != nil {
		name = capitalize(owner.FirstName)
	}
	return &FeedbackFormView{
		RequesterName: name,
		Qualities:     p.Qualities,
		RatingMin:     s.cfg.RatingMin,
		RatingMax:     s.cfg.RatingMax,
	}, nil
}

// Credits returns the owner's current balance.
func (s *ProcessService) Credits(ownerID string) (int, error) {
	if ownerID == "" {
		return 0, NewUnauthorizedError("unauthorized")
	}
	return s.store.GetCredits(ownerID)
}

// FeedbackLink builds the public magic-link URL for a request token.
func (s *ProcessService) FeedbackLink(token string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/feedback/" + token
}

func mergeQualities(selected []string, custom string) []string {
	seen := map[string]bool{}
	out := []string(nil)
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		key := strings.ToLower(q)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, q)
	}
	for _, q := range selected {
		add(q)
	}
	for _, q := range strings.Split(custom, ",") {
		add(q)
	}
	return out
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.Index(s, "@")
	if at < 1 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(s, " \t\n")
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
