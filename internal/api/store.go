package api

import (
	"sync"
	"time"

	"github.com/feedbacktome/feedbacktome/internal/services"
)

// memoryStore is a mutex-guarded in-memory Store used in dev mode and in
// tests. It mirrors the SQLite store's semantics, including the guarded
// credit and completion updates.
type memoryStore struct {
	mu            sync.Mutex
	users         map[string]*services.User
	usersByEmail  map[string]string
	confirmTokens map[string]*services.ConfirmToken
	processes     map[string]*services.FeedbackProcess
	requests      map[string]*services.FeedbackRequest
	requestOrder  []string
	submissions   map[string]*services.FeedbackSubmission
	subOrder      []string
	themes        []*services.FeedbackTheme
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store { return newMemoryStore() }

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:         map[string]*services.User{},
		usersByEmail:  map[string]string{},
		confirmTokens: map[string]*services.ConfirmToken{},
		processes:     map[string]*services.FeedbackProcess{},
		requests:      map[string]*services.FeedbackRequest{},
		submissions:   map[string]*services.FeedbackSubmission{},
	}
}

// --- Users ---

func (m *memoryStore) AddUser(u *services.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByEmail[u.Email]; exists {
		return services.NewConflictError("email exists")
	}
	cp := *u
	m.users[u.ID] = &cp
	m.usersByEmail[u.Email] = u.ID
	return nil
}

func (m *memoryStore) FindUserByEmail(email string) (*services.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memoryStore) GetUser(id string) (*services.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memoryStore) ConfirmUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.Confirmed = true
	}
	return nil
}

func (m *memoryStore) UpdatePassword(userID string, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.PassHash = hash
	}
	return nil
}

func (m *memoryStore) GetCredits(userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u.Credits, nil
	}
	return 0, nil
}

// adjustCredits assumes the lock is held.
func (m *memoryStore) adjustCredits(userID string, delta int) error {
	u, ok := m.users[userID]
	if !ok || u.Credits+delta < 0 {
		return services.ErrInsufficientCredits
	}
	u.Credits += delta
	return nil
}

// --- Confirm tokens ---

func (m *memoryStore) AddConfirmToken(t *services.ConfirmToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.confirmTokens[t.Token] = &cp
	return nil
}

func (m *memoryStore) GetConfirmToken(token string) (*services.ConfirmToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.confirmTokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memoryStore) MarkConfirmTokenUsed(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.confirmTokens[token]; ok {
		t.Used = true
	}
	return nil
}

// --- Processes ---

func (m *memoryStore) CreateProcessWithRequests(p *services.FeedbackProcess, reqs []*services.FeedbackRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(reqs) > 0 {
		if err := m.adjustCredits(p.OwnerID, -len(reqs)); err != nil {
			return err
		}
	}
	cp := *p
	m.processes[p.ID] = &cp
	for _, r := range reqs {
		rc := *r
		m.requests[r.Token] = &rc
		m.requestOrder = append(m.requestOrder, r.Token)
	}
	return nil
}

func (m *memoryStore) GetProcess(id string) (*services.FeedbackProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memoryStore) ListProcessesByOwner(ownerID string) ([]*services.FeedbackProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*services.FeedbackProcess{}
	for _, p := range m.processes {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteProcessCascade(processID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[processID]
	if !ok {
		return 0, nil
	}
	refunded := 0
	if p.ReportText == "" {
		for _, tok := range m.requestOrder {
			r := m.requests[tok]
			if r != nil && r.ProcessID == processID && r.CompletedAt == nil {
				refunded++
			}
		}
		if refunded > 0 {
			if err := m.adjustCredits(p.OwnerID, refunded); err != nil {
				return 0, err
			}
		}
	}
	m.deleteProcessRows(processID)
	return refunded, nil
}

// deleteProcessRows assumes the lock is held.
func (m *memoryStore) deleteProcessRows(processID string) {
	delete(m.processes, processID)
	keepReqs := m.requestOrder[:0]
	for _, tok := range m.requestOrder {
		r := m.requests[tok]
		if r == nil {
			continue
		}
		if r.ProcessID == processID {
			delete(m.requests, tok)
			continue
		}
		keepReqs = append(keepReqs, tok)
	}
	m.requestOrder = keepReqs
	keepSubs := m.subOrder[:0]
	for _, id := range m.subOrder {
		sub := m.submissions[id]
		if sub == nil {
			continue
		}
		if sub.ProcessID == processID {
			delete(m.submissions, id)
			continue
		}
		keepSubs = append(keepSubs, id)
	}
	m.subOrder = keepSubs
	keepThemes := m.themes[:0]
	for _, t := range m.themes {
		if t.ProcessID != processID {
			keepThemes = append(keepThemes, t)
		}
	}
	m.themes = keepThemes
}

func (m *memoryStore) SaveReport(processID, prompt, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[processID]
	if !ok {
		return services.NewNotFoundError("process not found")
	}
	if p.ReportText != "" {
		return services.ErrAlreadyReported
	}
	p.ReportPrompt = prompt
	p.ReportText = text
	return nil
}

// --- Requests ---

func (m *memoryStore) GetRequest(token string) (*services.FeedbackRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[token]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memoryStore) ListRequestsByProcess(processID string) ([]*services.FeedbackRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*services.FeedbackRequest{}
	for _, tok := range m.requestOrder {
		if r := m.requests[tok]; r != nil && r.ProcessID == processID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) AddRequestWithDebit(ownerID string, req *services.FeedbackRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.adjustCredits(ownerID, -1); err != nil {
		return err
	}
	cp := *req
	m.requests[req.Token] = &cp
	m.requestOrder = append(m.requestOrder, req.Token)
	return nil
}

func (m *memoryStore) DeleteRequestCascade(token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[token]
	if !ok {
		return false, nil
	}
	refunded := false
	if p := m.processes[r.ProcessID]; p != nil {
		if p.ReportText == "" {
			if err := m.adjustCredits(p.OwnerID, 1); err != nil {
				return false, err
			}
			refunded = true
		}
		if r.CompletedAt != nil && p.FeedbackCount > 0 {
			p.FeedbackCount--
		}
	}
	delete(m.requests, token)
	keep := m.requestOrder[:0]
	for _, tok := range m.requestOrder {
		if tok != token {
			keep = append(keep, tok)
		}
	}
	m.requestOrder = keep
	for _, id := range m.subOrder {
		sub := m.submissions[id]
		if sub != nil && sub.RequestToken == token {
			m.deleteSubmission(id)
			break
		}
	}
	return refunded, nil
}

// deleteSubmission assumes the lock is held.
func (m *memoryStore) deleteSubmission(id string) {
	delete(m.submissions, id)
	keep := m.subOrder[:0]
	for _, sid := range m.subOrder {
		if sid != id {
			keep = append(keep, sid)
		}
	}
	m.subOrder = keep
	keepThemes := m.themes[:0]
	for _, t := range m.themes {
		if t.SubmissionID != id {
			keepThemes = append(keepThemes, t)
		}
	}
	m.themes = keepThemes
}

func (m *memoryStore) CountCompletedRequests(processID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tok := range m.requestOrder {
		if r := m.requests[tok]; r != nil && r.ProcessID == processID && r.CompletedAt != nil {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) MarkEmailSent(token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.requests[token]; ok {
		t := at
		r.EmailSentAt = &t
	}
	return nil
}

// --- Submissions ---

func (m *memoryStore) CompleteSubmission(sub *services.FeedbackSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[sub.RequestToken]
	if !ok {
		return services.NewNotFoundError("request not found")
	}
	if r.CompletedAt != nil {
		return services.ErrAlreadyCompleted
	}
	at := sub.CreatedAt
	r.CompletedAt = &at
	cp := *sub
	m.submissions[sub.ID] = &cp
	m.subOrder = append(m.subOrder, sub.ID)
	if p := m.processes[sub.ProcessID]; p != nil {
		p.FeedbackCount++
	}
	return nil
}

func (m *memoryStore) ListSubmissionsByProcess(processID string) ([]*services.FeedbackSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*services.FeedbackSubmission{}
	for _, id := range m.subOrder {
		if sub := m.submissions[id]; sub != nil && sub.ProcessID == processID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Themes ---

func (m *memoryStore) AddThemes(themes []*services.FeedbackTheme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range themes {
		cp := *t
		m.themes = append(m.themes, &cp)
	}
	return nil
}

func (m *memoryStore) ListThemesByProcess(processID string) ([]*services.FeedbackTheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*services.FeedbackTheme{}
	for _, t := range m.themes {
		if t.ProcessID == processID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
