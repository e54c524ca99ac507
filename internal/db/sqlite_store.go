package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/feedbacktome/feedbacktome/internal/services"
)

// SQLiteStore persists the feedback domain in SQLite. Every multi-row
// mutation runs in a single transaction; credit mutations use a guarded
// UPDATE so a balance can never go negative under concurrency.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		log.Printf("sqlite store: %s: %v", prefix, err)
	}
}

func (s *SQLiteStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.logErr("rollback", rerr)
		}
		return err
	}
	return tx.Commit()
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodeQualities(qs []string) (string, error) {
	b, err := json.Marshal(qs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeQualities(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("sqlite store: decode qualities: %v", err)
		return nil
	}
	return out
}

func encodeRatings(r map[string]int) (string, error) {
	if r == nil {
		r = map[string]int{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRatings(raw string) map[string]int {
	out := map[string]int{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("sqlite store: decode ratings: %v", err)
	}
	return out
}

// adjustCreditsTx applies a guarded credit delta inside an open transaction.
func adjustCreditsTx(tx *sql.Tx, userID string, delta int) error {
	res, err := tx.Exec(`UPDATE users SET credits = credits + ? WHERE id = ? AND credits + ? >= 0`, delta, userID, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return services.ErrInsufficientCredits
	}
	return nil
}

// --- Users ---

func (s *SQLiteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, email, first_name, company, team, pass_hash, confirmed, credits, created_at)
      VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.FirstName, u.Company, u.Team, u.PassHash, boolToInt(u.Confirmed), u.Credits, fmtTime(u.CreatedAt))
	return err
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*services.User, error) {
	var u services.User
	var confirmed int
	var created string
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.Company, &u.Team, &u.PassHash, &confirmed, &u.Credits, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Confirmed = confirmed != 0
	u.CreatedAt = parseTime(created)
	return &u, nil
}

const userCols = `id, email, first_name, company, team, pass_hash, confirmed, credits, created_at`

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) GetUser(id string) (*services.User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) ConfirmUser(id string) error {
	_, err := s.db.Exec(`UPDATE users SET confirmed = 1 WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) UpdatePassword(userID string, hash []byte) error {
	_, err := s.db.Exec(`UPDATE users SET pass_hash = ? WHERE id = ?`, hash, userID)
	return err
}

func (s *SQLiteStore) GetCredits(userID string) (int, error) {
	var credits int
	err := s.db.QueryRow(`SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return credits, err
}

// --- Confirm tokens ---

func (s *SQLiteStore) AddConfirmToken(t *services.ConfirmToken) error {
	_, err := s.db.Exec(`INSERT INTO confirm_tokens (token, email, purpose, expires_at, used) VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.Email, t.Purpose, fmtTime(t.ExpiresAt), boolToInt(t.Used))
	return err
}

func (s *SQLiteStore) GetConfirmToken(token string) (*services.ConfirmToken, error) {
	var ct services.ConfirmToken
	var expires string
	var used int
	err := s.db.QueryRow(`SELECT token, email, purpose, expires_at, used FROM confirm_tokens WHERE token = ?`, token).
		Scan(&ct.Token, &ct.Email, &ct.Purpose, &expires, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ct.ExpiresAt = parseTime(expires)
	ct.Used = used != 0
	return &ct, nil
}

func (s *SQLiteStore) MarkConfirmTokenUsed(token string) error {
	_, err := s.db.Exec(`UPDATE confirm_tokens SET used = 1 WHERE token = ?`, token)
	return err
}

// --- Processes ---

func insertRequestTx(tx *sql.Tx, r *services.FeedbackRequest) error {
	_, err := tx.Exec(`INSERT INTO feedback_requests (token, process_id, email, role, expires_at, email_sent_at, completed_at)
      VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Token, r.ProcessID, r.Email, string(r.Role), fmtTime(r.ExpiresAt), fmtNullTime(r.EmailSentAt), fmtNullTime(r.CompletedAt))
	return err
}

// CreateProcessWithRequests debits one credit per request and writes the
// process and its requests atomically.
func (s *SQLiteStore) CreateProcessWithRequests(p *services.FeedbackProcess, reqs []*services.FeedbackRequest) error {
	qualities, err := encodeQualities(p.Qualities)
	if err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		if len(reqs) > 0 {
			if err := adjustCreditsTx(tx, p.OwnerID, -len(reqs)); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`INSERT INTO feedback_processes (id, owner_id, title, qualities, min_submissions, feedback_count, created_at)
          VALUES (?, ?, ?, ?, ?, 0, ?)`,
			p.ID, p.OwnerID, p.Title, qualities, p.MinSubmissionsRequired, fmtTime(p.CreatedAt))
		if err != nil {
			return err
		}
		for _, r := range reqs {
			if err := insertRequestTx(tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

const processCols = `id, owner_id, title, qualities, min_submissions, feedback_count, report_prompt, report_text, created_at`

func scanProcess(scan func(dest ...any) error) (*services.FeedbackProcess, error) {
	var p services.FeedbackProcess
	var qualities, created string
	var prompt, report sql.NullString
	err := scan(&p.ID, &p.OwnerID, &p.Title, &qualities, &p.MinSubmissionsRequired, &p.FeedbackCount, &prompt, &report, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Qualities = decodeQualities(qualities)
	p.ReportPrompt = prompt.String
	p.ReportText = report.String
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func (s *SQLiteStore) GetProcess(id string) (*services.FeedbackProcess, error) {
	row := s.db.QueryRow(`SELECT `+processCols+` FROM feedback_processes WHERE id = ?`, id)
	return scanProcess(row.Scan)
}

func (s *SQLiteStore) ListProcessesByOwner(ownerID string) ([]*services.FeedbackProcess, error) {
	rows, err := s.db.Query(`SELECT `+processCols+` FROM feedback_processes WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr("ListProcessesByOwner: rows.Close", cerr)
		}
	}()
	out := []*services.FeedbackProcess{}
	for rows.Next() {
		p, err := scanProcess(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProcessCascade removes the process and everything under it. While no
// report exists, one credit per pending request is refunded in the same
// transaction.
func (s *SQLiteStore) DeleteProcessCascade(processID string) (int, error) {
	refunded := 0
	err := s.withTx(func(tx *sql.Tx) error {
		var ownerID string
		var report sql.NullString
		err := tx.QueryRow(`SELECT owner_id, report_text FROM feedback_processes WHERE id = ?`, processID).Scan(&ownerID, &report)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if !report.Valid {
			pending := 0
			if err := tx.QueryRow(`SELECT COUNT(*) FROM feedback_requests WHERE process_id = ? AND completed_at IS NULL`, processID).Scan(&pending); err != nil {
				return err
			}
			if pending > 0 {
				if err := adjustCreditsTx(tx, ownerID, pending); err != nil {
					return err
				}
				refunded = pending
			}
		}
		_, err = tx.Exec(`DELETE FROM feedback_processes WHERE id = ?`, processID)
		return err
	})
	return refunded, err
}

// SaveReport persists the report exactly once; a second writer gets
// ErrAlreadyReported instead of overwriting.
func (s *SQLiteStore) SaveReport(processID, prompt, text string) error {
	res, err := s.db.Exec(`UPDATE feedback_processes SET report_prompt = ?, report_text = ? WHERE id = ? AND report_text IS NULL`,
		toNullString(prompt), text, processID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return services.ErrAlreadyReported
	}
	return nil
}

// --- Requests ---

const requestCols = `token, process_id, email, role, expires_at, email_sent_at, completed_at`

func scanRequest(scan func(dest ...any) error) (*services.FeedbackRequest, error) {
	var r services.FeedbackRequest
	var role, expires string
	var sent, completed sql.NullString
	err := scan(&r.Token, &r.ProcessID, &r.Email, &role, &expires, &sent, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Role = services.Role(role)
	r.ExpiresAt = parseTime(expires)
	r.EmailSentAt = parseNullTime(sent)
	r.CompletedAt = parseNullTime(completed)
	return &r, nil
}

func (s *SQLiteStore) GetRequest(token string) (*services.FeedbackRequest, error) {
	row := s.db.QueryRow(`SELECT `+requestCols+` FROM feedback_requests WHERE token = ?`, token)
	return scanRequest(row.Scan)
}

func (s *SQLiteStore) ListRequestsByProcess(processID string) ([]*services.FeedbackRequest, error) {
	rows, err := s.db.Query(`SELECT `+requestCols+` FROM feedback_requests WHERE process_id = ? ORDER BY rowid ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr("ListRequestsByProcess: rows.Close", cerr)
		}
	}()
	out := []*services.FeedbackRequest{}
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddRequestWithDebit debits one credit and inserts the request atomically.
func (s *SQLiteStore) AddRequestWithDebit(ownerID string, req *services.FeedbackRequest) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := adjustCreditsTx(tx, ownerID, -1); err != nil {
			return err
		}
		return insertRequestTx(tx, req)
	})
}

// DeleteRequestCascade removes a request together with its submission and
// themes. One credit goes back to the owner while no report exists.
func (s *SQLiteStore) DeleteRequestCascade(token string) (bool, error) {
	refunded := false
	err := s.withTx(func(tx *sql.Tx) error {
		var processID string
		var completed sql.NullString
		err := tx.QueryRow(`SELECT process_id, completed_at FROM feedback_requests WHERE token = ?`, token).Scan(&processID, &completed)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		var ownerID string
		var report sql.NullString
		if err := tx.QueryRow(`SELECT owner_id, report_text FROM feedback_processes WHERE id = ?`, processID).Scan(&ownerID, &report); err != nil {
			return err
		}
		if !report.Valid {
			if err := adjustCreditsTx(tx, ownerID, 1); err != nil {
				return err
			}
			refunded = true
		}
		if completed.Valid {
			if _, err := tx.Exec(`UPDATE feedback_processes SET feedback_count = feedback_count - 1 WHERE id = ? AND feedback_count > 0`, processID); err != nil {
				return err
			}
		}
		_, err = tx.Exec(`DELETE FROM feedback_requests WHERE token = ?`, token)
		return err
	})
	return refunded, err
}

func (s *SQLiteStore) CountCompletedRequests(processID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM feedback_requests WHERE process_id = ? AND completed_at IS NOT NULL`, processID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) MarkEmailSent(token string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE feedback_requests SET email_sent_at = ? WHERE token = ?`, fmtTime(at), token)
	return err
}

// --- Submissions ---

// CompleteSubmission marks the request completed, inserts the submission and
// bumps the cached counter in one transaction. The guarded UPDATE on
// completed_at makes completion idempotent under concurrent submits.
func (s *SQLiteStore) CompleteSubmission(sub *services.FeedbackSubmission) error {
	ratings, err := encodeRatings(sub.Ratings)
	if err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE feedback_requests SET completed_at = ? WHERE token = ? AND completed_at IS NULL`,
			fmtTime(sub.CreatedAt), sub.RequestToken)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return services.ErrAlreadyCompleted
		}
		if _, err := tx.Exec(`INSERT INTO feedback_submissions (id, request_token, process_id, ratings, feedback_text, created_at)
          VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.RequestToken, sub.ProcessID, ratings, sub.FeedbackText, fmtTime(sub.CreatedAt)); err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE feedback_processes SET feedback_count = feedback_count + 1 WHERE id = ?`, sub.ProcessID)
		return err
	})
}

func (s *SQLiteStore) ListSubmissionsByProcess(processID string) ([]*services.FeedbackSubmission, error) {
	rows, err := s.db.Query(`SELECT id, request_token, process_id, ratings, feedback_text, created_at
      FROM feedback_submissions WHERE process_id = ? ORDER BY created_at ASC, id ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr("ListSubmissionsByProcess: rows.Close", cerr)
		}
	}()
	out := []*services.FeedbackSubmission{}
	for rows.Next() {
		var sub services.FeedbackSubmission
		var ratings, created string
		if err := rows.Scan(&sub.ID, &sub.RequestToken, &sub.ProcessID, &ratings, &sub.FeedbackText, &created); err != nil {
			return nil, err
		}
		sub.Ratings = decodeRatings(ratings)
		sub.CreatedAt = parseTime(created)
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// --- Themes ---

func (s *SQLiteStore) AddThemes(themes []*services.FeedbackTheme) error {
	if len(themes) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		for _, t := range themes {
			if _, err := tx.Exec(`INSERT INTO feedback_themes (id, submission_id, process_id, theme, sentiment, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`,
				t.ID, t.SubmissionID, t.ProcessID, t.Theme, string(t.Sentiment), fmtTime(t.CreatedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListThemesByProcess(processID string) ([]*services.FeedbackTheme, error) {
	rows, err := s.db.Query(`SELECT id, submission_id, process_id, theme, sentiment, created_at
      FROM feedback_themes WHERE process_id = ? ORDER BY created_at ASC, rowid ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logErr("ListThemesByProcess: rows.Close", cerr)
		}
	}()
	out := []*services.FeedbackTheme{}
	for rows.Next() {
		var t services.FeedbackTheme
		var sentiment, created string
		if err := rows.Scan(&t.ID, &t.SubmissionID, &t.ProcessID, &t.Theme, &sentiment, &created); err != nil {
			return nil, err
		}
		t.Sentiment = services.Sentiment(sentiment)
		t.CreatedAt = parseTime(created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
