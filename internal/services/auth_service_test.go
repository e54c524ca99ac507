package services

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type stubAuthStore struct {
	users  map[string]*User
	tokens map[string]*ConfirmToken
}

func newStubAuthStore() *stubAuthStore {
	return &stubAuthStore{users: map[string]*User{}, tokens: map[string]*ConfirmToken{}}
}

func (s *stubAuthStore) FindUserByEmail(email string) (*User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (s *stubAuthStore) AddUser(u *User) error {
	s.users[u.ID] = u
	return nil
}

func (s *stubAuthStore) GetUser(id string) (*User, error) { return s.users[id], nil }

func (s *stubAuthStore) ConfirmUser(id string) error {
	if u := s.users[id]; u != nil {
		u.Confirmed = true
	}
	return nil
}

func (s *stubAuthStore) UpdatePassword(userID string, hash []byte) error {
	if u := s.users[userID]; u != nil {
		u.PassHash = hash
	}
	return nil
}

func (s *stubAuthStore) AddConfirmToken(t *ConfirmToken) error {
	s.tokens[t.Token] = t
	return nil
}

func (s *stubAuthStore) GetConfirmToken(token string) (*ConfirmToken, error) {
	return s.tokens[token], nil
}

func (s *stubAuthStore) MarkConfirmTokenUsed(token string) error {
	if t := s.tokens[token]; t != nil {
		t.Used = true
	}
	return nil
}

type stubAccountMailer struct {
	confirmLinks []string
	resetLinks   []string
	ok           bool
}

func (m *stubAccountMailer) SendConfirmation(_, link, _ string) bool {
	m.confirmLinks = append(m.confirmLinks, link)
	return m.ok
}

func (m *stubAccountMailer) SendPasswordReset(_, link, _ string) bool {
	m.resetLinks = append(m.resetLinks, link)
	return m.ok
}

func testSigner(uid, _ string, _ time.Duration) (string, error) {
	return "jwt-for-" + uid, nil
}

func newTestAuthService(store *stubAuthStore, mailer *stubAccountMailer, devMode bool) *AuthService {
	svc := NewAuthService(store, mailer, testSigner, "https://feedback.test/", 5, devMode)
	svc.now = fixedTime
	n := 0
	svc.tokenGen = func() string { n++; return "confirm-token-" + strings.Repeat("x", n) }
	return svc
}

func TestRegisterDevMode(t *testing.T) {
	store := newStubAuthStore()
	mailer := &stubAccountMailer{ok: true}
	svc := newTestAuthService(store, mailer, true)

	u, err := svc.Register(RegisterInput{Email: "Jane@Example.com", Password: "secret123", FirstName: " Jane ", Company: "Acme"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if u.Email != "jane@example.com" {
		t.Fatalf("email = %q, want lowercased", u.Email)
	}
	if !u.Confirmed {
		t.Fatal("dev mode account not auto-confirmed")
	}
	if u.Credits != 5 {
		t.Fatalf("credits = %d, want starting 5", u.Credits)
	}
	if u.FirstName != "Jane" {
		t.Fatalf("first name = %q", u.FirstName)
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte("secret123")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
	if len(mailer.confirmLinks) != 0 {
		t.Fatal("confirmation mail sent in dev mode")
	}
}

func TestRegisterSendsConfirmation(t *testing.T) {
	store := newStubAuthStore()
	mailer := &stubAccountMailer{ok: true}
	svc := newTestAuthService(store, mailer, false)

	u, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if u.Confirmed {
		t.Fatal("account confirmed before email confirmation")
	}
	if len(mailer.confirmLinks) != 1 {
		t.Fatalf("confirmation mails = %d, want 1", len(mailer.confirmLinks))
	}
	link := mailer.confirmLinks[0]
	if !strings.HasPrefix(link, "https://feedback.test/confirm-email/") {
		t.Fatalf("confirm link = %q", link)
	}
	token := strings.TrimPrefix(link, "https://feedback.test/confirm-email/")
	if store.tokens[token] == nil || store.tokens[token].Purpose != PurposeConfirm {
		t.Fatalf("token %q not stored with confirm purpose", token)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestAuthService(newStubAuthStore(), nil, true)
	cases := []RegisterInput{
		{Email: "bad", Password: "secret123", FirstName: "Jane"},
		{Email: "jane@example.com", Password: "short", FirstName: "Jane"},
		{Email: "jane@example.com", Password: "secret123", FirstName: "  "},
	}
	for i, in := range cases {
		_, err := svc.Register(in)
		if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalid {
			t.Fatalf("case %d: expected invalid, got %v", i, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestAuthService(newStubAuthStore(), nil, true)
	if _, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(RegisterInput{Email: "JANE@example.com", Password: "secret123", FirstName: "Jane"})
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConfirmEmailSingleUse(t *testing.T) {
	store := newStubAuthStore()
	mailer := &stubAccountMailer{ok: true}
	svc := newTestAuthService(store, mailer, false)

	u, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := strings.TrimPrefix(mailer.confirmLinks[0], "https://feedback.test/confirm-email/")

	if err := svc.ConfirmEmail(token); err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	if !store.users[u.ID].Confirmed {
		t.Fatal("user not confirmed")
	}
	err = svc.ConfirmEmail(token)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid on reuse, got %v", err)
	}
}

func TestConfirmEmailExpiredToken(t *testing.T) {
	store := newStubAuthStore()
	mailer := &stubAccountMailer{ok: true}
	svc := newTestAuthService(store, mailer, false)

	if _, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := strings.TrimPrefix(mailer.confirmLinks[0], "https://feedback.test/confirm-email/")
	store.tokens[token].ExpiresAt = fixedTime().Add(-time.Minute)

	err := svc.ConfirmEmail(token)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid for expired token, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	store := newStubAuthStore()
	svc := newTestAuthService(store, nil, true)

	u, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := svc.Login("Jane@Example.com", "secret123")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if res.Token != "jwt-for-"+u.ID || res.UserID != u.ID {
		t.Fatalf("result = %+v", res)
	}

	_, err = svc.Login("jane@example.com", "wrongpass")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	_, err = svc.Login("nobody@example.com", "secret123")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}
}

func TestLoginUnconfirmed(t *testing.T) {
	store := newStubAuthStore()
	svc := newTestAuthService(store, &stubAccountMailer{ok: true}, false)

	if _, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Login("jane@example.com", "secret123")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	store := newStubAuthStore()
	mailer := &stubAccountMailer{ok: true}
	svc := newTestAuthService(store, mailer, true)

	if _, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Unknown emails succeed silently.
	if err := svc.RequestPasswordReset("nobody@example.com"); err != nil {
		t.Fatalf("reset for unknown email: %v", err)
	}
	if len(mailer.resetLinks) != 0 {
		t.Fatal("reset mail sent for unknown email")
	}

	if err := svc.RequestPasswordReset("jane@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if len(mailer.resetLinks) != 1 {
		t.Fatalf("reset mails = %d, want 1", len(mailer.resetLinks))
	}
	token := strings.TrimPrefix(mailer.resetLinks[0], "https://feedback.test/reset-password/")

	if err := svc.ResetPassword(token, "newsecret456"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.Login("jane@example.com", "newsecret456"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	_, err := svc.Login("jane@example.com", "secret123")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("old password still works: %v", err)
	}

	// A reset token cannot confirm an email and cannot be reused.
	if err := svc.ResetPassword(token, "anotherpass9"); err == nil {
		t.Fatal("reset token reused")
	}
}

func TestMe(t *testing.T) {
	store := newStubAuthStore()
	svc := newTestAuthService(store, nil, true)

	u, err := svc.Register(RegisterInput{Email: "jane@example.com", Password: "secret123", FirstName: "Jane"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := svc.Me(u.ID)
	if err != nil || got.ID != u.ID {
		t.Fatalf("Me = %+v, %v", got, err)
	}
	if _, err := svc.Me(""); err == nil {
		t.Fatal("empty user id accepted")
	}
	_, err = svc.Me("missing")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}
