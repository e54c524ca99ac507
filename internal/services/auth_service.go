package services

import (
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type AuthStore interface {
	FindUserByEmail(email string) (*User, error)
	AddUser(u *User) error
	GetUser(id string) (*User, error)
	ConfirmUser(id string) error
	UpdatePassword(userID string, hash []byte) error
	AddConfirmToken(t *ConfirmToken) error
	GetConfirmToken(token string) (*ConfirmToken, error)
	MarkConfirmTokenUsed(token string) error
}

// AccountMailer delivers confirmation and password-reset links.
type AccountMailer interface {
	SendConfirmation(to, link, firstName string) bool
	SendPasswordReset(to, link, firstName string) bool
}

type TokenSigner func(uid, email string, ttl time.Duration) (string, error)

type AuthResult struct {
	Token  string
	UserID string
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	Company   string `json:"company"`
	Team      string `json:"team"`
}

// AuthService owns registration, email confirmation, login and password
// reset. New accounts start with a configured credit balance; in dev mode
// they are confirmed immediately instead of via email.
type AuthService struct {
	store           AuthStore
	mailer          AccountMailer
	signToken       TokenSigner
	now             func() time.Time
	idGen           func(prefix string, n int) string
	tokenGen        func() string
	baseURL         string
	startingCredits int
	devMode         bool
	tokenTTL        time.Duration
	confirmTTL      time.Duration
}

func NewAuthService(store AuthStore, mailer AccountMailer, signer TokenSigner, baseURL string, startingCredits int, devMode bool) *AuthService {
	return &AuthService{
		store:           store,
		mailer:          mailer,
		signToken:       signer,
		now:             func() time.Time { return time.Now().UTC() },
		idGen:           func(prefix string, n int) string { return prefix + shortID(n) },
		tokenGen:        func() string { return MagicToken(32) },
		baseURL:         strings.TrimRight(baseURL, "/"),
		startingCredits: startingCredits,
		devMode:         devMode,
		tokenTTL:        30 * 24 * time.Hour,
		confirmTTL:      48 * time.Hour,
	}
}

func (s *AuthService) Register(in RegisterInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !validEmail(email) {
		return nil, NewInvalidError("valid email required")
	}
	if len(in.Password) < 8 {
		return nil, NewInvalidError("password must be at least 8 characters")
	}
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, NewInvalidError("first name required")
	}
	existing, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("email exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:        s.idGen("u", 7),
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		Company:   strings.TrimSpace(in.Company),
		Team:      strings.TrimSpace(in.Team),
		PassHash:  hash,
		Confirmed: s.devMode,
		Credits:   s.startingCredits,
		CreatedAt: s.now(),
	}
	if err := s.store.AddUser(u); err != nil {
		return nil, err
	}
	if !s.devMode {
		if err := s.sendToken(u, PurposeConfirm); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (s *AuthService) sendToken(u *User, purpose string) error {
	ct := &ConfirmToken{
		Token:     s.tokenGen(),
		Email:     u.Email,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(s.confirmTTL),
	}
	if err := s.store.AddConfirmToken(ct); err != nil {
		return err
	}
	if s.mailer == nil {
		return nil
	}
	// Delivery failure is logged, not fatal: the token can be re-sent.
	switch purpose {
	case PurposeConfirm:
		if !s.mailer.SendConfirmation(u.Email, s.baseURL+"/confirm-email/"+ct.Token, u.FirstName) {
			log.Printf("confirmation email to %s failed", u.Email)
		}
	case PurposePasswordReset:
		if !s.mailer.SendPasswordReset(u.Email, s.baseURL+"/reset-password/"+ct.Token, u.FirstName) {
			log.Printf("password reset email to %s failed", u.Email)
		}
	}
	return nil
}

// ConfirmEmail redeems a single-use confirmation token.
func (s *AuthService) ConfirmEmail(token string) error {
	ct, err := s.useToken(token, PurposeConfirm)
	if err != nil {
		return err
	}
	u, err := s.store.FindUserByEmail(ct.Email)
	if err != nil {
		return err
	}
	if u == nil {
		return NewNotFoundError("account not found")
	}
	return s.store.ConfirmUser(u.ID)
}

func (s *AuthService) useToken(token, purpose string) (*ConfirmToken, error) {
	ct, err := s.store.GetConfirmToken(token)
	if err != nil {
		return nil, err
	}
	if ct == nil || ct.Purpose != purpose {
		return nil, NewNotFoundError("invalid token")
	}
	if ct.Used || s.now().After(ct.ExpiresAt) {
		return nil, NewInvalidError("token expired or already used")
	}
	if err := s.store.MarkConfirmTokenUsed(token); err != nil {
		return nil, err
	}
	return ct, nil
}

func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, NewInvalidError("email/password required")
	}
	u, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if !u.Confirmed {
		return nil, NewForbiddenError("email not confirmed")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: u.ID}, nil
}

// RequestPasswordReset issues a reset token. It succeeds silently for
// unknown emails so the endpoint cannot be used to probe accounts.
func (s *AuthService) RequestPasswordReset(email string) error {
	u, err := s.store.FindUserByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}
	return s.sendToken(u, PurposePasswordReset)
}

func (s *AuthService) ResetPassword(token, newPassword string) error {
	if len(newPassword) < 8 {
		return NewInvalidError("password must be at least 8 characters")
	}
	ct, err := s.useToken(token, PurposePasswordReset)
	if err != nil {
		return err
	}
	u, err := s.store.FindUserByEmail(ct.Email)
	if err != nil {
		return err
	}
	if u == nil {
		return NewNotFoundError("account not found")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(u.ID, hash)
}

// Me returns the authenticated user's profile.
func (s *AuthService) Me(userID string) (*User, error) {
	if userID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	u, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewNotFoundError("account not found")
	}
	return u, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
