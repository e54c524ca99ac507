package services

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// MagicToken returns a URL-safe token with n bytes of entropy.
func MagicToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Printf("magic token: %v", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// RequestIssuer mints feedback requests carrying unguessable magic-link
// tokens. Token and clock sources are injectable for tests.
type RequestIssuer struct {
	ttl      time.Duration
	now      func() time.Time
	tokenGen func() string
}

func NewRequestIssuer(ttl time.Duration) *RequestIssuer {
	return &RequestIssuer{
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		tokenGen: func() string { return MagicToken(32) },
	}
}

// Issue builds a pending request for one respondent. The role is fixed at
// creation and never changes afterwards.
func (i *RequestIssuer) Issue(processID, email string, role Role) *FeedbackRequest {
	return &FeedbackRequest{
		Token:     i.tokenGen(),
		ProcessID: processID,
		Email:     email,
		Role:      role,
		ExpiresAt: i.now().Add(i.ttl),
	}
}
