// Package identity answers "who is looking at the book", which is all the
// depth engine needs from authentication.
package identity

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Provider returns the current viewer's id, or false when nobody is signed in.
type Provider interface {
	ViewerID() (string, bool)
}

type Anonymous struct{}

func (Anonymous) ViewerID() (string, bool) { return "", false }

// Static is a fixed viewer id, e.g. from config.
type Static string

func (s Static) ViewerID() (string, bool) {
	id := strings.TrimSpace(string(s))
	return id, id != ""
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Credentials is what a login leaves behind: the bearer token the backend
// issued, the user it belongs to and any session cookies.
type Credentials struct {
	Token     string         `json:"token"`
	User      User           `json:"user"`
	ExpiresAt time.Time      `json:"expires_at"`
	Cookies   []*http.Cookie `json:"cookies,omitempty"`
}

// Expired reports whether the token is past its expiry. A zero expiry never
// expires.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Session is the live viewer session. It is safe for concurrent use and can
// be replaced after a fresh login.
type Session struct {
	mu    sync.RWMutex
	creds Credentials
	now   func() time.Time
}

func NewSession(c Credentials) *Session {
	return &Session{creds: c, now: time.Now}
}

func (s *Session) Replace(c Credentials) {
	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
}

func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Token returns the bearer token, or "" when absent or expired.
func (s *Session) Token() string {
	c := s.Credentials()
	if c.Expired(s.now()) {
		return ""
	}
	return c.Token
}

// ViewerID is the signed-in user, unless the session has expired.
func (s *Session) ViewerID() (string, bool) {
	c := s.Credentials()
	if c.User.ID == "" || c.Expired(s.now()) {
		return "", false
	}
	return c.User.ID, true
}

func (s *Session) Cookies() []*http.Cookie {
	return s.Credentials().Cookies
}
