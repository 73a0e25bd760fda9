// Package session keeps server-side session state behind an explicit Store.
package session

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/smallbiznis/tenantauth/internal/auth/domain"
)

const idBytes = 32

// Data is the persisted session payload.
type Data struct {
	Principal *domain.Principal `json:"principal,omitempty"`
	CSRF      map[string]string `json:"csrf,omitempty"`
	Flash     string            `json:"flash,omitempty"`
}

// Session is the per-request view of the stored payload. Mutations are kept
// in memory until Manager.Commit persists them.
type Session struct {
	id      string
	data    Data
	retired []string
}

func newSession(id string, data Data) *Session {
	if data.CSRF == nil {
		data.CSRF = map[string]string{}
	}
	return &Session{id: id, data: data}
}

// New starts an empty, unsaved session with a fresh id.
func New() (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	return newSession(id, Data{}), nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Principal() (domain.Principal, bool) {
	if s.data.Principal == nil {
		return domain.Principal{}, false
	}
	return *s.data.Principal, true
}

func (s *Session) SetPrincipal(p domain.Principal) {
	s.data.Principal = &p
}

func (s *Session) ClearPrincipal() {
	s.data.Principal = nil
}

// CSRFSecret returns the secret held for namespace.
func (s *Session) CSRFSecret(namespace string) string {
	return s.data.CSRF[namespace]
}

func (s *Session) SetCSRFSecret(namespace, secret string) {
	s.data.CSRF[namespace] = secret
}

func (s *Session) SetFlash(msg string) {
	s.data.Flash = msg
}

// PopFlash returns the pending flash message and clears it.
func (s *Session) PopFlash() string {
	msg := s.data.Flash
	s.data.Flash = ""
	return msg
}

// RegenerateID moves the payload to a new id. The old record is deleted on commit.
func (s *Session) RegenerateID() error {
	id, err := newID()
	if err != nil {
		return err
	}
	s.retired = append(s.retired, s.id)
	s.id = id
	return nil
}

// Destroy drops the payload and continues under a new empty session.
func (s *Session) Destroy() error {
	if err := s.RegenerateID(); err != nil {
		return err
	}
	s.data = Data{CSRF: map[string]string{}}
	return nil
}

func newID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
