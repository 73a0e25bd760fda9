// Package remember signs and verifies the remember-me cookie token.
//
// A token is base64url(JSON{uid,org,exp}) + "." + base64url(HMAC-SHA256).
// The MAC covers a fixed purpose salt joined to the encoded payload, so a
// signature minted for another artifact under the same key never verifies here.
package remember

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	"github.com/smallbiznis/tenantauth/internal/clock"
)

const salt = "tenantauth.remember.v1"

// MinKeyLength is the shortest configured key accepted for signing.
const MinKeyLength = 32

var encoding = base64.RawURLEncoding

// Token is the decoded remember-me payload.
type Token struct {
	UserID    int64
	OrgSlug   string
	ExpiresAt time.Time
}

type payload struct {
	UID *int64  `json:"uid"`
	Org *string `json:"org"`
	Exp *int64  `json:"exp"`
}

// Codec encodes and decodes remember tokens with a single key.
type Codec struct {
	key   []byte
	clock clock.Clock
}

func NewCodec(key []byte, clk clock.Clock) *Codec {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Codec{key: append([]byte(nil), key...), clock: clk}
}

// Encode mints a token for userID in orgSlug that expires ttlDays from now.
func (c *Codec) Encode(userID int64, orgSlug string, ttlDays int) (string, error) {
	if userID <= 0 || strings.TrimSpace(orgSlug) == "" {
		return "", errors.New("remember token requires a user and organization")
	}
	if ttlDays <= 0 {
		return "", errors.New("remember token ttl must be positive")
	}

	exp := c.clock.Now().Add(time.Duration(ttlDays) * 24 * time.Hour).Unix()
	raw, err := json.Marshal(payload{UID: &userID, Org: &orgSlug, Exp: &exp})
	if err != nil {
		return "", err
	}

	body := encoding.EncodeToString(raw)
	return body + "." + encoding.EncodeToString(c.sign(body)), nil
}

// Decode verifies token and returns its payload. Every failure is reported as
// domain.ErrInvalidToken so callers cannot tell a bad MAC from an expiry.
func (c *Codec) Decode(token string) (Token, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Token{}, domain.ErrInvalidToken
	}

	raw, err := encoding.Strict().DecodeString(parts[0])
	if err != nil {
		return Token{}, domain.ErrInvalidToken
	}
	mac, err := encoding.Strict().DecodeString(parts[1])
	if err != nil {
		return Token{}, domain.ErrInvalidToken
	}
	if !hmac.Equal(mac, c.sign(parts[0])) {
		return Token{}, domain.ErrInvalidToken
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Token{}, domain.ErrInvalidToken
	}
	if p.UID == nil || *p.UID <= 0 || p.Org == nil || strings.TrimSpace(*p.Org) == "" || p.Exp == nil {
		return Token{}, domain.ErrInvalidToken
	}
	if *p.Exp < c.clock.Now().Unix() {
		return Token{}, domain.ErrInvalidToken
	}

	return Token{
		UserID:    *p.UID,
		OrgSlug:   *p.Org,
		ExpiresAt: time.Unix(*p.Exp, 0).UTC(),
	}, nil
}

func (c *Codec) sign(body string) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(salt))
	h.Write([]byte("."))
	h.Write([]byte(body))
	return h.Sum(nil)
}
