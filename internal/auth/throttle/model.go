package throttle

import (
	"net/netip"
	"strings"
	"time"
)

// LoginAttempt is one submitted login. Rows are append-only and age out of
// the counting window; they are never updated.
type LoginAttempt struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	OriginAddress []byte    `gorm:"column:origin_address;size:16"`
	Identity      string    `gorm:"type:varchar(255);not null;index"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

func (LoginAttempt) TableName() string { return "login_attempts" }

// IdentityKey is the form under which attempts are recorded, counted and
// locked. Credential lookup matches email without regard to case, so the
// throttle must fold case too or each variant would get its own allowance.
func IdentityKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// EncodeOrigin converts a client address to its 16-byte form. IPv4 addresses
// are stored IPv4-mapped. Unparseable or empty input yields nil.
func EncodeOrigin(raw string) []byte {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return nil
	}
	b := addr.As16()
	return b[:]
}
