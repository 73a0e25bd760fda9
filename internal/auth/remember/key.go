package remember

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// KeySource lists the inputs used to resolve the signing key.
type KeySource struct {
	AppKey  string
	AppName string
	DBName  string
}

// ResolveKey returns the configured key, or a key derived from stable host
// identifiers when none is configured. A derived key is only as strong as
// those identifiers, so it is logged as a warning.
func ResolveKey(src KeySource, log *zap.Logger) ([]byte, error) {
	if key := decodeAppKey(src.AppKey); key != nil {
		if len(key) < MinKeyLength {
			return nil, fmt.Errorf("APP_KEY must be at least %d bytes, got %d", MinKeyLength, len(key))
		}
		return key, nil
	}

	host, _ := os.Hostname()
	sum := sha256.Sum256([]byte(strings.Join([]string{salt, host, src.DBName, src.AppName}, "|")))
	if log != nil {
		log.Warn("APP_KEY not set; remember tokens are signed with a host-derived key")
	}
	return sum[:], nil
}

// decodeAppKey accepts a raw key or a "base64:" prefixed one.
func decodeAppKey(raw string) []byte {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if encoded, ok := strings.CutPrefix(raw, "base64:"); ok {
		if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			return decoded
		}
	}
	return []byte(raw)
}
