package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// argonParams are the cost settings carried in an encoded Argon2id hash.
type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

// New credentials are hashed with these; stored hashes keep their own.
var current = argonParams{memory: 64 * 1024, time: 1, threads: 4}

const (
	saltBytes = 16
	keyBytes  = 32
)

var b64 = base64.RawStdEncoding

// Hash returns an encoded Argon2id hash for new credentials.
func Hash(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password salt: %w", err)
	}
	key := current.derive(password, salt, keyBytes)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, current.memory, current.time, current.threads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify checks password against an encoded Argon2id or bcrypt hash. Seeds
// and imported accounts may still carry bcrypt.
func Verify(password, encoded string) bool {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "$argon2id$") {
		return verifyArgon2id(password, encoded)
	}
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}
	return false
}

// decoy is verified against when no account matched, so an unknown login
// costs the same as a wrong password.
var decoy = func() string {
	encoded, err := Hash("tenantauth-decoy")
	if err != nil {
		panic(err)
	}
	return encoded
}()

// VerifyDummy burns one Argon2id verification and always reports false.
func VerifyDummy(password string) bool {
	_ = verifyArgon2id(password, decoy)
	return false
}

func isBcrypt(encoded string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, prefix) {
			return true
		}
	}
	return false
}

func (p argonParams) derive(password string, salt []byte, size uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, size)
}

// verifyArgon2id accepts $argon2id$v=19$m=..,t=..,p=..$salt$key.
func verifyArgon2id(password, encoded string) bool {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var p argonParams
	if n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil || n != 3 {
		return false
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return false
	}

	salt, err := b64.DecodeString(fields[4])
	if err != nil {
		return false
	}
	want, err := b64.DecodeString(fields[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got := p.derive(password, salt, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1
}
