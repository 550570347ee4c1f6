// Package authn implements credential verification (spec §4.4), role
// lookup, and per-user connection/bandwidth limits (spec §3 User, §5
// "Shared resources"). Password hashing uses Argon2id in place of the
// teacher's bcrypt (cmd/usermgr uses golang.org/x/crypto/bcrypt) because
// spec §3 specifies Argon2id explicitly; golang.org/x/crypto already
// ships both under the same module the teacher depends on.
package authn

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2Params are deliberately conservative defaults suitable for an
// interactive login path; CLI-driven bulk imports may want cheaper
// params, but spec doesn't distinguish so renews uses one profile.
type argon2Params struct {
	memoryKiB  uint32
	iterations uint32
	threads    uint8
	saltLen    uint32
	keyLen     uint32
}

var defaultParams = argon2Params{
	memoryKiB:  64 * 1024,
	iterations: 3,
	threads:    2,
	saltLen:    16,
	keyLen:     32,
}

// HashPassword returns a PHC-style encoded Argon2id hash suitable for
// storage in User.PasswordHash.
func HashPassword(password string) (string, error) {
	salt := make([]byte, defaultParams.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("authn: generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, defaultParams.iterations, defaultParams.memoryKiB, defaultParams.threads, defaultParams.keyLen)
	return encode(salt, hash, defaultParams), nil
}

// VerifyPassword checks password against an encoded hash, comparing the
// derived key with the stored one in constant time. A stored hash that
// fails to decode returns false at once, without deriving a key.
func VerifyPassword(password, encoded string) bool {
	p, salt, want, err := decode(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, p.iterations, p.memoryKiB, p.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func encode(salt, hash []byte, p argon2Params) string {
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.memoryKiB, p.iterations, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

func decode(encoded string) (argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Params{}, nil, nil, fmt.Errorf("authn: unrecognized hash format")
	}
	var p argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memoryKiB, &p.iterations, &p.threads); err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("authn: malformed params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("authn: malformed salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("authn: malformed hash: %w", err)
	}
	return p, salt, hash, nil
}
