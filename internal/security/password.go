package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/avoronova/accounthub/internal/domain/account"
	"golang.org/x/crypto/argon2"
)

// ErrUnsupportedAlgorithm means the configured algorithm tag is not in
// the supported set. This is an operator error, never a field error.
var ErrUnsupportedAlgorithm = errors.New("unsupported credential algorithm")

var ErrInvalidCredential = errors.New("invalid credential encoding")

type argonParams struct {
	memory      uint32 // KiB
	iterations  uint32
	parallelism uint8
	saltLen     uint32
	keyLen      uint32
}

// OWASP-recommended interactive login parameters.
var defaultArgonParams = argonParams{
	memory:      64 * 1024,
	iterations:  3,
	parallelism: 2,
	saltLen:     16,
	keyLen:      32,
}

// HashPassword turns a plaintext into a self-describing encoded
// credential using the given algorithm tag.
func HashPassword(plain string, algo account.Algorithm) (string, error) {
	if !algo.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algo)
	}

	p := defaultArgonParams

	salt := make([]byte, p.saltLen)

	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, p.iterations, p.memory, p.parallelism, p.keyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.memory,
		p.iterations,
		p.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// CheckPassword compares an encoded credential with a plaintext.
// The parameters come from the credential itself, so old hashes keep
// verifying after a parameter bump.
func CheckPassword(encoded, plain string) error {
	p, salt, key, err := decodeCredential(encoded)

	if err != nil {
		return err
	}

	computed := argon2.IDKey([]byte(plain), salt, p.iterations, p.memory, p.parallelism, p.keyLen)

	if subtle.ConstantTimeCompare(key, computed) != 1 {
		return errors.New("credential mismatch")
	}

	return nil
}

func decodeCredential(encoded string) (argonParams, []byte, []byte, error) {
	var p argonParams

	parts := strings.Split(encoded, "$")

	if len(parts) != 6 {
		return p, nil, nil, ErrInvalidCredential
	}

	if parts[1] != string(account.AlgorithmArgon2id) {
		return p, nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, parts[1])
	}

	var version int

	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrInvalidCredential
	}

	var par int

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &par); err != nil {
		return p, nil, nil, ErrInvalidCredential
	}

	p.parallelism = uint8(par)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])

	if err != nil {
		return p, nil, nil, ErrInvalidCredential
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])

	if err != nil {
		return p, nil, nil, ErrInvalidCredential
	}

	p.keyLen = uint32(len(key))

	return p, salt, key, nil
}
