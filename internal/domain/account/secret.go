package account

import (
	"errors"
	"unicode/utf8"
)

var ErrSecretConsumed = errors.New("plaintext secret already consumed")

// Secret holds a plaintext password between submission and hashing.
// Consume hands the value out exactly once and wipes it; a second read
// is a programming error, not an empty string.
type Secret struct {
	value    string
	consumed bool
}

func NewSecret(plain string) *Secret {
	return &Secret{value: plain}
}

func (s *Secret) Consume() (string, error) {
	if s == nil || s.consumed {
		return "", ErrSecretConsumed
	}

	v := s.value
	s.value = ""
	s.consumed = true

	return v, nil
}

// Consumed reports whether the plaintext has been wiped.
func (s *Secret) Consumed() bool {
	return s == nil || s.consumed
}

// Len counts characters, not bytes, so the length rules agree with the
// username rule for multibyte input. Validation only; it does not
// expose the value.
func (s *Secret) Len() int {
	if s == nil || s.consumed {
		return 0
	}
	return utf8.RuneCountInString(s.value)
}

// IsBlank reports whether the secret is empty or whitespace only.
func (s *Secret) IsBlank() bool {
	if s == nil || s.consumed {
		return true
	}

	for _, r := range s.value {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}

	return true
}
