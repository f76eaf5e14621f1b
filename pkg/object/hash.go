package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Hash domains. Every digest is computed over domain || 0x00 || payload so a
// structure hash can never collide with a mapping hash of the same bytes.
const (
	DomainStructure = "babel/structure/v1"
	DomainMapping   = "babel/mapping/v1"
)

// Algorithm names a digest algorithm. The name is part of the persisted
// layout (objects/<algorithm>/...), so values are stable identifiers.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// DefaultAlgorithm is used when a store does not name one.
const DefaultAlgorithm = SHA256

// ParseAlgorithm resolves a configured algorithm name. The empty string maps
// to DefaultAlgorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "":
		return DefaultAlgorithm, nil
	case SHA256, BLAKE2b:
		return Algorithm(name), nil
	}
	return "", fmt.Errorf("unknown digest algorithm %q", name)
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256, "":
		return sha256.New(), nil
	case BLAKE2b:
		return blake2b.New256(nil)
	}
	return nil, fmt.Errorf("unknown digest algorithm %q", string(a))
}

// Sum computes the domain-separated digest of data and returns it as a
// lowercase hex-encoded Hash.
func (a Algorithm) Sum(domain string, data []byte) (Hash, error) {
	h, err := a.newHash()
	if err != nil {
		return "", err
	}
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// HashMapping computes the content hash of a mapping variant payload.
func HashMapping(a Algorithm, m *Mapping) (Hash, error) {
	return a.Sum(DomainMapping, MarshalMapping(m))
}

// ValidateHash reports whether h is a well-formed 64-character lowercase hex
// digest.
func ValidateHash(h Hash) error {
	s := string(h)
	if len(s) != 64 {
		return fmt.Errorf("invalid hash %q: expected 64 hex characters", s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid hash %q: non-hex character at %d", s, i)
		}
	}
	return nil
}

// Short returns the abbreviated form used in human-facing output.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// ValidateLanguage checks a mapping language code. Codes become path
// components in the file layout, so only [A-Za-z0-9_-] is accepted and the
// names of the files stored beside them are reserved.
func ValidateLanguage(lang string) error {
	if lang == "" || len(lang) > 32 {
		return fmt.Errorf("invalid language %q: expected 1-32 characters", lang)
	}
	if lang == "object" || lang == "dependencies" {
		return fmt.Errorf("invalid language %q: reserved name", lang)
	}
	for i := 0; i < len(lang); i++ {
		c := lang[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("invalid language %q: character %q not allowed", lang, c)
		}
	}
	return nil
}
