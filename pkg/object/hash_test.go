package object

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

// rawHash is the undomained SHA-256 digest of data.
func rawHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

func TestAlgorithmSumDeterminism(t *testing.T) {
	data := []byte("hello world")
	for _, alg := range []Algorithm{SHA256, BLAKE2b} {
		h1, err := alg.Sum(DomainStructure, data)
		if err != nil {
			t.Fatalf("%s Sum: %v", alg, err)
		}
		h2, _ := alg.Sum(DomainStructure, data)
		if h1 != h2 {
			t.Errorf("%s not deterministic: %q != %q", alg, h1, h2)
		}
		if len(h1) != 64 {
			t.Errorf("%s hash length: got %d, want 64", alg, len(h1))
		}
	}
}

func TestAlgorithmSumDomainSeparation(t *testing.T) {
	data := []byte("payload")
	for _, alg := range []Algorithm{SHA256, BLAKE2b} {
		s, err := alg.Sum(DomainStructure, data)
		if err != nil {
			t.Fatalf("%s Sum: %v", alg, err)
		}
		m, err := alg.Sum(DomainMapping, data)
		if err != nil {
			t.Fatalf("%s Sum: %v", alg, err)
		}
		if s == m {
			t.Errorf("%s: structure and mapping domains collide", alg)
		}
		if err := ValidateHash(s); err != nil {
			t.Errorf("%s: %v", alg, err)
		}
	}
	a, _ := SHA256.Sum(DomainStructure, data)
	b, _ := BLAKE2b.Sum(DomainStructure, data)
	if a == b {
		t.Error("sha256 and blake2b produced the same digest")
	}
	if a == rawHash(data) {
		t.Error("domain-separated hash equals the raw digest")
	}
}

func TestParseAlgorithm(t *testing.T) {
	if alg, err := ParseAlgorithm(""); err != nil || alg != SHA256 {
		t.Errorf("ParseAlgorithm(\"\"): got %q, %v", alg, err)
	}
	if alg, err := ParseAlgorithm("blake2b"); err != nil || alg != BLAKE2b {
		t.Errorf("ParseAlgorithm(blake2b): got %q, %v", alg, err)
	}
	if _, err := ParseAlgorithm("md5"); err == nil {
		t.Error("expected error for md5")
	}
	if _, err := Algorithm("md5").Sum(DomainStructure, nil); err == nil {
		t.Error("expected Sum error for unknown algorithm")
	}
}

func TestValidateHash(t *testing.T) {
	good := Hash(strings.Repeat("a1", 32))
	if err := ValidateHash(good); err != nil {
		t.Errorf("ValidateHash(good): %v", err)
	}
	for _, bad := range []Hash{"", "abc", Hash(strings.Repeat("A1", 32)), Hash(strings.Repeat("g1", 32))} {
		if err := ValidateHash(bad); err == nil {
			t.Errorf("ValidateHash(%q): expected error", bad)
		}
	}
}

func TestHashMappingIgnoresMapOrder(t *testing.T) {
	m1 := &Mapping{Names: map[string]string{"_v_0": "f", "_v_1": "x"}}
	m2 := &Mapping{Names: map[string]string{"_v_1": "x", "_v_0": "f"}}
	h1, err := HashMapping(SHA256, m1)
	if err != nil {
		t.Fatalf("HashMapping: %v", err)
	}
	h2, _ := HashMapping(SHA256, m2)
	if h1 != h2 {
		t.Error("equal mappings hashed differently")
	}
	m2.Docstring = "doc"
	h3, _ := HashMapping(SHA256, m2)
	if h3 == h1 {
		t.Error("different mappings hashed identically")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &HashMismatchError{Expected: "a", Actual: "b"}
	if !errors.Is(err, ErrHashMismatch) {
		t.Error("HashMismatchError should match ErrHashMismatch")
	}
	cause := errors.New("disk on fire")
	err = &MigrationError{Failures: []ObjectFailure{{Hash: "abc", Err: cause}}}
	if !errors.Is(err, ErrMigrationPartialFailure) {
		t.Error("MigrationError should match ErrMigrationPartialFailure")
	}
	if !errors.Is(err, cause) {
		t.Error("MigrationError should unwrap to its failures")
	}
}

func TestValidateLanguage(t *testing.T) {
	for _, ok := range []string{"eng", "fra", "zh-Hans", "x_1"} {
		if err := ValidateLanguage(ok); err != nil {
			t.Errorf("ValidateLanguage(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "../x", "a/b", "a b", "object", strings.Repeat("x", 33)} {
		if err := ValidateLanguage(bad); err == nil {
			t.Errorf("ValidateLanguage(%q): expected error", bad)
		}
	}
}
