package auth

import (
	"errors"
	"strings"
	"testing"
)

// cheap keeps the test suite fast; the format is the same.
var cheap = Params{Time: 1, Memory: 8 * 1024, Threads: 1}

func TestHash_Format(t *testing.T) {
	t.Parallel()

	hash, err := NewHasher(Params{}).Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("Hash should have 6 parts, got: %d", len(parts))
	}
	if parts[1] != "argon2id" || parts[2] != "v=19" {
		t.Errorf("unexpected prefix: %s", hash)
	}
	if parts[3] != "m=65536,t=3,p=4" {
		t.Errorf("Expected default params m=65536,t=3,p=4, got: %s", parts[3])
	}
}

func TestHash_Uniqueness(t *testing.T) {
	t.Parallel()
	h := NewHasher(cheap)

	hash1, _ := h.Hash("the_same_password")
	hash2, _ := h.Hash("the_same_password")
	if hash1 == hash2 {
		t.Error("Same password should produce different hashes due to random salt")
	}

	for _, hash := range []string{hash1, hash2} {
		if ok, _ := h.Verify("the_same_password", hash); !ok {
			t.Error("hash should verify")
		}
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	h := NewHasher(cheap)

	hash, err := h.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"correct", "s3cret-pass", true},
		{"wrong", "s3cret-pasS", false},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxPasswordLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Verify(tt.password, hash)
			if err != nil {
				t.Fatalf("Verify error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Verify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify_UsesParamsFromHash(t *testing.T) {
	t.Parallel()

	hash, _ := NewHasher(cheap).Hash("pw")
	ok, err := NewHasher(Params{}).Verify("pw", hash)
	if err != nil || !ok {
		t.Errorf("Verify across params = %v, %v", ok, err)
	}
}

func TestVerify_InvalidHashFormat(t *testing.T) {
	t.Parallel()
	h := NewHasher(cheap)

	tests := []struct {
		name    string
		hash    string
		wantErr error
	}{
		{"empty", "", ErrInvalidHash},
		{"wrong format", "not-a-hash", ErrInvalidHash},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$salt$hash", ErrInvalidHash},
		{"missing parts", "$argon2id$v=19$m=65536", ErrInvalidHash},
		{"bad params", "$argon2id$v=19$m=x,t=3,p=4$c2FsdA$aGFzaA", ErrInvalidHash},
		{"wrong version", "$argon2id$v=18$m=65536,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl", ErrIncompatibleVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := h.Verify("password", tt.hash)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify error = %v, want %v", err, tt.wantErr)
			}
			if ok {
				t.Error("invalid hash should not match")
			}
		})
	}
}

func TestHash_RejectsLongPassword(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher(cheap).Hash(strings.Repeat("a", MaxPasswordLength+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("err = %v, want ErrPasswordTooLong", err)
	}
}
