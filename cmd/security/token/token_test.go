package token

import (
	"errors"
	"testing"
)

func TestHasher_Modes(t *testing.T) {
	t.Parallel()

	var plain Hasher
	if plain.Keyed() {
		t.Fatalf("zero hasher should not be keyed")
	}
	if got, want := plain.Hash("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("zero hasher=%s want %s", got, want)
	}
	if len(plain.Hash("abc")) != 64 {
		t.Fatalf("digest should be 64 hex chars")
	}

	keyed := NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	if !keyed.Keyed() {
		t.Fatalf("keyed hasher should report Keyed")
	}
	if keyed.Hash("abc") == plain.Hash("abc") {
		t.Fatalf("HMAC digest must differ from SHA-256 digest")
	}
	if keyed.Hash("abc") != keyed.Hash("abc") {
		t.Fatalf("digest must be stable")
	}
	if NewHasher(nil).Keyed() {
		t.Fatalf("empty key should fall back to SHA-256")
	}
}

func TestHasherFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantErr   error
		wantKeyed bool
	}{
		{name: "missing", value: "", wantErr: ErrHMACKeyMissing},
		{name: "too short", value: "short", wantErr: ErrHMACKeyTooShort},
		{name: "ok", value: "0123456789abcdef0123456789abcdef", wantKeyed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(HMACEnvKey, tt.value)
			h, err := HasherFromEnv(MinHMACKeyBytes)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}
			if h.Keyed() != tt.wantKeyed {
				t.Fatalf("Keyed=%v want %v", h.Keyed(), tt.wantKeyed)
			}
		})
	}
}

func TestOpaque(t *testing.T) {
	t.Parallel()

	a, err := Opaque(32)
	if err != nil {
		t.Fatalf("Opaque: %v", err)
	}
	b, _ := Opaque(32)
	if a == b {
		t.Fatalf("tokens should differ")
	}
	if len(a) != 43 {
		t.Fatalf("len=%d want 43 for 32 bytes unpadded", len(a))
	}
}
