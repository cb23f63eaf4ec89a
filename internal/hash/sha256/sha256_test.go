package sha256

import "testing"

// TestHashKnownVector checks the digest against a known SHA-256 value.
func TestHashKnownVector(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.HashString("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("HashString(abc) = %s, want %s", got, want)
	}
}

// TestHashEmpty ensures the empty input digest is stable.
func TestHashEmpty(t *testing.T) {
	t.Parallel()

	h := New()
	if h.Hash(nil) != h.HashString("") {
		t.Fatal("nil and empty-string digests should match")
	}
}
