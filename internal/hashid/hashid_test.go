package hashid

import "testing"

func TestHashIsStableAndBounded(t *testing.T) {
	a := Hash("user@example.com")
	b := Hash("user@example.com")
	if a != b {
		t.Fatalf("hash not stable: %q != %q", a, b)
	}
	if len(a) != Len {
		t.Fatalf("expected length %d, got %d", Len, len(a))
	}
}

func TestHashDiffersByInput(t *testing.T) {
	a := Hash("alice@example.com")
	b := Hash("bob@example.com")
	if a == b {
		t.Fatalf("expected distinct hashes, got %q for both", a)
	}
}
