package ident

import "testing"

func TestNew(t *testing.T) {
	a, b := New("ord"), New("ord")
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if !HasPrefix(a, "ord") {
		t.Fatalf("unexpected id %q", a)
	}
	if HasPrefix(a, "usr") {
		t.Fatalf("%q should not carry usr prefix", a)
	}
}
