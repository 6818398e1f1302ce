package nodeid

import "testing"

func TestShortStripsPrefix(t *testing.T) {
	id := FromFull("fe80::1234:5678")
	if got := id.Short(); got != "1234:5678" {
		t.Errorf("Short() = %q, want %q", got, "1234:5678")
	}
}

func TestFromShortRoundTrip(t *testing.T) {
	id := FromShort("abcd::1")
	if got := id.Full(); got != "fe80::abcd::1" {
		t.Errorf("Full() = %q, want %q", got, "fe80::abcd::1")
	}
	if got := id.Short(); got != "abcd::1" {
		t.Errorf("Short() = %q, want %q", got, "abcd::1")
	}
}

func TestLessLexicographic(t *testing.T) {
	a := FromShort("1000")
	b := FromShort("2000")
	if !a.Less(b) {
		t.Errorf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Errorf("expected %v not < %v", b, a)
	}
	if a.Less(a) {
		t.Errorf("expected id not Less than itself")
	}
}

func TestIsZero(t *testing.T) {
	var id ID
	if !id.IsZero() {
		t.Errorf("zero value should report IsZero")
	}
	if FromShort("").IsZero() == false {
		t.Errorf("FromShort(\"\") should be zero")
	}
	if FromFull("fe80::1").IsZero() {
		t.Errorf("non-empty full address should not be zero")
	}
}

func TestEqual(t *testing.T) {
	a := FromShort("abc")
	b := FromFull("fe80::abc")
	if !a.Equal(b) {
		t.Errorf("expected %v to equal %v", a, b)
	}
}
