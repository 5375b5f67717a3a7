package xid

import (
	"strings"
	"testing"
)

func TestNewTransactionIDShape(t *testing.T) {
	id := NewTransactionID()
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		t.Fatalf("expected three segments, got %q", id)
	}
	if parts[0] != "TX" {
		t.Fatalf("expected TX prefix, got %q", parts[0])
	}
	if len(parts[1]) != 14 {
		t.Fatalf("expected 14-digit timestamp, got %q", parts[1])
	}
	if len(parts[2]) != 6 {
		t.Fatalf("expected 6-hex suffix, got %q", parts[2])
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New("TX")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
