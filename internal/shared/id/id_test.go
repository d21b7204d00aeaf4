package id

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrefixes(t *testing.T) {
	sess := string(NewSessionID())
	if !strings.HasPrefix(sess, "sess_") {
		t.Errorf("session id missing prefix: %s", sess)
	}

	req := string(NewRequestID())
	if !strings.HasPrefix(req, "req_") {
		t.Errorf("request id missing prefix: %s", req)
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[SessionID]bool)
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestDeterministicEntropy(t *testing.T) {
	g := NewGenerator(bytes.NewReader(make([]byte, 64)))
	a := g.Generate()
	if a.String() == "" {
		t.Fatal("expected non-empty ULID")
	}
}
