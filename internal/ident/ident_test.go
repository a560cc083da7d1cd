package ident

import (
	"regexp"
	"testing"
)

func TestKeyFormat(t *testing.T) {
	key := Key("proposal", "feedback", "F1", 1)
	if key != "proposal:feedback:F1:v1" {
		t.Fatalf("unexpected key: %q", key)
	}
}

func TestCorrelationIDIsDeterministic(t *testing.T) {
	first := CorrelationID("F1")
	second := CorrelationID("F1")
	if first != second {
		t.Fatalf("expected stable correlation id, got %q and %q", first, second)
	}
}

func TestCorrelationIDDiffersPerBase(t *testing.T) {
	if CorrelationID("F1") == CorrelationID("F2") {
		t.Fatalf("expected distinct correlation ids for distinct base ids")
	}
}

func TestCorrelationIDIsUUIDShaped(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	id := CorrelationID("feedback-123")
	if !pattern.MatchString(id) {
		t.Fatalf("correlation id %q is not UUIDv4 shaped", id)
	}
}
