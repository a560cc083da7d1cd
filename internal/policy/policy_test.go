package policy

import (
	"strings"
	"testing"
)

func TestMaskPIIStringRedactsContacts(t *testing.T) {
	input := "ping dev@example.com or +1 (555) 123-4567 about key_abcdefghij0123456789"
	masked := MaskPIIString(input)

	if strings.Contains(masked, "dev@example.com") {
		t.Fatalf("email survived masking: %q", masked)
	}
	if strings.Contains(masked, "555") {
		t.Fatalf("phone survived masking: %q", masked)
	}
	if strings.Contains(masked, "abcdefghij0123456789") {
		t.Fatalf("token survived masking: %q", masked)
	}
}

func TestMaskPIIJSONWalksNestedValues(t *testing.T) {
	payload := []byte(`{"title":"login bug","reporter":{"email":"a@b.io"},"notes":["call +55 11 99999-0000"]}`)
	masked := string(MaskPIIJSON(payload))

	if strings.Contains(masked, "a@b.io") {
		t.Fatalf("nested email survived masking: %s", masked)
	}
	if !strings.Contains(masked, "login bug") {
		t.Fatalf("non-PII content was lost: %s", masked)
	}
}

func TestMaskPIIJSONHandlesInvalidJSON(t *testing.T) {
	masked := string(MaskPIIJSON([]byte("contact me at a@b.io")))
	if strings.Contains(masked, "a@b.io") {
		t.Fatalf("raw text email survived masking: %s", masked)
	}
}
