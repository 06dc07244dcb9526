package user

import (
	"strings"
	"testing"
)

func TestGenerateReferralCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := generateReferralCode(ReferralCodeLength)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != ReferralCodeLength {
			t.Fatalf("expected length %d, got %q", ReferralCodeLength, code)
		}
		if strings.ContainsAny(code, "0O1I") {
			t.Fatalf("code %q contains ambiguous characters", code)
		}
		seen[code] = true
	}
	if len(seen) < 195 {
		t.Fatalf("codes repeat too often: %d unique of 200", len(seen))
	}
}
