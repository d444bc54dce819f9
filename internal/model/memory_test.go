package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestTierOrdering(t *testing.T) {
	if !(TierWorking < TierShortTerm && TierShortTerm < TierLongTerm) {
		t.Fatal("tiers must be ordered WORKING < SHORT_TERM < LONG_TERM")
	}
	if TierWorking.Next() != TierShortTerm || TierShortTerm.Next() != TierLongTerm {
		t.Error("Next should step one tier")
	}
	if TierLongTerm.Next() != TierLongTerm {
		t.Error("LONG_TERM has no next tier")
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
		ok   bool
	}{
		{"WORKING", TierWorking, true},
		{"short-term", TierShortTerm, true},
		{"long_term", TierLongTerm, true},
		{"archive", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ParseTier(%q) = %v, %v", tt.in, got, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseTier(%q) should fail", tt.in)
		}
	}
}

func TestTierJSON(t *testing.T) {
	b, err := json.Marshal(Fragment{Tier: TierShortTerm})
	if err != nil {
		t.Fatal(err)
	}
	var f Fragment
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatal(err)
	}
	if f.Tier != TierShortTerm {
		t.Errorf("expected SHORT_TERM, got %v", f.Tier)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("list: %w", ErrStoreUnavailable)) {
		t.Error("store outage should be retryable")
	}
	if IsRetryable(ErrInvalidQuery) {
		t.Error("invalid query is not retryable")
	}

	err := &ConsolidationFragmentError{PersonaID: "p", FragmentID: "f", Err: ErrVersionConflict}
	if !errors.Is(err, ErrVersionConflict) {
		t.Error("fragment error should unwrap")
	}
}
