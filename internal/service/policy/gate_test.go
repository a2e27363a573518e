package policy

import (
	"context"
	"testing"
)

func TestStaticGate(t *testing.T) {
	if !(StaticGate{Value: true}).Enabled(context.Background(), "org-1") {
		t.Fatal("expected enabled gate to answer true")
	}
	if (StaticGate{Value: false}).Enabled(context.Background(), "org-1") {
		t.Fatal("expected disabled gate to answer false")
	}
}

func TestDisabledValue(t *testing.T) {
	cases := []struct {
		value    string
		disabled bool
	}{
		{"0", true},
		{"false", true},
		{"FALSE", true},
		{"off", true},
		{" disabled ", true},
		{"1", false},
		{"true", false},
		{"on", false},
		{"", false},
		{"anything", false},
	}
	for _, tc := range cases {
		if got := disabledValue(tc.value); got != tc.disabled {
			t.Fatalf("disabledValue(%q) = %v, want %v", tc.value, got, tc.disabled)
		}
	}
}
