package mattermost

import "testing"

func TestQualifierTicketMask(t *testing.T) {
	q, err := NewQualifier(`\d{2}-\d{3,5}`)
	if err != nil {
		t.Fatalf("NewQualifier: %v", err)
	}

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"ticket in the middle", "please look at 12-345 asap", true},
		{"five digit suffix", "ticket 99-12345", true},
		{"three digit suffix", "ticket 10-100", true},
		{"two digit suffix too short", "ticket 10-10", false},
		{"no ticket", "anyone around?", false},
		{"blank", "   ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := q.Qualifies(tc.text); got != tc.want {
				t.Fatalf("Qualifies(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestQualifierEmptyPatternQualifiesEverything(t *testing.T) {
	q, err := NewQualifier("")
	if err != nil {
		t.Fatalf("NewQualifier: %v", err)
	}
	if !q.Qualifies("any text at all") {
		t.Fatal("empty pattern must qualify non-blank text")
	}
	if q.Qualifies("  ") {
		t.Fatal("blank text never qualifies")
	}
}

func TestQualifierSetPattern(t *testing.T) {
	q, err := NewQualifier(`\d{2}-\d{3,5}`)
	if err != nil {
		t.Fatalf("NewQualifier: %v", err)
	}
	if err := q.SetPattern(`^urgent:`); err != nil {
		t.Fatalf("SetPattern: %v", err)
	}
	if q.Qualifies("12-345") {
		t.Fatal("old pattern must be gone after reload")
	}
	if !q.Qualifies("urgent: db down") {
		t.Fatal("new pattern must be live")
	}

	if err := q.SetPattern(`([`); err == nil {
		t.Fatal("invalid pattern must be rejected")
	}
	if !q.Qualifies("urgent: still works") {
		t.Fatal("rejected reload must keep the previous pattern")
	}
}
