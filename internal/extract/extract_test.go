package extract

import (
	"context"
	"testing"
)

func TestExtractRegex(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		ok       bool
		amount   float64
		desc     string
		category string
	}{
		{"simple", "120 dinner out", true, 120, "dinner out", "food"},
		{"comma decimal", "12,50 taxi home", true, 12.5, "taxi home", "transport"},
		{"amount last", "groceries 84.30", true, 84.3, "groceries", "groceries"},
		{"hebrew", "50 שח מונית", true, 50, "שח מונית", "other"},
		{"no amount", "paid for dinner", false, 0, "", ""},
		{"empty", "", false, 0, "", ""},
		{"only amount", "75", true, 75, "(no description)", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := extractRegex(tt.text)
			if ok != tt.ok {
				t.Fatalf("extractRegex(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if !ok {
				return
			}
			if res.Amount != tt.amount {
				t.Errorf("amount = %v, want %v", res.Amount, tt.amount)
			}
			if res.Description != tt.desc {
				t.Errorf("description = %q, want %q", res.Description, tt.desc)
			}
			if res.Category != tt.category {
				t.Errorf("category = %q, want %q", res.Category, tt.category)
			}
		})
	}
}

func TestExtractFallsBackWithoutClient(t *testing.T) {
	e := New("", "")
	if e.Enabled() {
		t.Fatal("extractor should not be enabled without an API key")
	}
	res, ok := e.Extract(context.Background(), "30 coffee", "ILS")
	if !ok {
		t.Fatal("expected regex fallback to find an amount")
	}
	if res.Amount != 30 || res.Description != "coffee" {
		t.Errorf("got %+v", res)
	}
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"pizza usd", "pizza"},
		{"מונית שח", "מונית"},
		{"tickets for", "tickets"},
		{"מצות על", "מצות"},
		{"dinner", "dinner"},
		{"₪", "(no description)"},
		{"", "(no description)"},
	}
	for _, tt := range tests {
		if got := CleanDescription(tt.in); got != tt.want {
			t.Errorf("CleanDescription(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
