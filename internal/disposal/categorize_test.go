package disposal

import "testing"

func TestDecompositionDaysByCategory(t *testing.T) {
	cases := []struct {
		category string
		name     string
		days     int
		ok       bool
	}{
		{"perishable", "mystery box", 3, true},
		{"bakery", "croissant", 3, true},
		{"meat", "steak", 4, true},
		{"dairy", "cream", 7, true},
		{"cardboard", "moving box", 90, true},
		{"wood", "old chair", 0, false},
		{"plastic", "toy", 0, false},
		{"electronics", "radio", 0, false},
		{"PERISHABLE", "soup", 3, true}, // category match is case-insensitive
	}
	for _, tc := range cases {
		days, ok := DecompositionDays(tc.category, tc.name)
		if days != tc.days || ok != tc.ok {
			t.Errorf("DecompositionDays(%q, %q) = (%d, %v), want (%d, %v)",
				tc.category, tc.name, days, ok, tc.days, tc.ok)
		}
	}
}

func TestDecompositionDaysByKeyword(t *testing.T) {
	cases := []struct {
		name string
		days int
		ok   bool
	}{
		{"Sourdough Bread", 3, true},
		{"chicken wings", 4, true},
		{"half a tomato", 5, true},
		{"Oat Milk", 7, true},
		{"newspaper", 60, true}, // "paper" matches inside "newspaper"
		{"cardboard box", 90, true},
		{"hammer", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		days, ok := DecompositionDays("", tc.name)
		if days != tc.days || ok != tc.ok {
			t.Errorf("DecompositionDays(\"\", %q) = (%d, %v), want (%d, %v)",
				tc.name, days, ok, tc.days, tc.ok)
		}
	}
}

func TestCategoryBeatsKeyword(t *testing.T) {
	// An explicit durable category wins even when the name matches a
	// decomposing keyword.
	if days, ok := DecompositionDays("plastic", "bread bin"); ok {
		t.Errorf("plastic bread bin got estimate %d, want none", days)
	}
	// Unknown categories fall back to keyword matching.
	if days, ok := DecompositionDays("misc", "bread"); !ok || days != 3 {
		t.Errorf("misc bread = (%d, %v), want (3, true)", days, ok)
	}
}
