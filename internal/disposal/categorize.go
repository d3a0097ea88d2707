package disposal

import "strings"

// DecompositionDays returns the estimated decomposition window for a disposed
// item. The explicit category is checked first, then case-insensitive keyword
// matching on the item name. Durable goods return ok=false: no estimate, no
// reminder.
func DecompositionDays(category, itemName string) (int, bool) {
	if cat := strings.ToLower(strings.TrimSpace(category)); cat != "" {
		if days, ok := categoryDays[cat]; ok {
			return days, days > 0
		}
	}

	name := strings.ToLower(strings.TrimSpace(itemName))
	if name == "" {
		return 0, false
	}
	for _, entry := range keywordDays {
		if strings.Contains(name, entry.keyword) {
			return entry.days, true
		}
	}
	return 0, false
}

// categoryDays maps explicit disposal categories to decomposition estimates.
// Zero marks a known durable category.
var categoryDays = map[string]int{
	"perishable":  3,
	"bakery":      3,
	"leftovers":   3,
	"meat":        4,
	"produce":     5,
	"dairy":       7,
	"garden":      30,
	"paper":       60,
	"cardboard":   90,
	"wood":        0,
	"plastic":     0,
	"metal":       0,
	"glass":       0,
	"electronics": 0,
	"durable":     0,
}

// keywordDays matches item names when no category was supplied, more
// specific keywords first.
var keywordDays = []struct {
	keyword string
	days    int
}{
	{"bread", 3},
	{"bun", 3},
	{"cake", 3},
	{"leftover", 3},
	{"banana", 4},
	{"chicken", 4},
	{"fish", 4},
	{"beef", 4},
	{"meat", 4},
	{"apple", 5},
	{"tomato", 5},
	{"lettuce", 5},
	{"salad", 5},
	{"fruit", 5},
	{"vegetable", 5},
	{"milk", 7},
	{"cheese", 7},
	{"yogurt", 7},
	{"egg", 14},
	{"flower", 14},
	{"leaves", 30},
	{"paper", 60},
	{"cardboard", 90},
}
