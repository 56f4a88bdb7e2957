package constants

import (
	"strings"
)

type Category string

const (
	Groceries            Category = "Groceries"
	Meals                Category = "Meals"
	Transport            Category = "Transport"
	Utilities            Category = "Utilities"
	Internet             Category = "Internet"
	CellPhoneService     Category = "CellPhoneService"
	OfficeSupplies       Category = "OfficeSupplies"
	OfficeEquipment      Category = "OfficeEquipment"
	SoftwareSubscription Category = "SoftwareSubscription"
	Health               Category = "Health"
	TravelExpenses       Category = "TravelExpenses"
	Other                Category = "Other"
)

var allCategories = []Category{
	Groceries,
	Meals,
	Transport,
	Utilities,
	Internet,
	CellPhoneService,
	OfficeSupplies,
	OfficeEquipment,
	SoftwareSubscription,
	Health,
	TravelExpenses,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps a free-form label from the extractor onto the fixed
// category set. Unknown or blank labels fall back to Other; the second
// return value reports whether the label was recognized.
func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]Category{
		"food":         Groceries,
		"supermarket":  Groceries,
		"restaurant":   Meals,
		"dining":       Meals,
		"cafe":         Meals,
		"taxi":         Transport,
		"uber":         Transport,
		"fuel":         Transport,
		"gas":          Transport,
		"parking":      Transport,
		"electricity":  Utilities,
		"water":        Utilities,
		"heating":      Utilities,
		"cell phone":   CellPhoneService,
		"mobile plan":  CellPhoneService,
		"saas":         SoftwareSubscription,
		"subscription": SoftwareSubscription,
		"pharmacy":     Health,
		"medical":      Health,
		"airline":      TravelExpenses,
		"hotel":        TravelExpenses,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	// check if it matches any category string
	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}
