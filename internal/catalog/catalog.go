// Package catalog holds the closed product/tier/slot schema described in
// the specification's data model. Grounded on
// original_source/hlas/src/hlas/flows/rec_flow.py's
// _required_slots_for_product / _slot_specs / _get_slot_descriptions.
package catalog

import "strings"

// Product is a closed set of insurance product names.
type Product string

const (
	Travel           Product = "Travel"
	Maid             Product = "Maid"
	Car              Product = "Car"
	PersonalAccident Product = "PersonalAccident"
)

// Normalize maps arbitrary-case user/LLM output to a catalog Product,
// returning ("", false) when the value isn't a known product.
func Normalize(raw string) (Product, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "travel":
		return Travel, true
	case "maid":
		return Maid, true
	case "car":
		return Car, true
	case "personalaccident", "personal accident", "pa":
		return PersonalAccident, true
	default:
		return "", false
	}
}

// SlotType describes how a slot's value should be elicited/validated.
type SlotType string

const (
	SlotValue  SlotType = "value"
	SlotYesNo  SlotType = "yesno"
	SlotChoice SlotType = "choice"
)

// SlotSpec is the metadata the slot-extractor/question-asker tasks need.
type SlotSpec struct {
	Type        SlotType
	Options     []string
	Format      string
	Description string
}

var tiers = map[Product][]string{
	Travel:           {"Basic", "Silver", "Gold", "Platinum"},
	Maid:             {"Basic", "Enhanced", "Premier", "Exclusive"},
	Car:              nil,
	PersonalAccident: {"Bronze", "Silver", "Premier", "Platinum"},
}

// Tiers returns the closed tier set for a product (nil for Car).
func Tiers(p Product) []string { return tiers[p] }

var requiredSlots = map[Product][]string{
	Travel:           {"destination", "travel_duration", "pre_existing_medical_condition", "plan_preference"},
	Maid:             {"duration_of_insurance", "maid_country", "coverage_above_mom_minimum", "add_ons"},
	Car:              nil,
	PersonalAccident: {"coverage_scope", "risk_level", "desired_amount"},
}

// RequiredSlots returns the ordered required-slot names for a product.
func RequiredSlots(p Product) []string { return requiredSlots[p] }

var slotSpecs = map[Product]map[string]SlotSpec{
	Travel: {
		"destination":                     {Type: SlotValue, Format: "country", Description: "Country the user is travelling to (country name only)"},
		"travel_duration":                 {Type: SlotValue, Format: "days:int", Description: "Trip length in days (1-365)"},
		"pre_existing_medical_condition":  {Type: SlotYesNo, Description: "Whether user has any pre-existing medical conditions (yes/no)"},
		"plan_preference":                 {Type: SlotChoice, Options: []string{"budget", "comprehensive"}, Description: "User's coverage preference (budget/comprehensive)"},
	},
	Maid: {
		"duration_of_insurance":      {Type: SlotChoice, Options: []string{"12", "24"}, Description: "Policy duration (12 or 24 months)"},
		"maid_country":               {Type: SlotValue, Format: "country", Description: "Helper's country of origin (country name only)"},
		"coverage_above_mom_minimum": {Type: SlotYesNo, Description: "Whether user wants coverage beyond MOM minimum (yes/no)"},
		"add_ons":                    {Type: SlotChoice, Options: []string{"required", "not_required"}, Description: "Whether user wants additional add-on coverages (required/not_required)"},
	},
	PersonalAccident: {
		"coverage_scope": {Type: SlotChoice, Options: []string{"self", "family"}, Description: "Coverage for yourself or your family"},
		"risk_level":     {Type: SlotChoice, Options: []string{"high", "low"}, Description: "Occupational risk level: high or low"},
		"desired_amount": {Type: SlotValue, Format: "amount:int", Description: "Desired coverage amount between $500 and $3,500"},
	},
}

// SlotSpecs returns the per-slot metadata for a product (nil/empty for Car).
func SlotSpecs(p Product) map[string]SlotSpec { return slotSpecs[p] }

// AvailableTiersHint renders a human-readable tier enumeration for
// clarification prompts ("available_tiers=..." in compare_flow.py).
func AvailableTiersHint(p Product) string {
	t := Tiers(p)
	if len(t) == 0 {
		if p == Car {
			return "None (Car has no tiers)"
		}
		return ""
	}
	return strings.Join(t, ", ")
}
