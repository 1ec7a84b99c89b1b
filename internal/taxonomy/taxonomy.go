// Package taxonomy carries the default category buckets and helpers
// for resolving free-form labels against them. The parser core never
// touches this; categories are attached after parsing, at persistence
// or review time.
package taxonomy

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"invoice-scanner/internal/entity"
)

// Other is the catch-all bucket every unresolvable label falls into.
const Other = "Other"

// fuzzy matches tolerate this many edits against a known name.
const maxEditDistance = 2

// DefaultCategories returns the seed taxonomy: 20 buckets covering
// common purchase invoice content. IDs are assigned by the database.
func DefaultCategories() []entity.Category {
	return []entity.Category{
		{Name: "Food & Beverages", Description: "Food, drinks, refreshments"},
		{Name: "Office Supplies", Description: "Paper, pens, desk accessories"},
		{Name: "Electronics & Technology", Description: "Computers, phones, electronic devices"},
		{Name: "Construction Materials", Description: "Cement, bricks, steel, building materials"},
		{Name: "Furniture & Decor", Description: "Desks, chairs, cabinets, interior decoration"},
		{Name: "Clothing & Fashion", Description: "Clothes, footwear, accessories"},
		{Name: "Cosmetics & Personal Care", Description: "Cosmetics, medicine, care products"},
		{Name: "Household & Kitchenware", Description: "Kitchen utensils, home appliances"},
		{Name: "Fuel & Petroleum", Description: "Petrol, oil, fuel"},
		{Name: "Services & Maintenance", Description: "Repair, maintenance, servicing"},
		{Name: "Shipping & Logistics", Description: "Shipping and delivery fees"},
		{Name: "Marketing & Advertising", Description: "Advertising and marketing spend"},
		{Name: "Utilities", Description: "Electricity, water, internet, phone bills"},
		{Name: "Rent & Leasing", Description: "Office, warehouse and equipment rental"},
		{Name: "Training & Development", Description: "Courses, staff training"},
		{Name: "Healthcare & Insurance", Description: "Medical care, insurance"},
		{Name: "Banking & Finance", Description: "Bank fees, loan interest"},
		{Name: "Legal & Consulting", Description: "Legal and accounting advisory fees"},
		{Name: "Entertainment & Events", Description: "Parties, events, entertainment"},
		{Name: Other, Description: "Expenses outside the buckets above"},
	}
}

// synonyms map folded free-form labels straight to a bucket name.
var synonyms = map[string]string{
	"groceries":    "Food & Beverages",
	"restaurant":   "Food & Beverages",
	"coffee":       "Food & Beverages",
	"stationery":   "Office Supplies",
	"hardware":     "Electronics & Technology",
	"software":     "Electronics & Technology",
	"gas":          "Fuel & Petroleum",
	"petrol":       "Fuel & Petroleum",
	"delivery":     "Shipping & Logistics",
	"freight":      "Shipping & Logistics",
	"ads":          "Marketing & Advertising",
	"electricity":  "Utilities",
	"internet":     "Utilities",
	"rent":         "Rent & Leasing",
	"lease":        "Rent & Leasing",
	"insurance":    "Healthcare & Insurance",
	"bank charges": "Banking & Finance",
	"legal fees":   "Legal & Consulting",
	"misc":         Other,
	"unknown":      Other,
}

// Canonicalize resolves a free-form label to a default bucket name.
// Resolution order: exact (case-folded) name, synonym table, then a
// levenshtein pass tolerating small OCR/typo edits. The boolean is
// false when the label fell through to Other.
func Canonicalize(input string) (string, bool) {
	folded := strings.ToLower(strings.TrimSpace(input))
	if folded == "" {
		return Other, false
	}

	for _, cat := range DefaultCategories() {
		if folded == strings.ToLower(cat.Name) {
			return cat.Name, true
		}
	}
	if name, ok := synonyms[folded]; ok {
		return name, true
	}

	best, bestDist := "", maxEditDistance+1
	for _, cat := range DefaultCategories() {
		dist := levenshtein.ComputeDistance(folded, strings.ToLower(cat.Name))
		if dist < bestDist {
			best, bestDist = cat.Name, dist
		}
	}
	if bestDist <= maxEditDistance {
		return best, true
	}
	return Other, false
}
