package pattern

import "strings"

// Category classifies a pattern definition.
type Category string

const (
	CategoryPII            Category = "PII"
	CategoryFinancial      Category = "FINANCIAL"
	CategoryMedical        Category = "MEDICAL"
	CategoryClassification Category = "CLASSIFICATION"
	CategoryCustom         Category = "CUSTOM"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPII, CategoryFinancial, CategoryMedical, CategoryClassification, CategoryCustom:
		return true
	}
	return false
}

// Definition is a single sensitive-data pattern within an annotation session.
// Examples are the literal strings the user tagged; Regex/RegexPatterns hold
// the rules learned from them. ExistingExamples marks examples that came from
// a previously saved session and is display-only.
type Definition struct {
	ID               string   `json:"id"`
	Label            string   `json:"label"`
	Category         Category `json:"type"`
	Color            string   `json:"color,omitempty"`
	Examples         []string `json:"examples"`
	ExistingExamples []string `json:"existingExamples,omitempty"`
	Regex            string   `json:"regex,omitempty"`
	RegexPatterns    []string `json:"regexPatterns,omitempty"`
	IsContextClue    bool     `json:"isContextClue,omitempty"`
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Examples = append([]string(nil), d.Examples...)
	c.ExistingExamples = append([]string(nil), d.ExistingExamples...)
	c.RegexPatterns = append([]string(nil), d.RegexPatterns...)
	return &c
}

// HasExamples reports whether the pattern carries at least one example.
func (d *Definition) HasExamples() bool {
	return len(d.Examples) > 0
}

// ClearRules drops all learned rules. Must be called when the last example is
// removed so a pattern with no examples never carries stale rules.
func (d *Definition) ClearRules() {
	d.Regex = ""
	d.RegexPatterns = nil
}

// SetRules installs freshly learned rules. The first rule becomes the primary.
func (d *Definition) SetRules(rules []string) {
	if len(rules) == 0 {
		d.ClearRules()
		return
	}
	d.Regex = rules[0]
	d.RegexPatterns = append([]string(nil), rules...)
}

// IsPredefinedID reports whether id belongs to the predefined session catalog.
func IsPredefinedID(id string) bool {
	return strings.HasPrefix(id, "pattern-")
}

// IsCustomID reports whether id was minted for a session-local custom pattern.
func IsCustomID(id string) bool {
	return strings.HasPrefix(id, "custom-")
}

// IsPersisted reports whether id refers to a database-backed pattern. Only
// persisted patterns accept feedback.
func IsPersisted(id string) bool {
	return id != "" && !IsPredefinedID(id) && !IsCustomID(id)
}
