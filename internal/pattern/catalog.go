package pattern

// catalog is the fixed set of predefined patterns offered at session start.
// It is never mutated; sessions clone their own working copies.
var catalog = []Definition{
	{ID: "pattern-1", Label: "Social Security Number", Category: CategoryPII, Color: "#fecaca"},
	{ID: "pattern-2", Label: "Email Address", Category: CategoryPII, Color: "#fed7aa"},
	{ID: "pattern-3", Label: "Phone Number", Category: CategoryPII, Color: "#fde68a"},
	{ID: "pattern-4", Label: "Person Name", Category: CategoryPII, Color: "#d9f99d"},
	{ID: "pattern-5", Label: "Date of Birth", Category: CategoryPII, Color: "#bbf7d0"},
	{ID: "pattern-6", Label: "Credit Card Number", Category: CategoryFinancial, Color: "#a5f3fc"},
	{ID: "pattern-7", Label: "Bank Account Number", Category: CategoryFinancial, Color: "#bfdbfe"},
	{ID: "pattern-8", Label: "Medical Record Number", Category: CategoryMedical, Color: "#c7d2fe"},
	{ID: "pattern-9", Label: "Diagnosis Code", Category: CategoryMedical, Color: "#e9d5ff"},
	{ID: "pattern-10", Label: "Classification Marking", Category: CategoryClassification, Color: "#fbcfe8", IsContextClue: true},
}

// DefaultCatalog returns a fresh working copy of the predefined patterns.
func DefaultCatalog() []*Definition {
	out := make([]*Definition, len(catalog))
	for i := range catalog {
		out[i] = catalog[i].Clone()
	}
	return out
}
