package learner

import (
	"regexp"
	"testing"

	"go.uber.org/zap"
)

// TestLearn tests rule learning from tagged examples
func TestLearn(t *testing.T) {
	l := New(zap.NewNop())

	t.Run("SSNExamples", func(t *testing.T) {
		rules, err := l.Learn([]string{"123-45-6789", "987-65-4321"})
		if err != nil {
			t.Fatalf("Learn failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("Expected 1 rule for one structure group, got %d", len(rules))
		}

		re := regexp.MustCompile("(?i)" + rules[0])
		// The learned rule must generalize to untagged values of the same shape
		if !re.MatchString("555-12-9876") {
			t.Errorf("Rule %q does not match an unseen SSN", rules[0])
		}
		if re.MatchString("12-345-6789") {
			t.Errorf("Rule %q matches a value with a different shape", rules[0])
		}
	})

	t.Run("RulesMatchTheirOwnExamples", func(t *testing.T) {
		cases := [][]string{
			{"123-45-6789"},
			{"john.doe@example.com", "jane@test.org"},
			{"(555) 123-4567", "(800) 555-0199"},
			{"MRN-0042731"},
			{"1985-03-22", "1990-11-05"},
		}
		for _, examples := range cases {
			rules, err := l.Learn(examples)
			if err != nil {
				t.Fatalf("Learn(%v) failed: %v", examples, err)
			}
			for _, ex := range examples {
				matched := false
				for _, rule := range rules {
					if regexp.MustCompile("(?i)" + rule).MatchString(ex) {
						matched = true
						break
					}
				}
				if !matched {
					t.Errorf("No learned rule matches its own example %q (rules: %v)", ex, rules)
				}
			}
		}
	})

	t.Run("PlainWordsBecomeLiteralAlternation", func(t *testing.T) {
		rules, err := l.Learn([]string{"Acme", "Globex"})
		if err != nil {
			t.Fatalf("Learn failed: %v", err)
		}
		if len(rules) == 0 {
			t.Fatal("No rules learned")
		}

		var matched bool
		for _, rule := range rules {
			if regexp.MustCompile("(?i)" + rule).MatchString("horse") {
				matched = true
			}
		}
		if matched {
			t.Error("Word examples generalized into a rule that matches arbitrary words")
		}
		// Case variation is still covered by the (?i) flag at match time
		if !regexp.MustCompile("(?i)" + rules[0]).MatchString("ACME") {
			t.Error("Literal alternation does not match case variant of its own example")
		}
	})

	t.Run("MixedStructuresProduceMultipleRules", func(t *testing.T) {
		rules, err := l.Learn([]string{"123-45-6789", "john@example.com"})
		if err != nil {
			t.Fatalf("Learn failed: %v", err)
		}
		if len(rules) != 2 {
			t.Errorf("Expected 2 rules for 2 structure groups, got %d: %v", len(rules), rules)
		}
	})

	t.Run("VariableRunLengths", func(t *testing.T) {
		rules, err := l.Learn([]string{"AB-123", "ABCD-98765"})
		if err != nil {
			t.Fatalf("Learn failed: %v", err)
		}
		re := regexp.MustCompile("(?i)" + rules[0])
		if !re.MatchString("ABC-4567") {
			t.Errorf("Rule %q does not cover lengths between observed min and max", rules[0])
		}
	})

	t.Run("BlankExamplesRejected", func(t *testing.T) {
		if _, err := l.Learn([]string{"", "   "}); err == nil {
			t.Error("Expected error for blank-only example set")
		}
		if _, err := l.Learn(nil); err == nil {
			t.Error("Expected error for empty example set")
		}
	})

	t.Run("BlankExamplesFilteredNotFatal", func(t *testing.T) {
		rules, err := l.Learn([]string{"", "123-45-6789", "  "})
		if err != nil {
			t.Fatalf("Learn failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("Expected 1 rule after filtering blanks, got %d", len(rules))
		}
	})

	t.Run("RegexMetacharactersEscaped", func(t *testing.T) {
		rules, err := l.Learn([]string{"a+b (c) [d]"})
		if err != nil {
			t.Fatalf("Learn failed for example with regex metacharacters: %v", err)
		}
		for _, rule := range rules {
			if _, err := regexp.Compile("(?i)" + rule); err != nil {
				t.Errorf("Learned rule %q does not compile: %v", rule, err)
			}
		}
	})
}
