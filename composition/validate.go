package composition

import (
	"fmt"
	"strings"
)

// MatchMode selects how a declared material name is paired with a lab result.
type MatchMode int

const (
	// MatchSubstring pairs names when either contains the other, ignoring case.
	// This is the rule the on-chain contract applies.
	MatchSubstring MatchMode = iota
	// MatchExact pairs names only when they are equal after trimming and
	// case folding.
	MatchExact
)

// ParseMatchMode maps a configuration value to a MatchMode.
func ParseMatchMode(value string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "substring":
		return MatchSubstring, nil
	case "exact":
		return MatchExact, nil
	default:
		return MatchSubstring, fmt.Errorf("unknown material match mode %q", value)
	}
}

func (m MatchMode) String() string {
	if m == MatchExact {
		return "exact"
	}
	return "substring"
}

// NamesMatch reports whether a and b name the same material under mode.
// Empty names never match.
func NamesMatch(a, b string, mode MatchMode) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if mode == MatchExact {
		return a == b
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// TestResult is a lab-measured material percentage.
type TestResult struct {
	MaterialName string `json:"material_name"`
	Percentage   int    `json:"percentage"`
}

// Mismatch kinds.
const (
	MismatchMissingResult      = "missing_result"
	MismatchPercentage         = "percentage_mismatch"
	MismatchMissingDeclaration = "missing_declared_percentage"
)

// Mismatch describes one declared material that the results fail to cover.
type Mismatch struct {
	Kind     string `json:"kind"`
	Material string `json:"material"`
	Declared *int   `json:"declared,omitempty"`
	Tested   []int  `json:"tested,omitempty"`
}

func (m Mismatch) String() string {
	switch m.Kind {
	case MismatchMissingResult:
		return fmt.Sprintf("material %q has no matching test result", m.Material)
	case MismatchMissingDeclaration:
		return fmt.Sprintf("material %q has no declared percentage", m.Material)
	default:
		return fmt.Sprintf("percentage mismatch for %q: declared %d%%, tested %s",
			m.Material, *m.Declared, formatPercentages(m.Tested))
	}
}

// Validation is the outcome of ValidateTestResults.
type Validation struct {
	Valid      bool       `json:"valid"`
	Reason     string     `json:"reason,omitempty"`
	Declared   []Material `json:"declared"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// ValidateTestResults checks lab results against a declared composition.
// The declaration must total 100 and every declared material needs a result
// with a matching name and exactly the declared percentage. Results for
// undeclared materials are ignored.
func ValidateTestResults(declared string, results []TestResult, mode MatchMode) Validation {
	total := ValidateTotal(declared)
	validation := Validation{Declared: total.Materials}
	if !total.IsValid {
		validation.Reason = total.Reason
		return validation
	}

	for _, material := range total.Materials {
		if material.Percentage == nil {
			validation.Mismatches = append(validation.Mismatches, Mismatch{
				Kind:     MismatchMissingDeclaration,
				Material: material.Name,
			})
			continue
		}

		var tested []int
		matched := false
		for _, result := range results {
			if !NamesMatch(material.Name, result.MaterialName, mode) {
				continue
			}
			tested = append(tested, result.Percentage)
			if result.Percentage == *material.Percentage {
				matched = true
				break
			}
		}

		switch {
		case matched:
		case len(tested) == 0:
			validation.Mismatches = append(validation.Mismatches, Mismatch{
				Kind:     MismatchMissingResult,
				Material: material.Name,
				Declared: material.Percentage,
			})
		default:
			validation.Mismatches = append(validation.Mismatches, Mismatch{
				Kind:     MismatchPercentage,
				Material: material.Name,
				Declared: material.Percentage,
				Tested:   tested,
			})
		}
	}

	if len(validation.Mismatches) > 0 {
		validation.Reason = validation.Mismatches[0].String()
		return validation
	}
	validation.Valid = true
	return validation
}

func formatPercentages(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d%%", v)
	}
	return strings.Join(parts, ", ")
}
