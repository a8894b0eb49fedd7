// Package composition parses and validates free-text material composition
// strings such as "Vuna 95%, Viskoza 5%".
package composition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ReasonNoMaterials is reported when a composition string yields no materials.
const ReasonNoMaterials = "no materials"

var percentToken = regexp.MustCompile(`([+-]?)(\d+)\s*%?\s*$`)

// Material is one parsed composition entry. Percentage is nil when the
// segment carries no percent token.
type Material struct {
	Name       string `json:"name"`
	Percentage *int   `json:"percentage"`
}

// TotalResult is the outcome of ValidateTotal.
type TotalResult struct {
	IsValid   bool       `json:"is_valid"`
	Total     int        `json:"total"`
	Materials []Material `json:"materials"`
	Reason    string     `json:"reason,omitempty"`
}

// Parse splits text on commas, semicolons and newlines and extracts the
// trailing integer percentage of every segment. Names keep their case.
// Segments whose percentage is signed or does not fit an int are dropped.
func Parse(text string) []Material {
	segments := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})

	materials := make([]Material, 0, len(segments))
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		name := segment
		var percentage *int
		if loc := percentToken.FindStringSubmatchIndex(segment); loc != nil {
			// A signed or out of range value is malformed, not part of the name.
			value, err := strconv.Atoi(segment[loc[4]:loc[5]])
			if loc[3] > loc[2] || err != nil {
				continue
			}
			percentage = &value
			name = segment[:loc[0]]
		}

		name = cleanName(name)
		if name == "" {
			continue
		}
		materials = append(materials, Material{Name: name, Percentage: percentage})
	}
	return materials
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, "•·*-–— \t")
	name = strings.TrimRight(name, ": \t")
	return strings.TrimSpace(name)
}

// ValidateTotal sums the parsed percentages. The composition is valid only
// when the sum is exactly 100.
func ValidateTotal(text string) TotalResult {
	materials := Parse(text)
	if len(materials) == 0 {
		return TotalResult{Materials: materials, Reason: ReasonNoMaterials}
	}

	total := 0
	for _, m := range materials {
		if m.Percentage != nil {
			total += *m.Percentage
		}
	}

	result := TotalResult{
		IsValid:   total == 100,
		Total:     total,
		Materials: materials,
	}
	if !result.IsValid {
		result.Reason = fmt.Sprintf("total is %d%%, expected 100%%", total)
	}
	return result
}

// PercentageOf returns the percentage of the first parsed material whose name
// matches name by case-insensitive substring in either direction.
func PercentageOf(text, name string) *int {
	for _, m := range Parse(text) {
		if NamesMatch(m.Name, name, MatchSubstring) {
			return m.Percentage
		}
	}
	return nil
}

// Format renders materials back into a composition string.
func Format(materials []Material) string {
	parts := make([]string, 0, len(materials))
	for _, m := range materials {
		if m.Percentage == nil {
			parts = append(parts, m.Name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d%%", m.Name, *m.Percentage))
	}
	return strings.Join(parts, ", ")
}
