package passwordvault

import (
	"strings"
	"unicode"
)

// Requirement is one password rule
type Requirement struct {
	Label string
	Test  func(password string) bool
}

const specialChars = `!@#$%^&*(),.?":{}|<>`

// Requirements must all pass for a password to be accepted
var Requirements = []Requirement{
	{Label: "At least 8 characters long", Test: func(p string) bool { return len([]rune(p)) >= 8 }},
	{Label: "Contains uppercase letter", Test: func(p string) bool { return strings.IndexFunc(p, isASCIIUpper) >= 0 }},
	{Label: "Contains lowercase letter", Test: func(p string) bool { return strings.IndexFunc(p, isASCIILower) >= 0 }},
	{Label: "Contains number", Test: func(p string) bool { return strings.IndexFunc(p, isASCIIDigit) >= 0 }},
	{Label: "Contains special character", Test: func(p string) bool { return strings.ContainsAny(p, specialChars) }},
}

// Recommendations are advisory
var Recommendations = []Requirement{
	{Label: "Recommended: 12 or more characters", Test: func(p string) bool { return len([]rune(p)) >= 12 }},
	{Label: "Recommended: No consecutive repeated characters", Test: func(p string) bool { return !hasRun(p, 3) }},
}

// Strength summarises a password against Requirements and Recommendations
type Strength struct {
	Valid       bool     `json:"valid"`
	Score       int      `json:"score"`
	Max         int      `json:"max"`
	Unmet       []string `json:"unmet,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Percent returns the score as a percentage of the maximum
func (s Strength) Percent() int {
	if s.Max == 0 {
		return 0
	}
	return s.Score * 100 / s.Max
}

// CheckStrength evaluates password
func CheckStrength(password string) Strength {
	s := Strength{Valid: true, Max: len(Requirements) + len(Recommendations)}

	for _, r := range Requirements {
		if r.Test(password) {
			s.Score++
		} else {
			s.Valid = false
			s.Unmet = append(s.Unmet, r.Label)
		}
	}
	for _, r := range Recommendations {
		if r.Test(password) {
			s.Score++
		} else {
			s.Suggestions = append(s.Suggestions, r.Label)
		}
	}
	return s
}

func isASCIIUpper(r rune) bool { return r < unicode.MaxASCII && unicode.IsUpper(r) }
func isASCIILower(r rune) bool { return r < unicode.MaxASCII && unicode.IsLower(r) }
func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }

// hasRun reports whether any rune repeats n or more times in a row
func hasRun(s string, n int) bool {
	var prev rune
	count := 0
	for i, r := range s {
		if i > 0 && r == prev {
			count++
		} else {
			count = 1
		}
		if count >= n {
			return true
		}
		prev = r
	}
	return false
}
