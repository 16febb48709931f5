// Package consolidate turns raw episodic experiences into semantic memory
// cells. Extraction is a set of named, independently testable classifiers
// over the statements of an experience summary.
package consolidate

import (
	"strings"
)

// Candidate is a potential semantic cell extracted from a summary.
type Candidate struct {
	CellType string `json:"cell_type"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Rule     string `json:"rule"` // name of the classifier that matched
}

// classifier inspects one statement and either produces a candidate or
// passes. Classifiers run in order; the first match wins for a statement.
type classifier struct {
	name string
	fn   func(statement string) (Candidate, bool)
}

var classifiers = []classifier{
	{name: "imperative_rule", fn: classifyRule},
	{name: "declarative_fact", fn: classifyFact},
}

// ruleMarkers signal imperative or modal language.
var ruleMarkers = []string{
	"must", "should never", "should not", "should always", "always", "never",
	"do not", "don't", "avoid", "required", "forbidden",
}

// factMarkers signal declarative statements of state, location or identity.
var factMarkers = []string{
	" is ", " are ", " was ", " lives in ", " located ", " uses ", " runs on ",
	" depends on ", " belongs to ", " requires ", " contains ",
}

// Extract classifies the statements of a summary into rule and fact
// candidates. A summary may yield zero, one, or several candidates of mixed
// type.
func Extract(summary string) []Candidate {
	var out []Candidate
	for _, stmt := range splitStatements(summary) {
		for _, c := range classifiers {
			if cand, ok := c.fn(stmt); ok {
				cand.Rule = c.name
				out = append(out, cand)
				break
			}
		}
	}
	return out
}

func classifyRule(stmt string) (Candidate, bool) {
	lower := strings.ToLower(stmt)
	for _, m := range ruleMarkers {
		if strings.Contains(lower, m) {
			return Candidate{CellType: "rule", Title: statementTitle(stmt), Body: stmt}, true
		}
	}
	return Candidate{}, false
}

func classifyFact(stmt string) (Candidate, bool) {
	lower := " " + strings.ToLower(stmt) + " "
	for _, m := range factMarkers {
		if strings.Contains(lower, m) {
			return Candidate{CellType: "fact", Title: statementTitle(stmt), Body: stmt}, true
		}
	}
	return Candidate{}, false
}

// statementTitle shortens a statement to its leading words.
const titleWords = 8

func statementTitle(stmt string) string {
	words := strings.Fields(stmt)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	return strings.Join(words, " ")
}

// splitStatements breaks a summary into individual statements on sentence
// punctuation and line breaks.
func splitStatements(text string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" {
			statements = append(statements, s)
		}
	}

	for _, r := range text {
		switch r {
		case '.', ';', '!', '?', '\n':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return statements
}
