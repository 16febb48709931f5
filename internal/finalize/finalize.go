// Package finalize checks a draft response against behavioral rules before
// it leaves the reasoning cycle. It is a pure function of its inputs: each
// named check runs independently and produces at most one violation.
package finalize

import (
	"fmt"
	"regexp"
	"strings"

	"workmem/internal/model"
)

// Severity of a violation.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Integrity verdicts.
const (
	IntegrityOK                = "OK"
	IntegrityNeedsVerification = "NEEDS_VERIFICATION"
	IntegrityBlocked           = "BLOCKED"
)

// Violation is one behavioral finding in a draft.
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Input carries the draft and the memory it was produced from.
type Input struct {
	DraftText   string
	Cells       []model.Cell
	Experiences []model.Experience
}

// Result is the finalization outcome.
type Result struct {
	FinalizedText string      `json:"finalized_text"`
	Violations    []Violation `json:"violations"`
	Integrity     string      `json:"integrity"`
}

// check inspects the input and returns at most one violation.
type check struct {
	name string
	fn   func(in Input) *Violation
}

var checks = []check{
	{name: "citation_required", fn: checkCitationRequired},
	{name: "exact_figure", fn: checkExactFigure},
	{name: "inference_labeling", fn: checkInferenceLabeling},
	{name: "hedging_density", fn: checkHedgingDensity},
	{name: "contradiction_notice", fn: checkContradictionNotice},
	{name: "absolute_claim", fn: checkAbsoluteClaim},
	{name: "procedural_steps", fn: checkProceduralSteps},
}

// Finalize runs every check over the draft and computes the integrity
// verdict: BLOCKED on any error, NEEDS_VERIFICATION on any warning,
// otherwise OK.
func Finalize(in Input) Result {
	result := Result{
		FinalizedText: in.DraftText,
		Violations:    []Violation{},
		Integrity:     IntegrityOK,
	}

	for _, c := range checks {
		if v := c.fn(in); v != nil {
			v.Rule = c.name
			result.Violations = append(result.Violations, *v)
		}
	}

	for _, v := range result.Violations {
		switch v.Severity {
		case SeverityError:
			result.Integrity = IntegrityBlocked
		case SeverityWarning:
			if result.Integrity != IntegrityBlocked {
				result.Integrity = IntegrityNeedsVerification
			}
		}
	}

	return result
}

var researchClaims = []string{
	"studies show", "research indicates", "research shows", "evidence suggests",
	"experts say", "data shows", "it has been proven",
}

var citationMarkers = []string{"[", "(source", "http://", "https://", "see:"}

func checkCitationRequired(in Input) *Violation {
	lower := strings.ToLower(in.DraftText)
	for _, claim := range researchClaims {
		if strings.Contains(lower, claim) && !hasAny(lower, citationMarkers) {
			return &Violation{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("research claim %q has no citation marker", claim),
			}
		}
	}
	return nil
}

// exactFigure matches precise decimals and large absolute counts that
// usually come from a source.
var exactFigure = regexp.MustCompile(`\b\d+\.\d+%|\b\d{1,3}(,\d{3})+\b`)

func checkExactFigure(in Input) *Violation {
	if m := exactFigure.FindString(in.DraftText); m != "" && !hasAny(strings.ToLower(in.DraftText), citationMarkers) {
		return &Violation{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("exact figure %q has no citation marker", m),
		}
	}
	return nil
}

var inferenceMarkers = []string{"likely", "presumably", "i infer", "inferred", "this suggests", "appears to"}

func checkInferenceLabeling(in Input) *Violation {
	lower := strings.ToLower(in.DraftText)
	for _, c := range in.Cells {
		if c.Trust >= 2 {
			continue
		}
		if referencesCell(lower, c) && !hasAny(lower, inferenceMarkers) {
			return &Violation{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("low-trust cell %q referenced without inference marker", c.Title),
			}
		}
	}
	return nil
}

var hedgingMarkers = []string{"might", "maybe", "possibly", "perhaps", "unclear", "not sure", "uncertain", "hard to say"}

const hedgingLimit = 3

func checkHedgingDensity(in Input) *Violation {
	lower := strings.ToLower(in.DraftText)
	count := 0
	for _, m := range hedgingMarkers {
		count += strings.Count(lower, m)
	}
	if count >= hedgingLimit {
		return &Violation{
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%d hedging markers suggest missing information", count),
		}
	}
	return nil
}

func checkContradictionNotice(in Input) *Violation {
	lower := strings.ToLower(in.DraftText)
	for _, c := range in.Cells {
		if c.ContradictionCount >= 1 && referencesCell(lower, c) {
			return &Violation{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("cell %q has %d recorded contradictions", c.Title, c.ContradictionCount),
			}
		}
	}
	return nil
}

var absoluteClaims = []string{
	"always works", "never fails", "100% safe", "100% reliable", "guaranteed to work",
	"cannot fail", "works every time",
}

func checkAbsoluteClaim(in Input) *Violation {
	lower := strings.ToLower(in.DraftText)
	for _, claim := range absoluteClaims {
		if strings.Contains(lower, claim) {
			return &Violation{
				Severity: SeverityError,
				Message:  fmt.Sprintf("absolute claim %q", claim),
			}
		}
	}
	return nil
}

var proceduralMarkers = []string{"first,", "then ", "next,", "after that", "finally,"}

var numberedStep = regexp.MustCompile(`(?m)^\s*\d+[.)]`)

const proceduralLengthMin = 400

func checkProceduralSteps(in Input) *Violation {
	if len(in.DraftText) < proceduralLengthMin {
		return nil
	}
	lower := strings.ToLower(in.DraftText)
	if hasAny(lower, proceduralMarkers) && !numberedStep.MatchString(in.DraftText) {
		return &Violation{
			Severity: SeverityInfo,
			Message:  "procedural text lacks numbered steps",
		}
	}
	return nil
}

// referencesCell reports whether the draft draws on a cell's content. Title
// match is the cheap proxy used throughout the finalizer.
func referencesCell(lowerDraft string, c model.Cell) bool {
	title := strings.ToLower(strings.TrimSpace(c.Title))
	return title != "" && strings.Contains(lowerDraft, title)
}

func hasAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
