package orchestrator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Severity is an observer's self-reported signal for whether its reply
// should surface to the user.
type Severity string

const (
	SeverityNone      Severity = "NONE"
	SeverityMinor     Severity = "MINOR"
	SeverityImportant Severity = "IMPORTANT"
	SeverityCritical  Severity = "CRITICAL"
)

var severityTag = regexp.MustCompile(`(?i)^\s*SEVERITY:\s*(NONE|MINOR|IMPORTANT|CRITICAL)\b\s*`)

// ParseSeverity extracts the leading severity tag from an observer's raw
// output and returns the severity plus the clean content with the tag
// line stripped. A missing or unrecognized tag defaults to NONE.
func ParseSeverity(raw string) (Severity, string) {
	loc := severityTag.FindStringSubmatchIndex(raw)
	if loc == nil {
		return SeverityNone, strings.TrimSpace(raw)
	}
	tag := strings.ToUpper(raw[loc[2]:loc[3]])
	clean := strings.TrimSpace(raw[loc[1]:])
	return Severity(tag), clean
}

// trivialPassPhrases are replies treated as silence regardless of length.
var trivialPassPhrases = map[string]struct{}{
	"pass":       {},
	"ok":         {},
	"✓":          {},
	"looks good": {},
}

// IsTrivial reports whether clean observer content is a pass-phrase or
// too short to be a substantive contribution (5 characters or fewer).
// The rule applies uniformly on every observer path.
func IsTrivial(clean string) bool {
	trimmed := strings.TrimSpace(clean)
	if utf8.RuneCountInString(trimmed) <= 5 {
		return true
	}
	normalized := strings.ToLower(strings.Trim(trimmed, ".!"))
	_, ok := trivialPassPhrases[normalized]
	return ok
}
