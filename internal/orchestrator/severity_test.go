package orchestrator

import "testing"

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		severity Severity
		clean    string
	}{
		{
			name:     "minor tag with newline",
			raw:      "SEVERITY: MINOR\nConsider budget risk.",
			severity: SeverityMinor,
			clean:    "Consider budget risk.",
		},
		{
			name:     "critical lowercase",
			raw:      "severity: critical\nThis will corrupt data.",
			severity: SeverityCritical,
			clean:    "This will corrupt data.",
		},
		{
			name:     "important with leading whitespace",
			raw:      "  SEVERITY: IMPORTANT  The rollout plan skips staging.",
			severity: SeverityImportant,
			clean:    "The rollout plan skips staging.",
		},
		{
			name:     "none tag",
			raw:      "SEVERITY: NONE",
			severity: SeverityNone,
			clean:    "",
		},
		{
			name:     "missing tag defaults to none",
			raw:      "I think the budget needs review.",
			severity: SeverityNone,
			clean:    "I think the budget needs review.",
		},
		{
			name:     "unrecognized tag defaults to none",
			raw:      "SEVERITY: URGENT\nDo it now.",
			severity: SeverityNone,
			clean:    "SEVERITY: URGENT\nDo it now.",
		},
		{
			name:     "tag word prefix is not a tag",
			raw:      "SEVERITY: MINORITY report",
			severity: SeverityNone,
			clean:    "SEVERITY: MINORITY report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			severity, clean := ParseSeverity(tt.raw)
			if severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, severity)
			}
			if clean != tt.clean {
				t.Errorf("Expected clean %q, got %q", tt.clean, clean)
			}
		})
	}
}

func TestIsTrivial(t *testing.T) {
	tests := []struct {
		content string
		trivial bool
	}{
		{"PASS", true},
		{"pass.", true},
		{"✓", true},
		{"ok", true},
		{"OK!", true},
		{"Looks good", true},
		{"short", true}, // exactly 5 runes
		{"", true},
		{"Consider budget risk.", false},
		{"passed the review but the rollout is risky", false},
	}
	for _, tt := range tests {
		if got := IsTrivial(tt.content); got != tt.trivial {
			t.Errorf("IsTrivial(%q) = %v, want %v", tt.content, got, tt.trivial)
		}
	}
}
