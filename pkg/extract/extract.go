// Package extract turns the assistant's final reply into a structured
// analysis record. Parsing prefers a JSON payload embedded in the reply and
// falls back to label-based heuristics over the prose; both paths are total
// and substitute defaults for anything missing, so extraction never fails an
// otherwise successful run.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Defaults substituted when a section is missing from the reply.
const (
	DefaultScore      = 50
	DefaultPurpose    = "Script purpose not identified"
	DefaultSuggestion = "No specific suggestions provided"
)

// Analysis is the structured result of one completed script analysis.
// It is produced once per run and never mutated afterward.
type Analysis struct {
	Purpose          string                   `json:"purpose"`
	SecurityScore    int                      `json:"security_score"`
	CodeQualityScore int                      `json:"code_quality_score"`
	RiskScore        int                      `json:"risk_score"`
	Suggestions      []string                 `json:"suggestions"`
	CommandDetails   map[string]CommandDetail `json:"command_details"`
	DocReferences    []DocReference           `json:"doc_references"`
	RawText          string                   `json:"raw_text,omitempty"`
}

// CommandDetail describes one command the assistant called out, keyed by the
// parameter names it discussed.
type CommandDetail struct {
	Parameters map[string]string `json:"parameters"`
}

// DocReference is a link the assistant cited.
type DocReference struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

var (
	purposeRe       = regexp.MustCompile(`(?i)purpose:\s*(.+)`)
	securityScoreRe = regexp.MustCompile(`(?i)security score:\s*(\d+)`)
	qualityScoreRe  = regexp.MustCompile(`(?i)quality score:\s*(\d+)`)
	riskScoreRe     = regexp.MustCompile(`(?i)risk score:\s*(\d+)`)
	paramBulletRe   = regexp.MustCompile("^[-*]\\s*`([^`]+)`\\s*:\\s*(.*)$")
	markdownLinkRe  = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// newAnalysis returns an Analysis carrying every default.
func newAnalysis() *Analysis {
	return &Analysis{
		Purpose:          DefaultPurpose,
		SecurityScore:    DefaultScore,
		CodeQualityScore: DefaultScore,
		RiskScore:        DefaultScore,
		Suggestions:      []string{DefaultSuggestion},
		CommandDetails:   map[string]CommandDetail{},
		DocReferences:    []DocReference{},
	}
}

// Extract derives an Analysis from free-form reply text using labeled-line
// heuristics. Missing sections fall back to defaults; malformed sections are
// skipped, never fatal.
func Extract(text string) *Analysis {
	analysis := newAnalysis()
	analysis.RawText = text
	if strings.TrimSpace(text) == "" {
		return analysis
	}

	if match := purposeRe.FindStringSubmatch(text); match != nil {
		if purpose := strings.TrimSpace(match[1]); purpose != "" {
			analysis.Purpose = purpose
		}
	}
	analysis.SecurityScore = scoreOrDefault(securityScoreRe, text)
	analysis.CodeQualityScore = scoreOrDefault(qualityScoreRe, text)
	analysis.RiskScore = scoreOrDefault(riskScoreRe, text)

	lines := strings.Split(text, "\n")
	if bullets := bulletsAfter(lines, "suggestions:"); len(bullets) > 0 {
		analysis.Suggestions = bullets
	}
	analysis.CommandDetails = commandSections(lines)
	analysis.DocReferences = docReferences(bulletsAfter(lines, "documentation references:"))

	return analysis
}

func scoreOrDefault(re *regexp.Regexp, text string) int {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return DefaultScore
	}
	score, err := strconv.Atoi(match[1])
	if err != nil {
		return DefaultScore
	}
	return score
}

// bulletsAfter collects the bullet list that follows a labeled line. The list
// ends at the first non-blank line that is not a bullet.
func bulletsAfter(lines []string, label string) []string {
	var items []string
	collecting := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !collecting {
			if isLabelLine(trimmed, label) {
				collecting = true
			}
			continue
		}
		if item, ok := bulletText(trimmed); ok {
			items = append(items, item)
			continue
		}
		if trimmed == "" {
			continue
		}
		break
	}
	return items
}

// isLabelLine reports whether a trimmed line carries the given label,
// tolerating markdown heading markers and bold wrapping.
func isLabelLine(trimmed, label string) bool {
	stripped := strings.TrimLeft(trimmed, "#*_ ")
	stripped = strings.TrimRight(stripped, "*_ ")
	return strings.HasPrefix(strings.ToLower(stripped), label)
}

func bulletText(trimmed string) (string, bool) {
	for _, marker := range []string{"- ", "* "} {
		if strings.HasPrefix(trimmed, marker) {
			return strings.TrimSpace(trimmed[len(marker):]), true
		}
	}
	return "", false
}

// commandSections parses "## <CommandName>" sections that carry a
// "parameters:" bullet list of `name`: description pairs. Sections without
// parseable parameters contribute nothing.
func commandSections(lines []string) map[string]CommandDetail {
	details := map[string]CommandDetail{}

	var name string
	inParameters := false
	var params map[string]string

	flush := func() {
		if name != "" && len(params) > 0 {
			details[name] = CommandDetail{Parameters: params}
		}
		name = ""
		inParameters = false
		params = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			flush()
			name = strings.Trim(strings.TrimPrefix(trimmed, "## "), "` ")
			continue
		}
		if strings.HasPrefix(trimmed, "# ") {
			flush()
			continue
		}
		if name == "" {
			continue
		}
		if isLabelLine(trimmed, "parameters:") {
			inParameters = true
			params = map[string]string{}
			continue
		}
		if !inParameters {
			continue
		}
		if match := paramBulletRe.FindStringSubmatch(trimmed); match != nil {
			params[match[1]] = strings.TrimSpace(match[2])
			continue
		}
		if trimmed != "" {
			inParameters = false
		}
	}
	flush()

	return details
}

// docReferences parses reference bullets, preferring markdown links and
// falling back to the bullet text as a bare title.
func docReferences(bullets []string) []DocReference {
	refs := make([]DocReference, 0, len(bullets))
	for _, bullet := range bullets {
		if match := markdownLinkRe.FindStringSubmatch(bullet); match != nil {
			refs = append(refs, DocReference{Title: match[1], URL: match[2]})
			continue
		}
		refs = append(refs, DocReference{Title: bullet})
	}
	return refs
}
