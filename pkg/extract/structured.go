package extract

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// structuredPayload is the JSON shape the assistant is instructed to answer
// with. Pointer fields keep absent and zero distinguishable; scores decode as
// numbers so fractional values still parse.
type structuredPayload struct {
	Purpose          *string                  `json:"purpose"`
	SecurityScore    *float64                 `json:"security_score"`
	CodeQualityScore *float64                 `json:"code_quality_score"`
	RiskScore        *float64                 `json:"risk_score"`
	Suggestions      []string                 `json:"suggestions"`
	CommandDetails   map[string]CommandDetail `json:"command_details"`
	DocReferences    []DocReference           `json:"doc_references"`
}

// ParseOrExtract converts reply text into an Analysis, preferring an embedded
// structured payload and falling back to the line heuristics in Extract.
func ParseOrExtract(text string) *Analysis {
	if analysis, ok := ParseStructured(text); ok {
		return analysis
	}
	return Extract(text)
}

// ParseStructured looks for a JSON analysis payload inside the reply text:
// the whole reply, a fenced code block, or the first balanced brace span.
// Near-JSON is run through jsonrepair before giving up. The second return is
// false when no recognizable payload was found.
func ParseStructured(text string) (*Analysis, bool) {
	candidate := locateJSON(text)
	if candidate == "" {
		return nil, false
	}

	var payload structuredPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, false
		}
		if unmarshalErr := json.Unmarshal([]byte(repaired), &payload); unmarshalErr != nil {
			return nil, false
		}
	}

	// An arbitrary JSON object in the prose (an example, a config snippet)
	// must not shadow the heuristic path.
	if payload.Purpose == nil && payload.SecurityScore == nil &&
		payload.CodeQualityScore == nil && payload.RiskScore == nil {
		return nil, false
	}
	return payload.toAnalysis(text), true
}

func (p *structuredPayload) toAnalysis(raw string) *Analysis {
	analysis := newAnalysis()
	analysis.RawText = raw

	if p.Purpose != nil {
		if purpose := strings.TrimSpace(*p.Purpose); purpose != "" {
			analysis.Purpose = purpose
		}
	}
	if p.SecurityScore != nil {
		analysis.SecurityScore = int(*p.SecurityScore)
	}
	if p.CodeQualityScore != nil {
		analysis.CodeQualityScore = int(*p.CodeQualityScore)
	}
	if p.RiskScore != nil {
		analysis.RiskScore = int(*p.RiskScore)
	}
	if len(p.Suggestions) > 0 {
		analysis.Suggestions = p.Suggestions
	}
	if len(p.CommandDetails) > 0 {
		analysis.CommandDetails = p.CommandDetails
	}
	if len(p.DocReferences) > 0 {
		analysis.DocReferences = p.DocReferences
	}
	return analysis
}

// locateJSON finds the JSON candidate inside mixed prose.
func locateJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	if block := fencedBlock(trimmed); block != "" {
		return block
	}
	return braceSpan(trimmed)
}

// fencedBlock returns the first ``` code block whose content is an object.
func fencedBlock(text string) string {
	if !strings.Contains(text, "```") {
		return ""
	}

	var block []string
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				candidate := strings.TrimSpace(strings.Join(block, "\n"))
				if strings.HasPrefix(candidate, "{") {
					return candidate
				}
				block = block[:0]
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			block = append(block, line)
		}
	}
	return ""
}

// braceSpan returns the first balanced {...} span. An unbalanced span is
// returned as-is for jsonrepair to complete.
func braceSpan(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}
