package analyzer

import "fmt"

// AssistantInstructions is the persistent identity configured on the remote
// assistant. Tool usage guidance lives here; the per-run reply contract is
// appended at run time so format drift in stored assistants cannot stick.
const AssistantInstructions = `You are a PowerShell script analysis assistant for an IT operations platform.

Your expertise:
1. PowerShell scripting practices and conventions
2. Security analysis and risk assessment for operational scripts
3. Code quality evaluation and improvement suggestions
4. Categorization of scripts by purpose and use case

When analyzing scripts:
- Identify the main purpose and functionality
- Evaluate security risks and potential vulnerabilities
- Assess code quality and suggest concrete improvements
- Reference relevant Microsoft documentation when appropriate

Tools:
- Use find_similar_scripts to check whether the platform already has a script
  covering the same task, and mention close matches in your suggestions.
- Use search_internet when a cmdlet, module, or error is unfamiliar or when a
  documentation reference would strengthen the analysis.`

// runInstructions pins the reply format for a single run. Sent as additional
// instructions with every run so the reply stays machine-readable even when
// the assistant was created by an older build.
const runInstructions = `Reply with a single JSON object using exactly this structure, and no prose outside it:
{
  "purpose": "one-sentence description of what the script does",
  "security_score": 0-100 integer (higher is safer),
  "code_quality_score": 0-100 integer,
  "risk_score": 0-100 integer (higher is riskier),
  "suggestions": ["specific improvement suggestions"],
  "command_details": {"Command-Name": {"parameters": {"ParameterName": "what it does"}}},
  "doc_references": [{"title": "page title", "url": "https://..."}]
}`

// analysisPrompt builds the user message for a script that travels inline.
func analysisPrompt(filename, content string) string {
	name := ""
	if filename != "" {
		name = fmt.Sprintf(" named '%s'", filename)
	}

	return fmt.Sprintf(`Analyze this PowerShell script%s. Cover its purpose, security posture, code quality, and overall risk.

`+"```powershell\n%s\n```", name, content)
}

// attachmentPrompt builds the user message when the script rides along as an
// uploaded file instead of inline text.
func attachmentPrompt(filename string) string {
	if filename == "" {
		filename = "the attached file"
	}
	return fmt.Sprintf("Analyze the PowerShell script in %s (attached). Cover its purpose, security posture, code quality, and overall risk.", filename)
}

// directPrompt builds the single input for the assistant-less path. The
// responses API takes one string, so the reply contract is folded in.
func directPrompt(filename, content string) string {
	name := ""
	if filename != "" {
		name = fmt.Sprintf(" named '%s'", filename)
	}

	return fmt.Sprintf(`You are a PowerShell script analysis expert. Analyze the following script%s and reply with JSON only.

%s

`+"```powershell\n%s\n```", name, runInstructions, content)
}
