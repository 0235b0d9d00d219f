package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolFindSimilarScripts is the constant name for the script catalog tool.
const ToolFindSimilarScripts = "find_similar_scripts"

// CatalogEntry is one known script in the reference catalog.
type CatalogEntry struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
}

// DefaultCatalog returns the built-in reference scripts used when no catalog
// file is configured.
func DefaultCatalog() []CatalogEntry {
	return []CatalogEntry{
		{Name: "disk-cleanup", Description: "Removes temporary files and rotates logs older than a retention window.", Category: "maintenance"},
		{Name: "service-restart", Description: "Checks a Windows service's health and restarts it when unresponsive.", Category: "operations"},
		{Name: "user-offboarding", Description: "Disables an Active Directory account, revokes group memberships, and archives the home directory.", Category: "identity"},
		{Name: "log-collector", Description: "Gathers Windows event logs from remote hosts and writes them to a central share.", Category: "diagnostics"},
		{Name: "cert-expiry-report", Description: "Scans certificate stores and reports certificates nearing expiry.", Category: "security"},
		{Name: "backup-verification", Description: "Validates recent backup jobs and emails a summary report.", Category: "maintenance"},
	}
}

// LoadCatalog reads a script catalog from a YAML file.
func LoadCatalog(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var doc struct {
		Scripts []CatalogEntry `yaml:"scripts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if len(doc.Scripts) == 0 {
		return nil, fmt.Errorf("catalog %s contains no scripts", path)
	}
	for i, entry := range doc.Scripts {
		if entry.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
	}
	return doc.Scripts, nil
}

// FindSimilarScriptsTool surfaces catalog scripts related to the one under
// analysis, giving the agent prior art to compare against.
type FindSimilarScriptsTool struct {
	catalog []CatalogEntry
}

// NewFindSimilarScriptsTool creates the catalog tool. A nil or empty catalog
// falls back to the built-in defaults.
func NewFindSimilarScriptsTool(catalog []CatalogEntry) *FindSimilarScriptsTool {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	return &FindSimilarScriptsTool{catalog: catalog}
}

// Name returns the tool name.
func (t *FindSimilarScriptsTool) Name() string {
	return ToolFindSimilarScripts
}

// Definition returns the tool definition for the agent manifest.
func (t *FindSimilarScriptsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: ToolFindSimilarScripts,
		Description: "Find known scripts similar to the one being analyzed. " +
			"Returns catalog entries whose name or description matches the given description; " +
			"with no match the full catalog is returned for context.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"description": {
					Type:        "string",
					Description: "Short description of what the script under analysis does",
				},
			},
			Required: []string{"description"},
		},
	}
}

// Exec filters the catalog by case-insensitive substring match against entry
// names and descriptions. An empty match set returns the whole catalog.
func (t *FindSimilarScriptsTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	description, ok := args["description"].(string)
	if !ok {
		return nil, fmt.Errorf("description is required and must be a string")
	}

	matches, matched := t.match(description)
	response := map[string]any{
		"success": true,
		"count":   len(matches),
		"scripts": matches,
	}
	if !matched {
		response["note"] = "No close match found; returning the full catalog."
	}
	return marshalResult(response)
}

func (t *FindSimilarScriptsTool) match(description string) ([]CatalogEntry, bool) {
	needle := strings.ToLower(strings.TrimSpace(description))
	if needle == "" {
		return t.catalog, false
	}

	var matches []CatalogEntry
	for _, entry := range t.catalog {
		haystack := strings.ToLower(entry.Name + " " + entry.Description + " " + entry.Category)
		if strings.Contains(haystack, needle) {
			matches = append(matches, entry)
		}
	}
	if len(matches) == 0 {
		return t.catalog, false
	}
	return matches, true
}
