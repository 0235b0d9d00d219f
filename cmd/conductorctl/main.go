// Command conductorctl sends a PowerShell script to a running conductor
// service and prints the analysis.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/term"

	"conductor/pkg/extract"
)

// AnalyzeCtl holds the resolved CLI options.
type AnalyzeCtl struct {
	server    string
	direct    bool
	session   string
	assistant string
	apiKey    string
	rawJSON   bool
	timeout   time.Duration
}

func main() {
	var ctl AnalyzeCtl
	var showHelp bool

	flag.StringVar(&ctl.server, "server", "", "Conductor base URL (default $CONDUCTOR_SERVER or http://localhost:8000)")
	flag.BoolVar(&ctl.direct, "direct", false, "Use the stateless /analyze endpoint instead of /analyze/assistant")
	flag.StringVar(&ctl.session, "session", "", "Session id for thread continuity (sent as X-Session-Id)")
	flag.StringVar(&ctl.assistant, "assistant", "", "Assistant id override")
	flag.StringVar(&ctl.apiKey, "api-key", "", "API credential (default $CONDUCTOR_API_KEY)")
	flag.BoolVar(&ctl.rawJSON, "json", false, "Print the raw JSON response instead of a summary")
	flag.DurationVar(&ctl.timeout, "timeout", 6*time.Minute, "Request timeout")
	flag.BoolVar(&showHelp, "help", false, "Show help")
	flag.Usage = printUsage
	flag.Parse()

	if showHelp {
		printUsage()
		os.Exit(0)
	}

	if ctl.server == "" {
		ctl.server = os.Getenv("CONDUCTOR_SERVER")
	}
	if ctl.server == "" {
		ctl.server = "http://localhost:8000"
	}
	if ctl.apiKey == "" {
		ctl.apiKey = os.Getenv("CONDUCTOR_API_KEY")
	}

	content, filename, err := readScript(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := ctl.run(content, filename); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "conductorctl - PowerShell script analysis client\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s [flags] [script.ps1]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Reads the script from the file argument, or from stdin when piped.\n\n")
	fmt.Fprintf(os.Stderr, "Examples:\n")
	fmt.Fprintf(os.Stderr, "  %s cleanup.ps1\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s --session ops-review cleanup.ps1\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s --direct cleanup.ps1\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  cat cleanup.ps1 | %s --json\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
}

// readScript loads the script from the file argument or from piped stdin.
// An interactive terminal on stdin with no file argument is almost always a
// forgotten argument, so it is refused instead of hanging.
func readScript(args []string) (content, filename string, err error) {
	if len(args) > 1 {
		return "", "", fmt.Errorf("expected at most one script file, got %d arguments", len(args))
	}

	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), filepath.Base(args[0]), nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", "", fmt.Errorf("stdin is a terminal; pass a script file or pipe one in")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), "", nil
}

type analyzeRequest struct {
	Content     string `json:"content"`
	Filename    string `json:"filename,omitempty"`
	AssistantID string `json:"assistant_id,omitempty"`
}

type assistantResponse struct {
	Analysis    *extract.Analysis `json:"analysis"`
	ThreadID    string            `json:"threadId"`
	AssistantID string            `json:"assistantId"`
}

type directResponse struct {
	Analysis *extract.Analysis `json:"analysis"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details"`
	RequestID string `json:"requestId"`
}

func (c *AnalyzeCtl) run(content, filename string) error {
	endpoint := c.server + "/analyze/assistant"
	if c.direct {
		endpoint = c.server + "/analyze"
	}

	body, err := json.Marshal(analyzeRequest{
		Content:     content,
		Filename:    filename,
		AssistantID: c.assistant,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.Header.Set("X-Session-Id", c.session)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	client := &http.Client{Timeout: c.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope errorResponse
		if jsonErr := json.Unmarshal(data, &envelope); jsonErr == nil && envelope.Error != "" {
			if envelope.Details != "" {
				return fmt.Errorf("%s: %s (request %s)", envelope.Error, envelope.Details, envelope.RequestID)
			}
			return fmt.Errorf("%s (request %s)", envelope.Error, envelope.RequestID)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if c.rawJSON {
		fmt.Println(string(data))
		return nil
	}

	if c.direct {
		var envelope directResponse
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		printAnalysis(envelope.Analysis, filename)
		return nil
	}

	var envelope assistantResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printAnalysis(envelope.Analysis, filename)
	fmt.Printf("\n🧵 Thread: %s (pass --session with the same value to continue it)\n", envelope.ThreadID)
	return nil
}

func printAnalysis(analysis *extract.Analysis, filename string) {
	if analysis == nil {
		fmt.Println("No analysis returned.")
		return
	}

	if filename != "" {
		fmt.Printf("📄 %s\n\n", filename)
	}
	fmt.Printf("Purpose: %s\n", analysis.Purpose)
	fmt.Printf("Scores:  security %d, quality %d, risk %d\n",
		analysis.SecurityScore, analysis.CodeQualityScore, analysis.RiskScore)

	if len(analysis.Suggestions) > 0 {
		fmt.Println("\nSuggestions:")
		for _, s := range analysis.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}

	if len(analysis.CommandDetails) > 0 {
		fmt.Println("\nCommands:")
		for name, detail := range analysis.CommandDetails {
			fmt.Printf("  %s\n", name)
			for param, desc := range detail.Parameters {
				fmt.Printf("    %s: %s\n", param, desc)
			}
		}
	}

	if len(analysis.DocReferences) > 0 {
		fmt.Println("\nDocumentation:")
		for _, ref := range analysis.DocReferences {
			fmt.Printf("  - %s (%s)\n", ref.Title, ref.URL)
		}
	}
}
