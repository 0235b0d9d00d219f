// Package eventlog appends one JSONL record per finished analysis, giving the
// service a greppable audit trail independent of process logs.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxBytes is the size at which a day's log file rolls over to a
// numbered sibling.
const DefaultMaxBytes = 64 << 20

// Record is one analysis event.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id"`
	Mode             string    `json:"mode"`
	SessionKey       string    `json:"session_key,omitempty"`
	ThreadID         string    `json:"thread_id,omitempty"`
	RunID            string    `json:"run_id,omitempty"`
	AssistantID      string    `json:"assistant_id,omitempty"`
	Filename         string    `json:"filename,omitempty"`
	Status           string    `json:"status"`
	ErrorType        string    `json:"error_type,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	SecurityScore    int       `json:"security_score,omitempty"`
	CodeQualityScore int       `json:"code_quality_score,omitempty"`
	RiskScore        int       `json:"risk_score,omitempty"`
}

// Writer appends records to daily JSONL files, rolling to a numbered file
// once the current one reaches maxBytes.
type Writer struct {
	logDir   string
	maxBytes int64

	mu      sync.Mutex
	file    *os.File
	date    string
	seq     int
	written int64
}

// NewWriter creates a writer rooted at logDir. maxBytes <= 0 selects
// DefaultMaxBytes.
func NewWriter(logDir string, maxBytes int64) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	writer := &Writer{
		logDir:   logDir,
		maxBytes: maxBytes,
	}

	// Initialize with current log file.
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}

	return writer, nil
}

// WriteRecord appends one record, rotating first when the date changed or the
// current file is full. A zero Timestamp is stamped with the current time.
func (w *Writer) WriteRecord(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	jsonData = append(jsonData, '\n')

	n, err := w.file.Write(jsonData)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	// Ensure data is written to disk.
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().UTC().Format("2006-01-02")

	// New day or no current file: start over at sequence zero.
	if w.file == nil || w.date != newDate {
		w.seq = 0
		return w.rotate(newDate)
	}

	// Current file is full: move to the next numbered file.
	if w.written >= w.maxBytes {
		w.seq++
		return w.rotate(w.date)
	}

	return nil
}

// rotate opens the log file for date at the current sequence, skipping past
// files that are already full.
func (w *Writer) rotate(date string) error {
	// Close current file if open.
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		w.file = nil
	}

	for {
		path := filepath.Join(w.logDir, w.fileName(date))

		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", path, err)
		}

		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to stat log file %s: %w", path, err)
		}

		if info.Size() < w.maxBytes {
			w.file = file
			w.date = date
			w.written = info.Size()
			return nil
		}

		// Already full from a previous process; try the next one.
		_ = file.Close()
		w.seq++
	}
}

func (w *Writer) fileName(date string) string {
	if w.seq == 0 {
		return fmt.Sprintf("analyses-%s.jsonl", date)
	}
	return fmt.Sprintf("analyses-%s.%d.jsonl", date, w.seq)
}

// Close closes the current log file and cleans up resources.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}

	return nil
}

// CurrentLogFile returns the path of the currently active log file.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return filepath.Join(w.logDir, w.fileName(w.date))
}

// ReadRecords reads and parses records from a specific log file.
func ReadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var records []Record

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}

	return records, nil
}

// ListLogFiles returns all analysis log files in the log directory.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "analyses-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}

	return files, nil
}
