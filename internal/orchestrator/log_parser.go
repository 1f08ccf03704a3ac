package orchestrator

import (
	"bufio"
	"os"
	"strings"
)

// LogCategory aggregates log lines with the same message shape so the final
// summary can show "Failed to collect ... (x3)" instead of three raw lines.
type LogCategory struct {
	Severity string // "ERROR" or "WARNING"
	Label    string
	Count    int
	Example  string
}

// LogCounts holds the totals found by scanning a session log file.
type LogCounts struct {
	Successes int
	Warnings  int
	Errors    int
}

// ParseLogCounts scans a session log and returns aggregated warning/error
// categories plus the raw counts. The summary at the end of a run reports
// these scanned counts, so they include everything written to the log and
// not just what the current process observed in memory.
func ParseLogCounts(logPath string, categoryLimit int) ([]LogCategory, LogCounts) {
	var counts LogCounts

	file, err := os.Open(logPath)
	if err != nil {
		return nil, counts
	}
	defer file.Close()

	categories := make(map[string]*LogCategory)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		severity, message := classifyLogLine(line)
		switch severity {
		case "SUCCESS":
			counts.Successes++
			continue
		case "WARNING":
			counts.Warnings++
		case "ERROR":
			counts.Errors++
		default:
			continue
		}

		label, example := splitCategoryAndExample(message)
		key := severity + "|" + label
		if existing, ok := categories[key]; ok {
			existing.Count++
			continue
		}
		categories[key] = &LogCategory{
			Severity: severity,
			Label:    label,
			Count:    1,
			Example:  truncateString(example, 160),
		}
	}

	result := make([]LogCategory, 0, len(categories))
	for _, cat := range categories {
		result = append(result, *cat)
	}
	sortLogCategories(result)

	if categoryLimit > 0 && len(result) > categoryLimit {
		result = result[:categoryLimit]
	}
	return result, counts
}

// classifyLogLine extracts the severity marker from a formatted log line.
// Lines look like "[2026-08-25 12:00:00] [ERROR] message".
func classifyLogLine(line string) (severity, message string) {
	for _, marker := range []struct {
		tag string
		sev string
	}{
		{"[ERROR]", "ERROR"},
		{"[WARNING]", "WARNING"},
		{"[SUCCESS]", "SUCCESS"},
	} {
		idx := strings.Index(line, marker.tag)
		if idx < 0 {
			continue
		}
		return marker.sev, strings.TrimSpace(line[idx+len(marker.tag):])
	}
	return "", ""
}

// splitCategoryAndExample separates a log message into a grouping label and
// the concrete detail. Messages follow the "label: detail" convention; when
// no colon is present the whole message becomes the label.
func splitCategoryAndExample(message string) (label, example string) {
	if idx := strings.Index(message, ": "); idx > 0 {
		return strings.TrimSpace(message[:idx]), strings.TrimSpace(message[idx+2:])
	}
	return message, ""
}

// sortLogCategories orders errors before warnings, then by descending count,
// then alphabetically by label.
func sortLogCategories(categories []LogCategory) {
	for i := 0; i < len(categories); i++ {
		for j := i + 1; j < len(categories); j++ {
			if logCategoryLess(categories[j], categories[i]) {
				categories[i], categories[j] = categories[j], categories[i]
			}
		}
	}
}

func logCategoryLess(a, b LogCategory) bool {
	if a.Severity != b.Severity {
		return a.Severity == "ERROR"
	}
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return a.Label < b.Label
}

func truncateString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
