package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/homesave/internal/types"
)

// sessionLogDir holds in-flight session logs. Workflows write here first and
// persist the finished log next to the backup afterwards, so a failed run
// still leaves a readable trace.
const sessionLogDir = "/tmp/homesave"

// StartSessionLogger opens a real-time log file named after the workflow,
// host, and start time. The returned cleanup closes the file and must run
// when the session ends.
func StartSessionLogger(flow string, level types.LogLevel, useColor bool) (*Logger, string, func(), error) {
	if err := os.MkdirAll(sessionLogDir, 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("create session log directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.log",
		sanitizeFlowName(flow),
		detectHostname(),
		time.Now().Format("20060102-150405"))
	logPath := filepath.Join(sessionLogDir, name)

	logger := New(level, useColor)
	if err := logger.OpenLogFile(logPath); err != nil {
		return nil, "", nil, err
	}

	return logger, logPath, func() { _ = logger.CloseLogFile() }, nil
}

// sanitizeFlowName reduces a label to lowercase alphanumerics separated by
// single dashes, suitable for a file name component.
func sanitizeFlowName(flow string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(flow)) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingDash = b.Len() > 0
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}

	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

func detectHostname() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "host"
	}
	return sanitizeFlowName(host)
}
