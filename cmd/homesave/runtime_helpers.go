package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/tis24dev/homesave/internal/logging"
)

// ExecInfo describes where the running binary lives and which base directory
// it belongs to.
type ExecInfo struct {
	ExecPath string
	ExecDir  string
	BaseDir  string
	HasBase  bool
}

var (
	execInfo     ExecInfo
	execInfoOnce sync.Once
)

func getExecInfo() ExecInfo {
	execInfoOnce.Do(func() {
		execInfo = detectExecInfo()
	})
	return execInfo
}

func detectExecInfo() ExecInfo {
	execPath := firstUsableExecutable(collectExecPathCandidates())
	if execPath == "" {
		return ExecInfo{}
	}

	execDir := filepath.Dir(execPath)
	baseDir := locateBaseDir(execDir)
	return ExecInfo{
		ExecPath: execPath,
		ExecDir:  execDir,
		BaseDir:  baseDir,
		HasBase:  baseDir != "",
	}
}

// firstUsableExecutable resolves each candidate through symlinks and returns
// the first that is a regular file with execute permission.
func firstUsableExecutable(candidates []string) string {
	seen := map[string]struct{}{}
	for _, cand := range candidates {
		clean := filepath.Clean(strings.TrimSpace(cand))
		if clean == "" {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(clean); err == nil && strings.TrimSpace(resolved) != "" {
			clean = filepath.Clean(resolved)
		}

		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}

		info, err := os.Stat(clean)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Mode().Perm()&0o111 == 0 {
			logging.Debug("Skipping %s: lacks executable permissions", clean)
			continue
		}
		return clean
	}
	return ""
}

// baseDirMarkers are directories whose presence identifies the installation
// root the binary belongs to.
var baseDirMarkers = []string{"configs", "identity"}

// locateBaseDir walks upward from the binary's directory until it finds the
// installation layout. With no marker in sight it assumes a <base>/bin
// layout and takes the parent.
func locateBaseDir(execDir string) string {
	for dir := execDir; dir != "" && dir != "." && dir != string(filepath.Separator); {
		for _, marker := range baseDirMarkers {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if parent := filepath.Dir(execDir); parent != "" && parent != "." && parent != string(filepath.Separator) {
		return parent
	}
	return ""
}

func detectBaseDir() (string, bool) {
	info := getExecInfo()
	return info.BaseDir, info.HasBase
}

// collectExecPathCandidates gathers possible paths to the running binary in
// decreasing order of trust.
func collectExecPathCandidates() []string {
	var candidates []string

	if path, err := os.Executable(); err == nil && strings.TrimSpace(path) != "" {
		candidates = append(candidates, path)
	} else if err != nil {
		logging.Debug("os.Executable failed: %v", err)
	}

	if resolved, err := filepath.EvalSymlinks("/proc/self/exe"); err == nil && strings.TrimSpace(resolved) != "" {
		candidates = append(candidates, resolved)
	}

	arg0 := strings.TrimSpace(os.Args[0])
	if arg0 == "" {
		return candidates
	}

	if filepath.IsAbs(arg0) {
		candidates = append(candidates, arg0)
	} else if abs, err := filepath.Abs(arg0); err == nil {
		candidates = append(candidates, abs)
	}

	if found, err := exec.LookPath(arg0); err == nil && strings.TrimSpace(found) != "" {
		if abs, err := filepath.Abs(found); err == nil {
			candidates = append(candidates, abs)
		} else {
			candidates = append(candidates, found)
		}
	}

	return candidates
}

// resolveConfigPath makes a relative configuration path absolute against the
// detected base directory, so the default configs/homesave.env is found next
// to the installation regardless of the working directory.
func resolveConfigPath(configPath string) (string, error) {
	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		return "", fmt.Errorf("configuration path is empty")
	}

	if filepath.IsAbs(configPath) {
		return configPath, nil
	}

	if baseDir, ok := detectBaseDir(); ok {
		return filepath.Join(baseDir, configPath), nil
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("unable to resolve configuration path %q: %w", configPath, err)
	}
	return abs, nil
}

// resolveHostname prefers the FQDN so backup names stay distinct across a
// fleet of similarly named machines.
func resolveHostname() string {
	if fqdn := hostnameFQDN(); fqdn != "" {
		return fqdn
	}

	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	if host = strings.TrimSpace(host); host == "" {
		return "unknown"
	}
	return host
}

func hostnameFQDN() string {
	path, err := exec.LookPath("hostname")
	if err != nil {
		return ""
	}
	out, err := exec.Command(path, "-f").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// buildSignature identifies the exact binary in logs and UI footers: VCS
// revision when the build carries one, otherwise build time and an
// executable hash.
func buildSignature() string {
	hash := truncateHash(executableHash())

	stamp := ""
	if t := executableBuildTime(); !t.IsZero() {
		stamp = t.Local().Format(time.RFC3339)
	}

	if rev := vcsRevision(); rev != "" {
		sig := rev
		if stamp != "" {
			sig = fmt.Sprintf("%s (%s)", sig, stamp)
		}
		if hash != "" {
			sig = fmt.Sprintf("%s hash=%s", sig, hash)
		}
		return sig
	}

	switch {
	case stamp != "" && hash != "":
		return fmt.Sprintf("%s hash=%s", stamp, hash)
	case stamp != "":
		return stamp
	case hash != "":
		return fmt.Sprintf("hash=%s", hash)
	}
	return ""
}

// vcsRevision returns the short commit the binary was built from, with a
// trailing * when the tree was dirty. Empty without embedded VCS info.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	revision := ""
	modified := ""
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			if setting.Value == "true" {
				modified = "*"
			}
		}
	}
	if revision == "" {
		return ""
	}
	if len(revision) > 9 {
		revision = revision[:9]
	}
	return revision + modified
}

// executableBuildTime prefers the ldflags-injected stamp and falls back to
// the binary's mtime.
func executableBuildTime() time.Time {
	if buildTime != "" {
		if t, err := time.Parse(time.RFC3339, buildTime); err == nil {
			return t
		}
	}

	info := getExecInfo()
	if info.ExecPath == "" {
		return time.Time{}
	}
	stat, err := os.Stat(info.ExecPath)
	if err != nil {
		return time.Time{}
	}
	return stat.ModTime()
}

func executableHash() string {
	info := getExecInfo()
	if info.ExecPath == "" {
		return ""
	}
	f, err := os.Open(info.ExecPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

func truncateHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16]
}
