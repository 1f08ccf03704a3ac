// Package types defines shared application data types.
package types

// ExitCode is the process exit status reported to the shell. The values are
// stable so cron wrappers and monitoring scripts can dispatch on them.
type ExitCode int

const (
	ExitSuccess           ExitCode = 0
	ExitGenericError      ExitCode = 1
	ExitConfigError       ExitCode = 2
	ExitBackupError       ExitCode = 3
	ExitStorageError      ExitCode = 4
	ExitPermissionError   ExitCode = 5
	ExitVerificationError ExitCode = 6
	ExitCollectionError   ExitCode = 7
	ExitArchiveError      ExitCode = 8
	ExitCompressionError  ExitCode = 9
	ExitDiskSpaceError    ExitCode = 10
	ExitRestoreError      ExitCode = 11
	ExitDecryptError      ExitCode = 12
	ExitPanicError        ExitCode = 13
)

// exitCodeNames is indexed by the code value.
var exitCodeNames = [...]string{
	"success",
	"generic error",
	"configuration error",
	"backup error",
	"storage error",
	"permission error",
	"verification error",
	"collection error",
	"archive error",
	"compression error",
	"disk space error",
	"restore error",
	"decrypt error",
	"panic error",
}

// String returns a short human-readable description of the exit code.
func (e ExitCode) String() string {
	if e < 0 || int(e) >= len(exitCodeNames) {
		return "unknown error"
	}
	return exitCodeNames[e]
}

// Int returns the exit code as an integer.
func (e ExitCode) Int() int {
	return int(e)
}
