package orchestrator

import "time"

// Package-level seams used by the restore and decrypt workflows. Tests
// swap these out via setRestoreDeps and restore them afterwards.
var (
	restoreFS   FS           = osFS{}
	restoreTime TimeProvider = systemTime{}
)

func setRestoreDeps(fsys FS, timeProvider TimeProvider) {
	if fsys != nil {
		restoreFS = fsys
	}
	if timeProvider != nil {
		restoreTime = timeProvider
	}
}

func nowRestore() time.Time {
	if restoreTime == nil {
		return time.Now()
	}
	return restoreTime.Now()
}
