package main

// Process exit codes, so supervisors can tell failures apart
const (
	ExitCodeSuccess      = 0
	ExitCodeGeneralError = 1
	// ExitCodePortConflict: the listen address is taken
	ExitCodePortConflict = 2
	// ExitCodeDBLocked: another process, usually a running serve, holds the data directory
	ExitCodeDBLocked        = 3
	ExitCodeConfigError     = 4
	ExitCodePermissionError = 5
)

var exitCodeDescriptions = map[int]string{
	ExitCodeSuccess:         "ok",
	ExitCodeGeneralError:    "command failed",
	ExitCodePortConflict:    "listen address already in use",
	ExitCodeDBLocked:        "data directory locked; stop the running server or use its API",
	ExitCodeConfigError:     "invalid or unresolvable configuration",
	ExitCodePermissionError: "permission denied",
}

func exitCodeDescription(code int) string {
	if d, ok := exitCodeDescriptions[code]; ok {
		return d
	}
	return "unknown exit code"
}
