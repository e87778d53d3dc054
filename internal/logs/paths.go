package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appDir = "grcgate"

// GetLogDir returns the standard log directory for the current OS:
// %LOCALAPPDATA%\grcgate\logs, ~/Library/Logs/grcgate or the XDG state dir.
func GetLogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDir, "logs"), nil
	}

	switch runtime.GOOS {
	case "windows":
		local := os.Getenv("LOCALAPPDATA")
		if local == "" {
			local = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(local, appDir, "logs"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appDir), nil
	case "linux":
		if os.Getuid() == 0 {
			return filepath.Join("/var/log", appDir), nil
		}
		state := os.Getenv("XDG_STATE_HOME")
		if state == "" {
			state = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(state, appDir, "logs"), nil
	default:
		return filepath.Join(home, "."+appDir, "logs"), nil
	}
}

// GetLogFilePathWithDir returns the path of filename inside logDir, creating
// the directory. An empty logDir means GetLogDir; "~/" is expanded.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}
	if strings.HasPrefix(logDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(home, logDir[2:])
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(logDir, filename), nil
}
