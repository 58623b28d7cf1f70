package infra

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "stocklab-go"

// GetWorkspaceDir returns the root directory for runtime data. A local
// "_workspace" directory takes priority (portable/dev mode); otherwise the
// OS-standard data directory is used.
func GetWorkspaceDir() string {
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			baseDir = dataHome
		} else {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(baseDir, appName)
}

// ResolveConfigPath finds the config file: env override first, then the
// working directory.
func ResolveConfigPath() string {
	if p := os.Getenv("STOCKLAB_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
