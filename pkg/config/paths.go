package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvPicoSwarmConfig = "PICOSWARM_CONFIG"
	EnvPicoSwarmHome   = "PICOSWARM_HOME"
)

type RuntimePaths struct {
	HomeDir    string
	ConfigPath string
	MetricsDB  string
	LogFile    string
}

// ResolveRuntimePaths picks the config file location. PICOSWARM_CONFIG wins
// over PICOSWARM_HOME, which wins over ~/.picoswarm.
func ResolveRuntimePaths() RuntimePaths {
	if configPath := expandHome(strings.TrimSpace(os.Getenv(EnvPicoSwarmConfig))); configPath != "" {
		return buildRuntimePaths(filepath.Dir(configPath), configPath)
	}

	homeDir := expandHome(strings.TrimSpace(os.Getenv(EnvPicoSwarmHome)))
	if homeDir == "" {
		homeDir = defaultHome()
	}

	return buildRuntimePaths(homeDir, filepath.Join(homeDir, "config.json"))
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".picoswarm"
	}
	return filepath.Join(home, ".picoswarm")
}

func buildRuntimePaths(homeDir, configPath string) RuntimePaths {
	return RuntimePaths{
		HomeDir:    homeDir,
		ConfigPath: configPath,
		MetricsDB:  filepath.Join(homeDir, "metrics.db"),
		LogFile:    filepath.Join(homeDir, "picoswarm.log"),
	}
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
