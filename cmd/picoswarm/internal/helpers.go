package internal

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sipeed/picoswarm/pkg/config"
	"github.com/sipeed/picoswarm/pkg/logger"
	"github.com/sipeed/picoswarm/pkg/swarm"
)

const Logo = "🦞"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigPath() string {
	return config.ResolveRuntimePaths().ConfigPath
}

// LoadConfig reads the config file, applies the environment and sets up
// logging from the result.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}

	if err := applyLogging(cfg); err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}

	return cfg, nil
}

func applyLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	if path := cfg.LogFilePath(); path != "" {
		return logger.EnableFileLogging(path)
	}
	return nil
}

// WithRuntime loads the config, opens a runtime for the duration of fn and
// closes it afterwards.
func WithRuntime(ctx context.Context, fn func(cfg *config.Config, rt *swarm.Runtime) error) (err error) {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	rt, err := swarm.New(cfg)
	if err != nil {
		return fmt.Errorf("opening runtime: %w", err)
	}
	defer func() {
		if cerr := rt.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(cfg, rt)
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
