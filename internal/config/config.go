// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads server configuration from JOBCLERK_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the clerk server configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DBPath is the SQLite database path.
	DBPath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// ReapInterval is how often the built-in reaper runs. Zero disables
	// the timer; the reaper stays reachable through the API.
	ReapInterval time.Duration

	// AdminPasswordHash is a bcrypt hash. When set, the web UI requires
	// a login; the API is unaffected (runners authenticate per job by
	// token).
	AdminPasswordHash string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Port:         "8080",
		DBPath:       "jobclerk.db",
		LogLevel:     "info",
		ReapInterval: 30 * time.Second,
	}
}

// LoadFromEnv loads configuration from environment variables on top of the
// defaults.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if val := os.Getenv("JOBCLERK_PORT"); val != "" {
		cfg.Port = val
	}

	if val := os.Getenv("JOBCLERK_DB"); val != "" {
		cfg.DBPath = val
	}

	if val := os.Getenv("JOBCLERK_LOG_LEVEL"); val != "" {
		switch val {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = val
		default:
			return cfg, fmt.Errorf("invalid JOBCLERK_LOG_LEVEL: must be debug, info, warn, or error, got %q", val)
		}
	}

	if val := os.Getenv("JOBCLERK_REAP_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return cfg, fmt.Errorf("invalid JOBCLERK_REAP_INTERVAL: %w", err)
		}
		if d < 0 {
			return cfg, fmt.Errorf("JOBCLERK_REAP_INTERVAL must not be negative")
		}
		cfg.ReapInterval = d
	}

	if val := os.Getenv("JOBCLERK_ADMIN_PASSWORD_HASH"); val != "" {
		cfg.AdminPasswordHash = val
	}

	return cfg, nil
}
