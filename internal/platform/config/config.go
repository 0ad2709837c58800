package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid boolean.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return fallback
}

// Folders describes where recordings are read from and corrections written to.
type Folders struct {
	Data   string // preprocessed recordings, one sub-* folder per participant
	Output string // corrected JSON files
}

// GetFolders resolves DATA_FOLDER, OUTPUT_FOLDER and BIDS_LAYOUT.
// Without OUTPUT_FOLDER, corrections go to <data>/corrected, or to
// <data>/derivatives/systole/corrected when BIDS_LAYOUT is true.
func GetFolders() Folders {
	data := GetEnv("DATA_FOLDER", ".")
	out := GetEnv("OUTPUT_FOLDER", "")
	if out == "" {
		if GetEnvBool("BIDS_LAYOUT", false) {
			out = filepath.Join(data, "derivatives", "systole", "corrected")
		} else {
			out = filepath.Join(data, "corrected")
		}
	}
	return Folders{Data: data, Output: out}
}
