package kv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadFile reads a dotenv formatted file (KEY=VALUE per line, comments and
// quoting as understood by godotenv) into a Map.
func LoadFile(path string) (Map, error) {
	clean := filepath.Clean(path)
	if info, err := os.Stat(clean); err != nil {
		return nil, err
	} else if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- the path is supplied by the user on the command line
	m, err := godotenv.Read(clean)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}
	return Map(m), nil
}
