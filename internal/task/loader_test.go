package task

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), mode))
	return p
}

func TestLoad_Template(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hello.yaml", "body: hello\n", 0o644)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	m, err := Load("hello.yaml")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Name())
	_, ok := m.(*Template)
	assert.True(t, ok, "yaml files load as template modules")
}

func TestLoad_Exec(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit not meaningful on windows")
	}
	dir := t.TempDir()
	p := writeFile(t, dir, "handler.sh", "#!/bin/sh\necho hi\n", 0o755)

	m, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "handler.sh", m.Name())
	_, ok := m.(*Exec)
	assert.True(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	plain := writeFile(t, dir, "notes.txt", "hello", 0o644)
	broken := writeFile(t, dir, "broken.yaml", "body: \"{{ .data.x \"\n", 0o644)
	badYAML := writeFile(t, dir, "bad.yml", "headers: [unterminated\n", 0o644)

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(dir, "missing.yaml")},
		{"directory", dir},
		{"not executable", plain},
		{"template syntax", broken},
		{"yaml syntax", badYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Load(tt.path)
			assert.Error(t, err)
			assert.Nil(t, m)
		})
	}

	_, err := Load(plain)
	if runtime.GOOS != "windows" {
		assert.True(t, errors.Is(err, ErrUnsupportedModule))
	}
}
