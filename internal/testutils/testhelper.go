package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/registry"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Describe returns the descriptor of id from reg and fails the test if it is missing.
func (h *TestHelper) Describe(reg *registry.Registry, id registry.ID) registry.Descriptor {
	h.T.Helper()
	d, err := reg.Describe(id)
	if err != nil {
		h.T.Fatalf("describe %s: %v", id, err)
	}
	return d
}

// Strings converts payloads into strings for readable assertions.
func Strings(payloads [][]byte) []string {
	result := make([]string, len(payloads))
	for i, p := range payloads {
		result[i] = string(p)
	}
	return result
}

// LoadFile reads a file relative to the project root (the directory holding go.mod).
func LoadFile(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	// Navigate up to find the project root (look for go.mod file)
	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	fullPath := filepath.Join(projectRoot, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}

	return string(data), nil
}
