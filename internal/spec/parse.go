package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a test spec from YAML bytes. JSON documents parse too,
// since JSON is a YAML subset.
func Parse(data []byte) (*Test, error) {
	var t Test
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing test spec: %w", err)
	}

	return &t, nil
}

// ParseFile reads and decodes one test spec file.
func ParseFile(path string) (*Test, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Reading operator-supplied spec files
	if err != nil {
		return nil, fmt.Errorf("reading spec file: %w", err)
	}

	return Parse(data)
}
