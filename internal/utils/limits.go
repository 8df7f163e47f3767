package utils

import (
	"fmt"
	"io"
	"strings"
)

const (
	// MaxConfigFileSize is the maximum size for the console YAML config (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024

	// MaxBlockingConfigSize is the maximum size of the helper-owned blocking config (256KB)
	MaxBlockingConfigSize = 256 * 1024

	// MaxCacheValueSize mirrors the default memcached item limit (1MB)
	MaxCacheValueSize = 1 * 1024 * 1024

	// MaxFormBodySize is the maximum size for control form posts (64KB)
	MaxFormBodySize = 64 * 1024

	// MaxYAMLDepth is the maximum depth for YAML parsing
	MaxYAMLDepth = 100

	// MaxConfigLineLength caps a single key = value line
	MaxConfigLineLength = 4096
)

// LimitedReader returns a reader that limits the amount of data read
func LimitedReader(r io.Reader, limit int64) io.Reader {
	return &io.LimitedReader{R: r, N: limit}
}

// ReadAllLimited reads all data from r up to limit bytes
func ReadAllLimited(r io.Reader, limit int64) ([]byte, error) {
	limited := LimitedReader(r, limit+1) // +1 to detect if limit exceeded
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("data exceeds maximum size of %d bytes", limit)
	}

	return data, nil
}

// CheckYAML rejects oversized documents and obvious alias bombs before
// they reach yaml.Unmarshal.
func CheckYAML(data []byte, maxSize int64) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("YAML data exceeds maximum size of %d bytes", maxSize)
	}

	if detectYAMLBomb(string(data)) {
		return fmt.Errorf("potential YAML bomb detected")
	}

	return nil
}

// detectYAMLBomb checks for patterns that indicate a YAML bomb
func detectYAMLBomb(yaml string) bool {
	anchorCount := strings.Count(yaml, "&")
	aliasCount := strings.Count(yaml, "*")

	if aliasCount > 10 && aliasCount > anchorCount*10 {
		return true
	}

	nestingLevel := 0
	maxNesting := 0
	for _, char := range yaml {
		switch char {
		case '[', '{':
			nestingLevel++
			if nestingLevel > maxNesting {
				maxNesting = nestingLevel
			}
		case ']', '}':
			nestingLevel--
		}
	}

	return maxNesting > MaxYAMLDepth
}
