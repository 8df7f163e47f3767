package configstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"blockctl/internal/utils"

	"github.com/sirupsen/logrus"
)

// Loader performs a full configuration read on cache miss.
type Loader interface {
	Load(ctx context.Context) (map[string]string, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (map[string]string, error)

func (f LoaderFunc) Load(ctx context.Context) (map[string]string, error) { return f(ctx) }

// FileLoader reads the helper-owned "key = value" config file.
type FileLoader struct {
	Path string
}

// Load parses the file. A missing file yields an empty configuration so the
// console still renders (the helper creates the file on first write).
func (l *FileLoader) Load(_ context.Context) (map[string]string, error) {
	f, err := os.Open(l.Path)
	if os.IsNotExist(err) {
		logrus.WithField("path", l.Path).Debug("Blocking config file not found, using defaults")
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blocking config: %w", err)
	}
	defer f.Close()

	data, err := utils.ReadAllLimited(f, utils.MaxBlockingConfigSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read blocking config: %w", err)
	}

	return ParseValues(data)
}

// ParseValues parses "key = value" lines. Blank lines and lines starting
// with '#' are skipped, as are lines without '='. Later keys win.
func ParseValues(data []byte) (map[string]string, error) {
	values := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024), utils.MaxConfigLineLength)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse blocking config: %w", err)
	}

	return values, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
