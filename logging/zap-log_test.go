package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestSetupLogger_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")
	logger := SetupLogger(path, "debug")

	logger.Debug("selector missed", zap.String("field", "title"))
	logger.Error("batch write failed")
	_ = logger.Sync()

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "selector missed", lines[0]["msg"])
	assert.Equal(t, "title", lines[0]["field"])
	assert.Equal(t, "batch write failed", lines[1]["msg"])
}

func TestSetupLogger_ProdDropsDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")
	logger := SetupLogger(path, LogLevelProd)

	logger.Debug("hidden")
	logger.Info("shown")
	_ = logger.Sync()

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestSetupLogger_ELK(t *testing.T) {
	assert.NotNil(t, SetupLogger("", LogLevelELK))
}
