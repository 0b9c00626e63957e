package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"drpactor/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTrace(t *testing.T) {
	assert.Equal(t, "0", getTraceFields(nil)) //nolint:staticcheck
	assert.Equal(t, "0", getTraceFields(context.Background()))

	ctx := WithTrace(context.Background(), "visit=42")
	assert.Equal(t, "visit=42", getTraceFields(ctx))
}

func TestInitWithConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "drp.log")

	err := InitWithConfig(config.LoggerConfig{
		Level:  "debug",
		Output: "file",
		File:   config.LoggerFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
	})
	require.NoError(t, err)

	InfoCtx(WithTrace(context.Background(), "visit=7"), "ingested %d files", 3)
	_ = Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visit=7\tingested 3 files")
}
