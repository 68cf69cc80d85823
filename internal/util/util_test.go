package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMax(t *testing.T) {
	assert.Equal(t, 2, Max(1, 2))
	assert.Equal(t, 2.5, Max(1.5, 2.5))
}

func TestCheckFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	assert.False(t, CheckFileExists(file))

	require := os.WriteFile(file, []byte("x"), 0o644)
	assert.NoError(t, require)
	assert.True(t, CheckFileExists(file))
	assert.False(t, CheckFileExists(dir))
}
