// Package util collects small generic helpers shared across the bridge.
package util

import (
	"os"

	"golang.org/x/exp/constraints"
)

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// CheckFileExists reports whether path exists and is not a directory.
// Readability is not checked.
func CheckFileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
