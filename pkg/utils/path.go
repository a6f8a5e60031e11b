package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecureJoin joins elements onto base and fails if the result escapes base.
// Object keys are untrusted input when they become local paths, so a key
// such as "../../etc/passwd" must not be written outside the target
// directory.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) && fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory: %s", strings.Join(elements, "/"))
	}
	return fullPath, nil
}
