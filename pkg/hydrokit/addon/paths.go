package addon

import (
	"fmt"
	"path/filepath"
	"strings"
)

// safeJoin resolves rel under base, rejecting absolute paths and any result
// outside base.
func safeJoin(base, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	target := filepath.Join(base, filepath.FromSlash(rel))
	within, err := filepath.Rel(base, target)
	if err != nil || within == "." || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return target, nil
}
