package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrPathTraversal indicates a path escapes its allowed root.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidUserID indicates a user id is empty, too long or contains
	// characters outside [A-Za-z0-9_.@-].
	ErrInvalidUserID = errors.New("invalid user ID")
)

// MaxUserIDLength bounds user ids accepted from callers.
const MaxUserIDLength = 128

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

// ValidateUserID checks an id supplied by an API caller.
func ValidateUserID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	case len(id) > MaxUserIDLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidUserID, MaxUserIDLength)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%w: contains '..'", ErrInvalidUserID)
	case !userIDPattern.MatchString(id):
		return fmt.Errorf("%w: must match [A-Za-z0-9_.@-]", ErrInvalidUserID)
	}
	return nil
}

// ValidatePath rejects traversal and returns the cleaned absolute path.
// When allowedRoot is set the path must resolve inside it.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}
	return absPath, nil
}
