package api

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// validIDRE matches the allowed character set for target, distribution set,
// rollout and tenant IDs: alphanumeric plus dot, underscore, and hyphen.
var validIDRE = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,253}$`)

// ValidateID checks that id is a well-formed resource identifier. Returns a
// non-nil error with a user-readable message if validation fails.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.ContainsAny(id, "/\\\x00\n\r") {
		return fmt.Errorf("id %q contains invalid characters", id)
	}
	if !validIDRE.MatchString(id) {
		return fmt.Errorf("id %q is invalid (allowed: a-z A-Z 0-9 . _ - up to 253 chars)", id)
	}
	return nil
}

// ValidateFilePath cleans path and rejects null bytes. Any directory is
// allowed. Returns the cleaned path.
func ValidateFilePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path must not be empty")
	}
	if strings.ContainsAny(path, "\x00") {
		return "", fmt.Errorf("file path contains null byte")
	}
	return filepath.Clean(path), nil
}

// ParseAttributes turns key=value pairs into an attribute map.
func ParseAttributes(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("attribute %q must have the form key=value", p)
		}
		attrs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return attrs, nil
}
