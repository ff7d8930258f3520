package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxFileNameLength is the longest file name accepted for a version
const MaxFileNameLength = 255

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// ValidateFileName checks a display file name. Path separators are rejected
// so a name can never be mistaken for a location.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name is required")
	}
	if utf8.RuneCountInString(name) > MaxFileNameLength {
		return fmt.Errorf("file name exceeds %d characters", MaxFileNameLength)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("file name must not contain path separators: %s", name)
	}
	return nil
}

// ValidateLocator checks that a blob locator is an absolute URL. The rest of
// the locator is opaque.
func ValidateLocator(locator string) error {
	if locator == "" {
		return fmt.Errorf("locator is required")
	}
	u, err := url.Parse(locator)
	if err != nil {
		return fmt.Errorf("invalid locator: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("locator must be an absolute URL: %s", locator)
	}
	return nil
}
