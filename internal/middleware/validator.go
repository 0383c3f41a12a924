package middleware

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidateCallID checks the call record id format
func ValidateCallID(id string) error {
	if id == "" {
		return fmt.Errorf("call id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid call id format")
	}
	return nil
}

// ValidatePatientID allows directory ids up to 64 printable characters.
func ValidatePatientID(id string) error {
	if id == "" {
		return fmt.Errorf("patient id cannot be empty")
	}
	if len(id) > 64 {
		return fmt.Errorf("patient id too long")
	}
	for _, r := range id {
		if r <= ' ' || r == '/' || r == 0x7f {
			return fmt.Errorf("invalid characters in patient id")
		}
	}
	return nil
}

// ValidateRecordingURL accepts an empty value or an absolute http(s) URL.
func ValidateRecordingURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (allowed: http, https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// ValidateDate checks a YYYY-MM-DD day
func ValidateDate(day string) error {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
