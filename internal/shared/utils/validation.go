package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits
const (
	MaxIDLength          = 128
	MaxMessageSize       = 16 * 1024 // single chat prompt, in characters
	MaxTerminalInputSize = 64 * 1024 // single terminal frame, in bytes
)

// SafeIDPattern allows alphanumeric, hyphens, underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateString validates length and rejects null bytes
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if value == "" {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateID validates an identifier such as a session id
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}
	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}
	return nil
}

// ValidateMessage validates a chat prompt
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is required")
	}
	return ValidateString(message, "message", 1, MaxMessageSize, true)
}

// ValidateTerminalInput bounds one frame of raw terminal input. Control
// bytes are legitimate here, so only the size is checked.
func ValidateTerminalInput(input string) error {
	if len(input) > MaxTerminalInputSize {
		return fmt.Errorf("terminal input of %d bytes exceeds maximum %d bytes", len(input), MaxTerminalInputSize)
	}
	return nil
}
