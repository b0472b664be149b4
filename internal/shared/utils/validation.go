// Package utils holds input validation shared by the shell and the menu
// parser.
package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Size limits (in bytes)
const (
	MaxInitDataSize = 1 * 1024 * 1024 // payload handed to a new window
	MaxJSONDepth    = 32
)

// String length limits
const (
	MaxIDLength    = 128
	MaxTitleLength = 1024
)

// ItemIDPattern allows alphanumeric, dots, hyphens and underscores, so ids
// such as "window.close" are accepted.
var ItemIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// JSONSizeValidator validates JSON size limits
type JSONSizeValidator struct {
	maxSize  int
	maxDepth int
}

// NewJSONSizeValidator creates a new validator with the specified limits
func NewJSONSizeValidator(maxSize, maxDepth int) *JSONSizeValidator {
	return &JSONSizeValidator{maxSize: maxSize, maxDepth: maxDepth}
}

// InitDataValidator returns the validator applied to window init data
func InitDataValidator() *JSONSizeValidator {
	return NewJSONSizeValidator(MaxInitDataSize, MaxJSONDepth)
}

// ValidateSize checks if the data size is within limits
func (v *JSONSizeValidator) ValidateSize(data []byte) error {
	if size := len(data); size > v.maxSize {
		return fmt.Errorf("JSON size %d bytes exceeds maximum %d bytes", size, v.maxSize)
	}
	return nil
}

// ValidateJSON validates size, structure and nesting depth. Empty input is
// accepted.
func (v *JSONSizeValidator) ValidateJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := v.ValidateSize(data); err != nil {
		return err
	}
	var js any
	if err := sonic.Unmarshal(data, &js); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if v.maxDepth > 0 {
		return checkDepth(js, 0, v.maxDepth)
	}
	return nil
}

func checkDepth(data any, currentDepth, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}
	switch v := data.(type) {
	case map[string]any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, maxLen int, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}
	if length := utf8.RuneCountInString(value); length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}
	// Null bytes
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateItemID validates a menu item id
func ValidateItemID(id, fieldName string) error {
	if err := ValidateString(id, fieldName, MaxIDLength, true); err != nil {
		return err
	}
	if !ItemIDPattern.MatchString(id) {
		return fmt.Errorf("%s %q contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed)", fieldName, id)
	}
	return nil
}

// ValidateTitle validates a window or menu title
func ValidateTitle(title string) error {
	return ValidateString(title, "title", MaxTitleLength, false)
}
