package types

import (
	"regexp"
	"strings"
)

// MaxContentBytes bounds a single chat message body.
const MaxContentBytes = 64 * 1024

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	return isValidID(userID)
}

// IsValidGroupID checks if a group ID meets format requirements
func IsValidGroupID(groupID string) bool {
	return isValidID(groupID)
}

func isValidID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return idRegex.MatchString(id)
}

// ValidateContent checks a message body before it is handed to persistence.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// ValidateDirect validates the addressing and body of a direct message.
func ValidateDirect(senderID, receiverID, content string) error {
	if !IsValidUserID(senderID) || !IsValidUserID(receiverID) {
		return ErrInvalidUserID
	}
	return ValidateContent(content)
}

// ValidateGroup validates the addressing and body of a group message.
func ValidateGroup(senderID, groupID, content string) error {
	if !IsValidUserID(senderID) {
		return ErrInvalidUserID
	}
	if !IsValidGroupID(groupID) {
		return ErrInvalidGroupID
	}
	return ValidateContent(content)
}
