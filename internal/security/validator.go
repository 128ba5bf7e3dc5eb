// Package security validates and sanitizes client-supplied input before
// it reaches the session layer.
package security

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxUsernameLength bounds display names.
	MaxUsernameLength = 50
	// MaxBodyLength bounds plaintext message bodies.
	MaxBodyLength = 2000
)

var (
	validUsername = regexp.MustCompile(`^[\p{L}\p{N} _\-]+$`)
	validRoomCode = regexp.MustCompile(`^\d{6}$`)
)

// ValidateUsername validates and sanitizes a display name.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)

	if username == "" {
		return "", fmt.Errorf("username cannot be empty")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return "", fmt.Errorf("username too long (max %d characters)", MaxUsernameLength)
	}
	if !validUsername.MatchString(username) {
		return "", fmt.Errorf("username contains invalid characters")
	}

	return html.EscapeString(username), nil
}

// ValidateRoomCode checks the 6-digit room code shape. It says nothing
// about whether the room exists.
func ValidateRoomCode(code string) (string, error) {
	code = strings.TrimSpace(code)

	if !validRoomCode.MatchString(code) {
		return "", fmt.Errorf("room code must be exactly 6 digits")
	}
	return code, nil
}

// ValidateBody validates a plaintext message body. Bodies are encrypted
// before storage, so HTML is escaped here at the only point it is seen
// in the clear. Bare URLs are left unescaped: escaping the ampersands in
// a query string would corrupt uploaded-image links.
func ValidateBody(body string) (string, error) {
	body = strings.TrimSpace(body)

	if body == "" {
		return "", fmt.Errorf("message cannot be empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", fmt.Errorf("message too long (max %d characters)", MaxBodyLength)
	}

	if isBareURL(body) {
		return body, nil
	}
	return html.EscapeString(body), nil
}

func isBareURL(body string) bool {
	if strings.ContainsAny(body, " \t\n") {
		return false
	}
	lower := strings.ToLower(body)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
