package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxRoomIDLength        = 128
	MaxParticipantIDLength = 100
	MaxDisplayNameLength   = 100
)

var (
	// ParticipantIDRegex validates participant ID format
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// MimeTypeRegex accepts type/subtype with optional parameters
	MimeTypeRegex = regexp.MustCompile(`^[a-z]+/[a-z0-9.+-]+(;.*)?$`)
)

// ValidateRoomID accepts any printable UTF-8 identifier up to MaxRoomIDLength bytes.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("roomId must be at most %d characters", MaxRoomIDLength)
	}
	if !utf8.ValidString(roomID) {
		return fmt.Errorf("roomId is not valid UTF-8")
	}
	for _, r := range roomID {
		if unicode.IsControl(r) || r == '/' {
			return fmt.Errorf("roomId contains invalid characters")
		}
	}
	return nil
}

// ValidateParticipantID validates participant ID
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant ID is required")
	}
	if len(id) > MaxParticipantIDLength {
		return fmt.Errorf("participant ID is too long (max %d characters)", MaxParticipantIDLength)
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}

// ValidateDisplayName validates a participant display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return fmt.Errorf("name is too long (max %d characters)", MaxDisplayNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name contains invalid characters")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateMimeType validates a recording MIME type such as "video/webm;codecs=vp8,opus".
func ValidateMimeType(mime string) error {
	if mime == "" {
		return fmt.Errorf("mime type is required")
	}
	if !MimeTypeRegex.MatchString(strings.ToLower(mime)) {
		return fmt.Errorf("invalid mime type %q", mime)
	}
	return nil
}
