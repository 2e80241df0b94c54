package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		wantErr bool
	}{
		{"simple", "room-1", false},
		{"uuid", "4f6c0c1e-8d0e-4b8e-9a55-3f3f1d0e2b7a", false},
		{"unicode", "комната", false},
		{"max length", strings.Repeat("r", MaxRoomIDLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("r", MaxRoomIDLength+1), true},
		{"slash", "a/b", true},
		{"control", "room\n1", true},
		{"invalid utf8", "room\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.roomID)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateRoomID(%q) = %v", tt.roomID, err)
		})
	}
}

func TestValidateParticipantID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", "user123", false},
		{"with separators", "org:user_1.a-b", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxParticipantIDLength+1), true},
		{"space", "user name", true},
		{"at sign", "user@name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantID(tt.id)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName("Ada Lovelace"))
	assert.NoError(t, ValidateDisplayName(strings.Repeat("é", MaxDisplayNameLength)))
	assert.Error(t, ValidateDisplayName("   "))
	assert.Error(t, ValidateDisplayName(strings.Repeat("a", MaxDisplayNameLength+1)))
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://example.com", false},
		{"wss", "wss://relay.example.com/ws", false},
		{"empty", "", true},
		{"ftp", "ftp://example.com", true},
		{"no host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestValidateMimeType(t *testing.T) {
	assert.NoError(t, ValidateMimeType("video/webm;codecs=vp8,opus"))
	assert.NoError(t, ValidateMimeType("video/x-matroska;codecs=mjpeg,opus"))
	assert.NoError(t, ValidateMimeType("video/mp4"))
	assert.Error(t, ValidateMimeType(""))
	assert.Error(t, ValidateMimeType("webm"))
}
