package server

import (
	"math"
	"strings"
	"testing"
)

func TestValidateEntryName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
		wantCode  string
	}{
		{
			name:      "valid name",
			input:     "Megalovania",
			wantError: false,
		},
		{
			name:      "empty name",
			input:     "",
			wantError: true,
			wantCode:  "MISSING_SONG_NAME",
		},
		{
			name:      "whitespace name",
			input:     "   ",
			wantError: true,
			wantCode:  "MISSING_SONG_NAME",
		},
		{
			name:      "name too long",
			input:     strings.Repeat("a", 256),
			wantError: true,
			wantCode:  "SONG_NAME_TOO_LONG",
		},
		{
			name:      "name with newline",
			input:     "two\nlines",
			wantError: true,
			wantCode:  "INVALID_SONG_NAME_CHARACTERS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEntryName(tt.input)

			if tt.wantError && err == nil {
				t.Errorf("validateEntryName() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("validateEntryName() unexpected error: %v", err)
			}
			if err != nil && err.Code != tt.wantCode {
				t.Errorf("validateEntryName() code = %s, want %s", err.Code, tt.wantCode)
			}
		})
	}
}

func TestValidatePercent(t *testing.T) {
	tests := []struct {
		name      string
		percent   float64
		wantError bool
	}{
		{"start", 0, false},
		{"middle", 42.5, false},
		{"end", 100, false},
		{"negative", -0.1, true},
		{"past end", 100.1, true},
		{"not a number", math.NaN(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePercent(tt.percent)
			if (err != nil) != tt.wantError {
				t.Errorf("validatePercent(%v) error = %v, wantError %v", tt.percent, err, tt.wantError)
			}
		})
	}
}

func TestValidatePosition(t *testing.T) {
	if err := validatePosition(0, 3); err != nil {
		t.Errorf("validatePosition(0, 3) unexpected error: %v", err)
	}
	if err := validatePosition(2, 3); err != nil {
		t.Errorf("validatePosition(2, 3) unexpected error: %v", err)
	}
	if err := validatePosition(3, 3); err == nil {
		t.Error("validatePosition(3, 3) expected error but got none")
	}
	if err := validatePosition(-1, 3); err == nil {
		t.Error("validatePosition(-1, 3) expected error but got none")
	}
}

func TestValidateSongFile(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		filename  string
		wantError bool
	}{
		{"song.nbs", false},
		{"SONG.NBS", false},
		{"song.mid", true},
		{"song", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			err := srv.validateSongFile(tt.filename)
			if (err != nil) != tt.wantError {
				t.Errorf("validateSongFile(%q) error = %v, wantError %v", tt.filename, err, tt.wantError)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"normal", "normal"},
		{"  padded  ", "padded"},
		{"with\x00null", "withnull"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := sanitizeInput(tt.input); got != tt.expected {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int
		expected string
	}{
		{0, "0B"},
		{512, "< 1KB"},
		{2048, "2KB"},
		{3 * 1024 * 1024, "3MB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.expected {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.bytes, got, tt.expected)
		}
	}
}
