package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "final cut.mp4", SanitizeString("  final\x00 cut.mp4\n"))
	assert.Equal(t, "", SanitizeString("\t\r\n"))
}

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "storyboard-v2.pdf", false},
		{"unicode", "分镜脚本.pdf", false},
		{"empty", "", true},
		{"slash", "../etc/passwd", true},
		{"backslash", `c:\clips\a.mp4`, true},
		{"too long", strings.Repeat("a", MaxFileNameLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateLocator(t *testing.T) {
	assert.NoError(t, ValidateLocator("blob://ads/spot.mp4"))
	assert.NoError(t, ValidateLocator("https://cdn.example.com/a.png"))
	assert.Error(t, ValidateLocator(""))
	assert.Error(t, ValidateLocator("relative/path.mp4"))
	assert.Error(t, ValidateLocator("http://[::1"))
}
