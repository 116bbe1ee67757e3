package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		required bool
		wantErr  bool
	}{
		{"valid", "session_01-A", true, false},
		{"empty optional", "", false, false},
		{"empty required", "", true, true},
		{"path traversal", "../etc", true, true},
		{"space", "a b", true, true},
		{"too long", strings.Repeat("a", MaxIDLength+1), true, true},
		{"null byte", "a\x00b", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, "session_id", tt.required)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("ping"))
	assert.NoError(t, ValidateMessage("fix:\n\tif x {\n\t\treturn\n\t}"))
	assert.Error(t, ValidateMessage(""))
	assert.Error(t, ValidateMessage(" \n\t"))
	assert.Error(t, ValidateMessage(strings.Repeat("é", MaxMessageSize+1)))
}

func TestValidateTerminalInput(t *testing.T) {
	assert.NoError(t, ValidateTerminalInput("\x03\x1b[A"))
	assert.NoError(t, ValidateTerminalInput(strings.Repeat("a", MaxTerminalInputSize)))
	assert.Error(t, ValidateTerminalInput(strings.Repeat("a", MaxTerminalInputSize+1)))
}
