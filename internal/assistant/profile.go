package assistant

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Profile holds the options passed to the assistant on every request
type Profile struct {
	SystemPrompt   string   `yaml:"system_prompt" toml:"system_prompt" json:"system_prompt"`
	AllowedTools   []string `yaml:"allowed_tools" toml:"allowed_tools" json:"allowed_tools"`
	PermissionMode string   `yaml:"permission_mode" toml:"permission_mode" json:"permission_mode"`
	MaxTurns       int      `yaml:"max_turns" toml:"max_turns" json:"max_turns"`
	Model          string   `yaml:"model" toml:"model" json:"model,omitempty"`
}

// DefaultProfile returns the built-in development assistant profile
func DefaultProfile() Profile {
	return Profile{
		SystemPrompt:   "You are an expert software development assistant working inside the user's terminal session.",
		AllowedTools:   []string{"Read", "Write", "Bash", "Glob", "Grep", "Edit", "MultiEdit"},
		PermissionMode: "acceptEdits",
		MaxTurns:       10,
	}
}

// LoadProfile reads a profile file. The format follows the extension
// (.yaml, .yml or .toml); fields left out keep their defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read assistant profile: %w", err)
	}
	return ParseProfile(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseProfile decodes a profile in the given format ("yaml", "yml" or "toml")
func ParseProfile(data []byte, format string) (Profile, error) {
	p := DefaultProfile()

	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &p)
	case "toml":
		err = toml.Unmarshal(data, &p)
	default:
		return Profile{}, fmt.Errorf("unsupported assistant profile format %q", format)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("parse assistant profile: %w", err)
	}

	if p.MaxTurns < 0 {
		return Profile{}, fmt.Errorf("assistant profile: max_turns must not be negative")
	}
	return p, nil
}
