package sla

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a policy table, shared by YAML and TOML:
//
//	policies:
//	  - priority: high
//	    category: plumbing
//	    accept_within_min: 30
//	    arrive_within_min: 120
//	    complete_within_min: 1440
type File struct {
	Policies []Policy `yaml:"policies" toml:"policies"`
}

// LoadFile reads a policy table; the format is chosen by extension.
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sla: read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(raw)
	case ".toml":
		return ParseTOML(raw)
	default:
		return nil, fmt.Errorf("sla: unsupported policy file extension %q (expected .yaml, .yml or .toml)", ext)
	}
}

func ParseYAML(raw []byte) (*Table, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("sla: decode yaml: %w", err)
	}
	return NewTable(f.Policies)
}

func ParseTOML(raw []byte) (*Table, error) {
	var f File
	md, err := toml.Decode(string(raw), &f)
	if err != nil {
		return nil, fmt.Errorf("sla: decode toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("sla: unknown toml keys: %v", undecoded)
	}
	return NewTable(f.Policies)
}

// Load returns the table at path, or DefaultTable when path is empty.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable(), nil
	}
	return LoadFile(path)
}
