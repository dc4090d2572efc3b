package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a descriptor.
type Document struct {
	Version  string              `json:"version" yaml:"version"`
	Entities []*EntityDefinition `json:"entities" yaml:"entities"`
}

// LoadJSON reads a descriptor document encoded as JSON.
func LoadJSON(r io.Reader) (*Descriptor, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("error unmarshaling descriptor JSON: %w", err)
	}
	return NewDescriptor(doc.Entities...)
}

// LoadYAML reads a descriptor document encoded as YAML.
func LoadYAML(r io.Reader) (*Descriptor, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("error unmarshaling descriptor YAML: %w", err)
	}
	return NewDescriptor(doc.Entities...)
}

// LoadFile picks the decoder from the file extension.
func LoadFile(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open descriptor %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(f)
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return nil, fmt.Errorf("unsupported descriptor format %q", filepath.Ext(path))
	}
}
