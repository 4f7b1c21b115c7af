package oracle

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// snapshotSchema is bumped whenever the Surface encoding changes.
const snapshotSchema uint16 = 1

// Member is a field or method of an API class.
type Member struct {
	Name       string `yaml:"name" msgpack:"n"`
	Descriptor string `yaml:"descriptor" msgpack:"d"`
}

// Class describes one API type.
type Class struct {
	Name       string   `yaml:"name" msgpack:"name"`
	Super      string   `yaml:"super,omitempty" msgpack:"super"`
	Interfaces []string `yaml:"interfaces,omitempty" msgpack:"ifaces"`
	Interface  bool     `yaml:"interface,omitempty" msgpack:"iface"`
	Fields     []Member `yaml:"fields,omitempty" msgpack:"fields"`
	Methods    []Member `yaml:"methods,omitempty" msgpack:"methods"`
}

// Surface is the serialized form of an API surface. Class names use the
// internal slash-separated form.
type Surface struct {
	// Version is the API generation the surface describes.
	Version string `yaml:"version" msgpack:"version"`
	// Packages lists governed package prefixes. When empty, every class
	// outside the exempt prefixes is governed.
	Packages []string `yaml:"packages,omitempty" msgpack:"packages"`
	Classes  []Class  `yaml:"classes" msgpack:"classes"`
}

type snapshot struct {
	Schema  uint16
	Surface Surface
}

// ParseYAML decodes a YAML surface description.
func ParseYAML(data []byte) (*Surface, error) {
	var s Surface
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing surface: %w", err)
	}
	normalize(&s)
	return &s, nil
}

// ParseSnapshot decodes a msgpack snapshot written by WriteSnapshot.
func ParseSnapshot(r io.Reader) (*Surface, error) {
	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("error decoding surface snapshot: %w", err)
	}
	if snap.Schema != snapshotSchema {
		return nil, fmt.Errorf("surface snapshot schema %d, want %d", snap.Schema, snapshotSchema)
	}
	return &snap.Surface, nil
}

// WriteSnapshot encodes s as a msgpack snapshot.
func WriteSnapshot(w io.Writer, s *Surface) error {
	return msgpack.NewEncoder(w).Encode(&snapshot{Schema: snapshotSchema, Surface: *s})
}

// SaveSnapshot writes s to path through a temporary file and rename.
func SaveSnapshot(path string, s *Surface) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".surface-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := WriteSnapshot(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// LoadSurface reads a surface from path. The format follows the file
// extension: .yaml/.yml, .msgpack, or .jar for a host API archive.
func LoadSurface(path string) (*Surface, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip":
		return FromArchive(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading surface: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mp":
		return ParseSnapshot(bytes.NewReader(data))
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return nil, fmt.Errorf("unsupported surface format %q", filepath.Ext(path))
}

// normalize converts dotted names to internal names.
func normalize(s *Surface) {
	for i := range s.Packages {
		s.Packages[i] = strings.ReplaceAll(s.Packages[i], ".", "/")
	}
	for i := range s.Classes {
		c := &s.Classes[i]
		c.Name = strings.ReplaceAll(c.Name, ".", "/")
		c.Super = strings.ReplaceAll(c.Super, ".", "/")
		for j := range c.Interfaces {
			c.Interfaces[j] = strings.ReplaceAll(c.Interfaces[j], ".", "/")
		}
	}
}
