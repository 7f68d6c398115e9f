// Package catalog loads the static model catalog: the downloadable
// artifacts, their transfer methods and the filesystem roots.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// DefaultLocations are searched in order when no catalog path is configured.
var DefaultLocations = []string{
	"config/models.json",
	"config/models.yaml",
	"backend/config/models.json",
	"../config/models.json",
	"../backend/config/models.json",
	"models.json",
	"models.yaml",
}

// Method is one way of fetching an artifact.
type Method struct {
	Kind string `json:"type"`
	URL  string `json:"url"`
}

// Entry is a downloadable artifact.
type Entry struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Filename string   `json:"filename"`
	SizeGB   float64  `json:"size_gb"`
	SHA256   string   `json:"sha256,omitempty"`
	Methods  []Method `json:"methods"`
}

// Catalog is the parsed catalog file. It is read-only after Load.
type Catalog struct {
	DownloadPath   string   `json:"download_path"`
	TempPath       string   `json:"temp_path"`
	LogPath        string   `json:"log_path"`
	AllowedDomains []string `json:"allowed_domains"`
	Models         []Entry  `json:"models"`

	index map[string]int
}

// ConfigError reports a missing, unreadable or malformed catalog.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "catalog: " + e.Reason
	}

	return fmt.Sprintf("catalog %s: %s", e.Path, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Locate returns the first existing path among candidates.
func Locate(candidates []string) (string, error) {
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	return "", &ConfigError{Reason: fmt.Sprintf("not found in any of %s", strings.Join(candidates, ", ")), Err: os.ErrNotExist}
}

// Load reads, schema-validates and indexes a JSON or YAML catalog file.
// The download, temp and log directories it names must exist.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "failed to read file", Err: err}
	}

	return Parse(path, raw)
}

// Parse is Load without the file read. The path decides the format and is
// used in error messages.
func Parse(path string, raw []byte) (*Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		converted, err := yaml.YAMLToJSON(raw)
		if err != nil {
			return nil, &ConfigError{Path: path, Reason: "invalid yaml", Err: err}
		}

		raw = converted
	}

	var doc interface{}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Path: path, Reason: "invalid json", Err: err}
	}

	if err := catalogSchema.Validate(doc); err != nil {
		return nil, &ConfigError{Path: path, Reason: "does not match schema", Err: err}
	}

	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &ConfigError{Path: path, Reason: "invalid catalog", Err: err}
	}

	for name, dir := range map[string]string{
		"download_path": c.DownloadPath,
		"temp_path":     c.TempPath,
		"log_path":      c.LogPath,
	} {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("%s %q is not accessible", name, dir), Err: err}
		}

		if !info.IsDir() {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("%s %q is not a directory", name, dir)}
		}
	}

	c.index = make(map[string]int, len(c.Models))
	for i, m := range c.Models {
		if _, dup := c.index[m.ID]; dup {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("duplicate model id %q", m.ID), Err: errors.New("duplicate id")}
		}

		c.index[m.ID] = i
	}

	return &c, nil
}

// Get returns the entry with the given identifier.
func (c *Catalog) Get(id string) (Entry, bool) {
	i, ok := c.index[id]
	if !ok {
		return Entry{}, false
	}

	return c.Models[i], true
}

// IDs returns the identifiers in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Models))
	for i, m := range c.Models {
		ids[i] = m.ID
	}

	return ids
}
