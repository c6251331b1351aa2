// Package catalog reads and writes the static model descriptor files on disk.
// The registry treats it as its definition store: read at init and merged back
// on explicit refresh.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nulzo/relay/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Deprecation records that a model is no longer offered, with an optional
// pointer to its replacement. Stored beside the descriptors, never inside them.
type Deprecation struct {
	ModelID       string `yaml:"model_id" json:"model_id"`
	ReplacementID string `yaml:"replacement_id,omitempty" json:"replacement_id,omitempty"`
}

// File is the on-disk shape of one provider's catalog file.
type File struct {
	Models       []schema.ModelDescriptor `yaml:"models"`
	Deprecations []Deprecation            `yaml:"deprecations,omitempty"`
}

// IsFineTune reports whether a vendor model identifier names a fine-tuned
// model. Fine-tunes are excluded from ingestion entirely.
func IsFineTune(id string) bool {
	return strings.HasPrefix(id, "ft-") || strings.HasPrefix(id, "ft:")
}

// LoadFile parses a single catalog file and validates every descriptor.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for i := range f.Models {
		if IsFineTune(f.Models[i].APIIdentifier) {
			return nil, fmt.Errorf("%s: fine-tuned model %s is not allowed in the catalog", path, f.Models[i].ID)
		}
		if err := f.Models[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return &f, nil
}

// Load reads every *.yaml file in dir and concatenates their contents.
// A missing directory is not an error; callers fall back to the seed set.
func Load(dir string) (*File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, err
	}

	var merged File
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		f, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		merged.Models = append(merged.Models, f.Models...)
		merged.Deprecations = append(merged.Deprecations, f.Deprecations...)
	}

	return &merged, nil
}

// Save writes one provider's catalog back to disk, used by the refresh
// merge-back so newly discovered models survive restarts.
func Save(path string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
