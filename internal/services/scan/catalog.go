package scan

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultResultCap applies when a scan does not set result_cap.
const DefaultResultCap = 100

// Catalog is the ordered set of scan groups loaded from a definition file.
type Catalog struct {
	Groups []GroupSpec `toml:"groups" yaml:"groups" json:"groups"`
}

// GroupSpec is a named collection of scans, usually one trader's setups.
type GroupSpec struct {
	Name        string     `toml:"name" yaml:"name" json:"name"`
	Link        string     `toml:"link" yaml:"link" json:"link,omitempty"`
	Description string     `toml:"description" yaml:"description" json:"description,omitempty"`
	Scans       []ScanSpec `toml:"scans" yaml:"scans" json:"scans"`
}

// ScanSpec is one scan as written in the catalog, before compilation.
type ScanSpec struct {
	Name          string `toml:"name" yaml:"name" json:"name"`
	Description   string `toml:"description" yaml:"description" json:"description,omitempty"`
	Where         string `toml:"where" yaml:"where" json:"where"`
	SortKey       string `toml:"sort_key" yaml:"sort_key" json:"sort_key"`
	SortDirection string `toml:"sort_direction" yaml:"sort_direction" json:"sort_direction,omitempty"`
	// ResultCap is nil when unset; an explicit 0 is kept.
	ResultCap *int `toml:"result_cap" yaml:"result_cap" json:"result_cap,omitempty"`
}

// Format names a catalog encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

//go:embed catalog.toml
var defaultCatalog []byte

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	cat, err := ParseCatalog(defaultCatalog, FormatTOML)
	if err != nil {
		panic(fmt.Sprintf("built-in scan catalog: %v", err))
	}
	return cat
}

// LoadCatalog reads a catalog file, choosing the format by extension.
// An empty path returns the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = FormatTOML
	case ".yaml", ".yml":
		format = FormatYAML
	default:
		return nil, fmt.Errorf("unsupported catalog extension %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	cat, err := ParseCatalog(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes catalog data in the given format.
func ParseCatalog(data []byte, format Format) (*Catalog, error) {
	var cat Catalog
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &cat); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	return &cat, nil
}

// Len returns the number of scans across all groups.
func (c *Catalog) Len() int {
	n := 0
	for _, g := range c.Groups {
		n += len(g.Scans)
	}
	return n
}
