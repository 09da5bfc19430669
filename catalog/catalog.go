// Package catalog holds the fixed municipal lists used by registration:
// electoral zones, neighborhoods and social programs.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed districts.yaml
var defaultDistricts []byte

// Catalog is a loaded set of district lists.
type Catalog struct {
	Zones          []string `yaml:"zones"`
	Neighborhoods  []string `yaml:"neighborhoods"`
	SocialPrograms []string `yaml:"social_programs"`

	zones         map[string]string
	neighborhoods map[string]string
	programs      map[string]string
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultDistricts)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded districts.yaml: %v", err))
	}
	return c
}

// Load reads a catalog from path, or returns the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML catalog data.
func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(c.Zones) == 0 {
		return nil, fmt.Errorf("catalog: no zones defined")
	}
	c.zones = index(c.Zones)
	c.neighborhoods = index(c.Neighborhoods)
	c.programs = index(c.SocialPrograms)
	return c, nil
}

// Zone returns the canonical zone name matching name, case-insensitively.
func (c *Catalog) Zone(name string) (string, bool) {
	return lookup(c.zones, name)
}

// Neighborhood returns the canonical neighborhood name matching name.
func (c *Catalog) Neighborhood(name string) (string, bool) {
	return lookup(c.neighborhoods, name)
}

// SocialProgram returns the canonical social program matching name.
func (c *Catalog) SocialProgram(name string) (string, bool) {
	return lookup(c.programs, name)
}

func index(values []string) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		m[strings.ToLower(v)] = v
	}
	return m
}

func lookup(m map[string]string, name string) (string, bool) {
	v, ok := m[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}
