package taxonomy

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"bizdir/pkg/domain"
)

// Seed is the on-disk shape of the initial vocabularies.
type Seed struct {
	Categories []string       `yaml:"categories"`
	Locations  []SeedLocation `yaml:"locations"`
}

// SeedLocation lists the districts of one location.
type SeedLocation struct {
	Name      string   `yaml:"name"`
	Districts []string `yaml:"districts"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) ([]domain.TaxonomyEntry, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied seed path
	if err != nil {
		return nil, fmt.Errorf("open taxonomy seed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseSeed(f)
}

// ParseSeed decodes a YAML seed into taxonomy entries, parents first.
func ParseSeed(r io.Reader) ([]domain.TaxonomyEntry, error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode taxonomy seed: %w", err)
	}
	var out []domain.TaxonomyEntry
	for _, c := range seed.Categories {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, domain.TaxonomyEntry{Kind: domain.TaxonomyCategory, Value: c})
		}
	}
	for _, loc := range seed.Locations {
		name := strings.TrimSpace(loc.Name)
		if name == "" {
			return nil, fmt.Errorf("taxonomy seed: location without name")
		}
		out = append(out, domain.TaxonomyEntry{Kind: domain.TaxonomyLocation, Value: name})
		for _, d := range loc.Districts {
			if d = strings.TrimSpace(d); d != "" {
				out = append(out, domain.TaxonomyEntry{Kind: domain.TaxonomyDistrict, Value: d, Parent: name})
			}
		}
	}
	return out, nil
}
