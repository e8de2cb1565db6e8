package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

type providersFile struct {
	Providers []model.FeedProvider `yaml:"providers"`
}

// LoadProviders reads and validates the operator list from a YAML file.
func LoadProviders(path string) ([]model.FeedProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(data)
}

func ParseProviders(data []byte) ([]model.FeedProvider, error) {
	var pf providersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	if len(pf.Providers) == 0 {
		return nil, fmt.Errorf("providers file declares no providers")
	}

	v := validator.New()
	seen := make(map[string]struct{}, len(pf.Providers))
	for i, p := range pf.Providers {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("provider %d (%q): %w", i, p.Name, err)
		}
		// "_" delimits cache keys and spatial index members; a provider
		// carrying it could never be indexed, so fail at load time.
		if strings.Contains(p.Name, "_") || strings.Contains(p.Codespace, "_") {
			return nil, fmt.Errorf("provider %d (%q): name and codespace must not contain %q", i, p.Name, "_")
		}
		k := strings.ToLower(p.Name)
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[k] = struct{}{}
	}
	return pf.Providers, nil
}

// Directory is a read-only, case-insensitive lookup of configured providers.
type Directory struct {
	byName map[string]model.FeedProvider
	all    []model.FeedProvider
}

func NewDirectory(providers []model.FeedProvider) *Directory {
	d := &Directory{
		byName: make(map[string]model.FeedProvider, len(providers)),
		all:    providers,
	}
	for _, p := range providers {
		d.byName[strings.ToLower(p.Name)] = p
	}
	return d
}

// Get resolves a provider by name. A miss is a recoverable error for the
// caller, not a fatal one.
func (d *Directory) Get(name string) (model.FeedProvider, error) {
	p, ok := d.byName[strings.ToLower(name)]
	if !ok {
		return model.FeedProvider{}, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

func (d *Directory) All() []model.FeedProvider {
	return d.all
}
