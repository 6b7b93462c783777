package datasource

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// sourcesFile is the on-disk shape of a data source seed file.
type sourcesFile struct {
	Sources []sourceSpec `yaml:"sources"`
}

type sourceSpec struct {
	ID         string         `yaml:"id"`
	Kind       string         `yaml:"kind"`
	Dialect    string         `yaml:"dialect"`
	Connection map[string]any `yaml:"connection"`
}

// LoadSourcesFile reads data source descriptors from a YAML file. Each entry
// needs an id and a kind; dialect is optional and defaults per kind.
func LoadSourcesFile(path string) ([]*models.DataSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse data sources file: %w", err)
	}

	sources := make([]*models.DataSource, 0, len(file.Sources))
	for i, spec := range file.Sources {
		if spec.ID == "" {
			return nil, fmt.Errorf("data source %d: missing id", i)
		}
		if spec.Kind == "" {
			return nil, fmt.Errorf("data source %q: missing kind", spec.ID)
		}
		sources = append(sources, &models.DataSource{
			ID:         spec.ID,
			Kind:       models.DataSourceKind(spec.Kind),
			Dialect:    models.Dialect(spec.Dialect),
			Connection: spec.Connection,
		})
	}
	return sources, nil
}
