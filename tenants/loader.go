package tenants

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type tenantsFile struct {
	Tenants []*Tenant `yaml:"tenants"`
}

// LoadFile reads the tenant registry from a YAML file and returns a
// populated in-memory repo. Each tenant's auth type is checked against the
// registered set so a misconfigured tenant fails at startup rather than on
// first request.
func LoadFile(path string) (*MemoryRepo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "tenants.LoadFile read")
	}

	var file tenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "tenants.LoadFile unmarshal")
	}

	repo := NewMemoryRepo()
	for _, t := range file.Tenants {
		if t.AuthType != AuthTypeWindows && t.AuthType != AuthTypeCloud {
			return nil, errors.Errorf("tenants.LoadFile: tenant %q has unknown auth type %q", t.ID, t.AuthType)
		}
		if t.SessionHeaderName == "" {
			t.SessionHeaderName = "X-Qlik-Session"
		}
		if err := repo.Upsert(t); err != nil {
			return nil, errors.Wrapf(err, "tenants.LoadFile upsert %q", t.ID)
		}
	}
	return repo, nil
}
