// Package seed holds the providers and descriptive text used to bootstrap an
// empty catalog.
package seed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

var (
	//go:embed providers.yaml
	providersYAML []byte
	//go:embed descriptions.yaml
	descriptionsYAML []byte
)

type providerSeed struct {
	Name    string                  `yaml:"name"`
	Website string                  `yaml:"website"`
	Request catalog.RequestDocument `yaml:"backend_request"`
}

type seedFile struct {
	Providers   []providerSeed      `yaml:"providers"`
	PassThrough map[string][]string `yaml:"pass_through"`
}

// Extra is the descriptive text backfilled onto a provider by name.
type Extra struct {
	Website     string              `yaml:"website"`
	Description catalog.Description `yaml:"description"`
}

func load() (seedFile, error) {
	var f seedFile
	if err := yaml.Unmarshal(providersYAML, &f); err != nil {
		return seedFile{}, fmt.Errorf("decode seed providers: %w", err)
	}
	return f, nil
}

// Providers returns the native providers with their decoded requests.
func Providers() ([]catalog.Provider, error) {
	f, err := load()
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Provider, 0, len(f.Providers))
	for _, s := range f.Providers {
		req, err := s.Request.Decode()
		if err != nil {
			return nil, fmt.Errorf("seed provider %s: %w", s.Name, err)
		}
		out = append(out, catalog.Provider{
			PID:        catalog.NativePID(s.Name),
			Name:       s.Name,
			Website:    s.Website,
			Request:    req,
			BackendIDs: []string{},
		})
	}
	return out, nil
}

// PassThroughNames returns the fallback vendor names reached through platform.
func PassThroughNames(platform string) ([]string, error) {
	f, err := load()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), f.PassThrough[platform]...), nil
}

// PassThrough builds the pass-through provider for a vendor reached through
// platform. The third-party id is filled in once the platform is stored.
func PassThrough(platform, name string) catalog.Provider {
	return catalog.Provider{
		PID:            catalog.ThirdPartyPID(platform, name),
		Name:           name,
		FromThirdParty: true,
		ThirdParty:     &catalog.ThirdParty{Name: platform},
		BackendIDs:     []string{},
	}
}

// Descriptions returns the descriptive text keyed by provider name.
func Descriptions() (map[string]Extra, error) {
	out := map[string]Extra{}
	if err := yaml.Unmarshal(descriptionsYAML, &out); err != nil {
		return nil, fmt.Errorf("decode seed descriptions: %w", err)
	}
	return out, nil
}
