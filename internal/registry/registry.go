// Package registry loads indicator-family descriptors from YAML and
// compiles them into a model.FamilyRegistry. A default descriptor set
// covering the standard provincial report families is embedded in the
// binary; deployments can point config at their own file.
package registry

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gso-insight/indicator-cli/internal/model"
)

//go:embed families.yaml
var defaultFamilies []byte

type familyFile struct {
	Families []model.FamilySpec `yaml:"families"`
}

// Load reads family descriptors from path, or the embedded default set
// when path is empty, and returns the compiled registry.
func Load(path string) (*model.FamilyRegistry, error) {
	data := defaultFamilies
	source := "embedded"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: read %s", path)
		}
		data = b
		source = path
	}

	var file familyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", source)
	}
	if len(file.Families) == 0 {
		return nil, eris.Errorf("registry: %s defines no families", source)
	}

	reg, err := model.NewFamilyRegistry(file.Families)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: compile %s", source)
	}

	zap.L().Info("family registry loaded",
		zap.String("source", source),
		zap.Int("families", reg.Len()),
	)
	return reg, nil
}
