package validation

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/previdia/case-pipeline/internal/model"
)

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// ProfileItem is one required-document entry of a checklist profile.
type ProfileItem struct {
	Type       model.DocumentType        `yaml:"type"`
	Label      string                    `yaml:"label"`
	Importance model.ChecklistImportance `yaml:"importance"`
}

// Profile is the document checklist for one legal profile.
type Profile struct {
	Items []ProfileItem `yaml:"items"`
}

// ProfileSet maps legal profiles to their checklists.
type ProfileSet map[model.LegalProfile]Profile

type profilesFile struct {
	Profiles ProfileSet `yaml:"profiles"`
}

// LoadProfiles reads checklist profiles from path, or the embedded defaults
// when path is empty.
func LoadProfiles(path string) (ProfileSet, error) {
	data := defaultProfilesYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "validation: read profiles %s", path)
		}
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "validation: parse profiles")
	}
	if len(file.Profiles) == 0 {
		return nil, eris.New("validation: no profiles defined")
	}
	for name, p := range file.Profiles {
		if len(p.Items) == 0 {
			return nil, eris.Errorf("validation: profile %s has no items", name)
		}
	}
	return file.Profiles, nil
}
