package permission

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// matrixFile is the on-disk override format:
//
//	roles:
//	  moderator:
//	    spots: [read, moderate]
type matrixFile struct {
	Roles map[string]map[string][]string `yaml:"roles"`
}

// LoadMatrix returns the default matrix when path is empty, otherwise the
// matrix described by the YAML file. Any unknown name is an error.
func LoadMatrix(path string) (*Matrix, error) {
	if path == "" {
		return DefaultMatrix(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permissions file: %w", err)
	}
	return ParseMatrix(raw)
}

func ParseMatrix(raw []byte) (*Matrix, error) {
	var f matrixFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse permissions file: %w", err)
	}

	def := make(map[Role][]Grant, len(f.Roles))
	for roleName, byResource := range f.Roles {
		role := Role(roleName)
		for resourceName, actionNames := range byResource {
			g := Grant{Resource: Resource(resourceName)}
			for _, a := range actionNames {
				g.Actions = append(g.Actions, Action(a))
			}
			def[role] = append(def[role], g)
		}
		if _, ok := def[role]; !ok {
			def[role] = nil
		}
	}
	return NewMatrix(def)
}
