package objperm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// TypeDefinition declares one entity type and its ordered permission
// names. Order matters: the i-th name gets bit 1<<i.
type TypeDefinition struct {
	Name        string   `yaml:"name" validate:"required"`
	Permissions []string `yaml:"permissions" validate:"required,min=1,max=64,dive,required"`
}

type typeDefinitionFile struct {
	Types []TypeDefinition `yaml:"types" validate:"dive"`
}

// LoadTypeDefinitions decodes a YAML document of the form
//
//	types:
//	  - name: flatpage
//	    permissions: [view, edit, delete]
//
// Unknown keys are rejected.
func LoadTypeDefinitions(r io.Reader) ([]TypeDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc typeDefinitionFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: type definitions: %v", ErrInvalidConfig, err)
	}

	if err := configValidator.Struct(doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, fmt.Errorf("%w: type definitions: %s failed %q", ErrInvalidConfig, fieldErrs[0].Namespace(), fieldErrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: type definitions: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]struct{}, len(doc.Types))
	for _, def := range doc.Types {
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrAlreadyRegistered, def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	return doc.Types, nil
}

// LoadTypeDefinitionsFile is LoadTypeDefinitions on the file at path.
func LoadTypeDefinitionsFile(path string) ([]TypeDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTypeDefinitions(f)
}

// MarshalTypeDefinitions renders defs in the format LoadTypeDefinitions
// reads.
func MarshalTypeDefinitions(defs []TypeDefinition) ([]byte, error) {
	return yaml.Marshal(typeDefinitionFile{Types: defs})
}
