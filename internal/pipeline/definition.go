package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxDefinitionSize = 256 * 1024

// Definition is a named, ordered list of steps as read from YAML:
//
//	name: support-forum
//	steps:
//	  - id: filter
//	    type: keyword-filter
//	    options:
//	      exclude_keywords: [spam]
//	  - id: classify
//	    type: classify
//	    hard_stop: true
//
// A step without an "enabled" key is enabled.
type Definition struct {
	Name  string       `json:"name"`
	Steps []StepConfig `json:"steps"`
}

// ParseDefinition decodes a YAML definition.
func ParseDefinition(b []byte) (*Definition, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition: %w", err)
	}

	def := &Definition{Name: k.String("name")}
	for i, sk := range k.Slices("steps") {
		var cfg StepConfig
		if err := sk.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, fmt.Errorf("step #%d: %w", i, err)
		}
		if !sk.Exists("enabled") {
			cfg.Enabled = true
		}
		if cfg.Options == nil {
			cfg.Options = map[string]any{}
		}
		def.Steps = append(def.Steps, cfg)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadDefinition reads and parses the definition file at path.
func LoadDefinition(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pipeline definition: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, maxDefinitionSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading pipeline definition: %w", err)
	}
	if len(b) > maxDefinitionSize {
		return nil, fmt.Errorf("pipeline definition %s exceeds %d bytes", path, maxDefinitionSize)
	}

	def, err := ParseDefinition(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Validate checks the shape of the definition. Step types and options are
// checked later by the registry.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return errors.New("pipeline definition has no steps")
	}
	var errs []error
	for i, s := range d.Steps {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("step #%d: id is required", i))
		}
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("step #%d (%s): type is required", i, s.ID))
		}
	}
	return errors.Join(errs...)
}

// DefaultDefinition is the full built-in pipeline.
func DefaultDefinition() *Definition {
	step := func(id string, hard bool) StepConfig {
		return StepConfig{ID: id, Type: id, Enabled: true, HardStop: hard, Options: map[string]any{}}
	}
	return &Definition{
		Name: "default",
		Steps: []StepConfig{
			step("keyword-filter", false),
			step("classify", true),
			step("context-enrich", false),
			step("rag-enrich", false),
			step("generate", false),
			step("validate", false),
			step("condense", false),
			step("ruleset-review", false),
		},
	}
}
