package pipeline

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeOptions decodes a step's raw options into out, a pointer to a
// struct with mapstructure tags, then runs its validate tags. Unknown keys
// are errors. Strings such as "30s" decode into time.Duration fields.
func DecodeOptions(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("building options decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
