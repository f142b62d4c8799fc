package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	ctor := func(StepConfig, Deps) (Step, error) { return &fakeStep{}, nil }

	require.NoError(t, reg.Register("b", ctor))
	require.NoError(t, reg.Register("a", ctor))
	assert.Error(t, reg.Register("a", ctor), "duplicate type")
	assert.Error(t, reg.Register("", ctor))
	assert.Error(t, reg.Register("c", nil))
	assert.Equal(t, []string{"a", "b"}, reg.Types())

	assert.Panics(t, func() { reg.MustRegister("a", ctor) })
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("ok", func(StepConfig, Deps) (Step, error) { return &fakeStep{}, nil })
	reg.MustRegister("broken", func(StepConfig, Deps) (Step, error) { return nil, errors.New("missing llm") })

	step, err := reg.Create(StepConfig{ID: "s", Type: "ok"}, Deps{})
	require.NoError(t, err)
	assert.NotNil(t, step)

	tests := []struct {
		name string
		cfg  StepConfig
		want string
	}{
		{"unknown type", StepConfig{ID: "s", Type: "nope"}, "unknown step type"},
		{"constructor error", StepConfig{ID: "s", Type: "broken"}, "missing llm"},
		{"validation error", StepConfig{ID: "s", Type: "ok", Options: map[string]any{"invalid": true}}, "option invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(tt.cfg, Deps{})
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "s", ce.StepID)
			assert.Equal(t, tt.cfg.Type, ce.StepType)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegistry_ResolveReportsEveryProblem(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("ok", func(StepConfig, Deps) (Step, error) { return &fakeStep{}, nil })

	_, err := reg.Resolve([]StepConfig{
		{ID: "a", Type: "ok", Enabled: true},
		{ID: "a", Type: "ok", Enabled: true},
		{ID: "", Type: "ok", Enabled: true},
		{ID: "c", Type: "missing", Enabled: true},
	}, Deps{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
	assert.Contains(t, err.Error(), "step id is required")
	assert.ErrorIs(t, err, ErrUnknownStepType)
}

func TestRegistry_ResolveKeepsDisabledInPlace(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("ok", func(StepConfig, Deps) (Step, error) { return &fakeStep{}, nil })

	resolved, err := reg.Resolve([]StepConfig{
		{ID: "a", Type: "ok", Enabled: true},
		{ID: "b", Type: "unregistered", Enabled: false},
	}, Deps{})

	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.NotNil(t, resolved[0].Step)
	assert.Nil(t, resolved[1].Step)
}

func TestRegistry_SingletonEnabledOnce(t *testing.T) {
	reg := NewRegistry()
	ctor := func(StepConfig, Deps) (Step, error) { return &fakeStep{}, nil }
	require.NoError(t, reg.RegisterSingleton("filter", ctor))
	assert.Error(t, reg.RegisterSingleton("filter", ctor), "duplicate type")
	reg.MustRegister("ok", ctor)

	_, err := reg.Resolve([]StepConfig{
		{ID: "f1", Type: "filter", Enabled: true},
		{ID: "f2", Type: "filter", Enabled: true},
	}, Deps{})
	require.ErrorIs(t, err, ErrDuplicateStepType)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "f2", ce.StepID)
	assert.Contains(t, err.Error(), `"f1"`)

	resolved, err := reg.Resolve([]StepConfig{
		{ID: "f1", Type: "filter", Enabled: true},
		{ID: "f2", Type: "filter", Enabled: false},
		{ID: "a", Type: "ok", Enabled: true},
		{ID: "b", Type: "ok", Enabled: true},
	}, Deps{})
	require.NoError(t, err, "disabled copies and ordinary types may repeat")
	assert.Len(t, resolved, 4)
}
