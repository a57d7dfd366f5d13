package secret

import (
	"errors"
	"slices"
	"testing"
)

func TestRegistry_RegisterAndCreate(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("stub", func(map[string]any) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p, err := reg.Create("stub", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Name() != "stub" {
		t.Errorf("Name() = %q, want stub", p.Name())
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := NewRegistry()
	factory := func(map[string]any) (Provider, error) { return &stubProvider{name: "stub"}, nil }
	_ = reg.Register("stub", factory)

	tests := []struct {
		name    string
		pname   string
		factory ProviderFactory
	}{
		{"duplicate", "stub", factory},
		{"blank name", "  ", factory},
		{"nil factory", "other", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Register(tt.pname, tt.factory); !errors.Is(err, ErrInvalidRegistration) {
				t.Errorf("Register() error = %v, want ErrInvalidRegistration", err)
			}
		})
	}
}

func TestRegistry_CreateUnknown(t *testing.T) {
	if _, err := NewRegistry().Create("missing", nil); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("Create() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	if got := DefaultRegistry.List(); !slices.Equal(got, []string{"env", "file"}) {
		t.Errorf("List() = %v, want [env file]", got)
	}
}
