package template

import (
	"reflect"
	"testing"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
)

func TestExtractSlotNames(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  []string
	}{
		{
			name:  "single slot",
			files: map[string]string{"src/index.ts": "const x = {{v}};"},
			want:  []string{"v"},
		},
		{
			name: "union across files, sorted",
			files: map[string]string{
				"a.ts": "{{zebra}} and {{alpha}}",
				"b.ts": "{{alpha}} again, plus {{mid_1}}",
			},
			want: []string{"alpha", "mid_1", "zebra"},
		},
		{
			name:  "no slots",
			files: map[string]string{"a.ts": "plain code"},
			want:  []string{},
		},
		{
			name:  "invalid names are not slots",
			files: map[string]string{"a.ts": "{{1bad}} {{good_name}} {{with-dash}}"},
			want:  []string{"good_name"},
		},
		{
			name:  "no nesting",
			files: map[string]string{"a.ts": "{{outer{{inner}}}}"},
			want:  []string{"inner"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSlotNames(tt.files)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractSlotNames() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tmpl := &model.Template{
		Files: map[string]string{"src/index.ts": "const x = {{v}}; const y = {{w}};"},
		Slots: []model.Slot{{Name: "v", Default: "1"}},
	}
	err := Validate(tmpl)
	if err == nil {
		t.Fatal("expected validation error for undeclared slot")
	}
	if !errs.IsValidation(err) {
		t.Errorf("error kind = %v, want validation", errs.KindOf(err))
	}

	tmpl.Slots = append(tmpl.Slots, model.Slot{Name: "w", Default: "2"})
	if err := Validate(tmpl); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestInterpolate(t *testing.T) {
	tmpl := &model.Template{
		Files: map[string]string{"src/index.ts": "const x={{v}};"},
		Slots: []model.Slot{{Name: "v", Default: "1"}},
	}

	t.Run("explicit value", func(t *testing.T) {
		got, err := Interpolate(tmpl, map[string]string{"v": "42"})
		if err != nil {
			t.Fatal(err)
		}
		if got["src/index.ts"] != "const x=42;" {
			t.Errorf("interpolated = %q, want %q", got["src/index.ts"], "const x=42;")
		}
	})

	t.Run("default fallback", func(t *testing.T) {
		got, err := Interpolate(tmpl, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got["src/index.ts"] != "const x=1;" {
			t.Errorf("interpolated = %q, want %q", got["src/index.ts"], "const x=1;")
		}
	})

	t.Run("missing value and default", func(t *testing.T) {
		bad := &model.Template{
			Files: map[string]string{"a.ts": "{{required}}"},
			Slots: []model.Slot{{Name: "required"}},
		}
		_, err := Interpolate(bad, nil)
		if !errs.IsValidation(err) {
			t.Errorf("error = %v, want validation error", err)
		}
	})

	t.Run("every occurrence replaced", func(t *testing.T) {
		multi := &model.Template{
			Files: map[string]string{"a.ts": "{{v}} {{v}} {{v}}"},
			Slots: []model.Slot{{Name: "v", Default: "x"}},
		}
		got, err := Interpolate(multi, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got["a.ts"] != "x x x" {
			t.Errorf("interpolated = %q, want %q", got["a.ts"], "x x x")
		}
	})

	t.Run("source files untouched", func(t *testing.T) {
		if _, err := Interpolate(tmpl, map[string]string{"v": "9"}); err != nil {
			t.Fatal(err)
		}
		if tmpl.Files["src/index.ts"] != "const x={{v}};" {
			t.Error("template files mutated by interpolation")
		}
	})
}

// Interpolating with values equal to the defaults must be identical to the
// plain default substitution.
func TestInterpolateIdempotenceLaw(t *testing.T) {
	tmpl := &model.Template{
		Files: map[string]string{
			"a.ts": "name={{name}} port={{port}}",
			"b.ts": "{{name}}",
		},
		Slots: []model.Slot{
			{Name: "name", Default: "svc"},
			{Name: "port", Default: "8080"},
		},
	}

	withDefaults, err := Interpolate(tmpl, nil)
	if err != nil {
		t.Fatal(err)
	}
	withExplicit, err := Interpolate(tmpl, map[string]string{"name": "svc", "port": "8080"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(withDefaults, withExplicit) {
		t.Errorf("defaults %v != explicit defaults %v", withDefaults, withExplicit)
	}
}
