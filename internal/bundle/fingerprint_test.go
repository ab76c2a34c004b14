package bundle

import (
	"regexp"
	"testing"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint(map[string]string{"index.js": "export default {}"}, DefaultOptions())
	if !hexPattern.MatchString(fp) {
		t.Errorf("fingerprint %q is not 16 lowercase hex chars", fp)
	}
}

func TestFingerprintStableAcrossCalls(t *testing.T) {
	files := map[string]string{
		"src/index.ts": "export default {}",
		"src/util.ts":  "export const n = 1",
		"package.json": `{"main":"src/index.ts"}`,
	}
	first := Fingerprint(files, DefaultOptions())
	for range 20 {
		if got := Fingerprint(files, DefaultOptions()); got != first {
			t.Fatalf("fingerprint changed between calls: %q != %q", got, first)
		}
	}
}

func TestFingerprintIndependentOfMapConstructionOrder(t *testing.T) {
	a := map[string]string{}
	a["z.ts"] = "zz"
	a["a.ts"] = "aa"

	b := map[string]string{}
	b["a.ts"] = "aa"
	b["z.ts"] = "zz"

	if Fingerprint(a, DefaultOptions()) != Fingerprint(b, DefaultOptions()) {
		t.Error("fingerprint depends on map insertion order")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := map[string]string{"index.js": "export default {}"}
	baseFP := Fingerprint(base, DefaultOptions())

	tests := []struct {
		name  string
		files map[string]string
		opts  Options
	}{
		{
			name:  "content change",
			files: map[string]string{"index.js": "export default {x:1}"},
			opts:  DefaultOptions(),
		},
		{
			name:  "path change",
			files: map[string]string{"main.js": "export default {}"},
			opts:  DefaultOptions(),
		},
		{
			name:  "extra file",
			files: map[string]string{"index.js": "export default {}", "b.js": ""},
			opts:  DefaultOptions(),
		},
		{
			name:  "minify option",
			files: base,
			opts:  Options{Bundle: true, Minify: true},
		},
		{
			name:  "entry point option",
			files: base,
			opts:  Options{Bundle: true, EntryPoint: "index.js"},
		},
		{
			name:  "externals option",
			files: base,
			opts:  Options{Bundle: true, Externals: []string{"lodash"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Fingerprint(tt.files, tt.opts) == baseFP {
				t.Error("fingerprint did not change")
			}
		})
	}
}

// Path/content boundaries must not be ambiguous: {"ab": "c"} and {"a": "bc"}
// serialise differently because of the separators.
func TestFingerprintBoundaryAmbiguity(t *testing.T) {
	a := Fingerprint(map[string]string{"ab": "c"}, DefaultOptions())
	b := Fingerprint(map[string]string{"a": "bc"}, DefaultOptions())
	if a == b {
		t.Error("fingerprint collides on shifted path/content boundary")
	}
}

func TestFingerprintExternalsOrderIndependent(t *testing.T) {
	base := map[string]string{"index.js": ""}
	a := Fingerprint(base, Options{Bundle: true, Externals: []string{"x", "y"}})
	b := Fingerprint(base, Options{Bundle: true, Externals: []string{"y", "x"}})
	if a != b {
		t.Error("fingerprint depends on externals order")
	}
}
