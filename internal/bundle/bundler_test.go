package bundle

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-host/substrate/internal/errs"
)

func TestEntryPoint(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		opts    Options
		want    string
		wantErr bool
	}{
		{
			name:  "explicit option wins",
			files: map[string]string{"main.ts": "", "src/index.ts": ""},
			opts:  Options{EntryPoint: "main.ts"},
			want:  "main.ts",
		},
		{
			name:    "explicit option must exist",
			files:   map[string]string{"main.ts": ""},
			opts:    Options{EntryPoint: "gone.ts"},
			wantErr: true,
		},
		{
			name: "package.json main",
			files: map[string]string{
				"package.json": `{"main":"src/worker.ts"}`,
				"src/worker.ts": "",
			},
			want: "src/worker.ts",
		},
		{
			name: "package.json main with ./ prefix",
			files: map[string]string{
				"package.json": `{"main":"./entry.js"}`,
				"entry.js":     "",
			},
			want: "entry.js",
		},
		{
			name: "package.json main pointing nowhere",
			files: map[string]string{
				"package.json": `{"main":"gone.ts"}`,
				"index.ts":     "",
			},
			wantErr: true,
		},
		{
			name:    "invalid package.json",
			files:   map[string]string{"package.json": "{not json", "index.ts": ""},
			wantErr: true,
		},
		{
			name:  "src/index.ts convention",
			files: map[string]string{"src/index.ts": "", "other.ts": ""},
			want:  "src/index.ts",
		},
		{
			name:  "index.js convention",
			files: map[string]string{"index.js": ""},
			want:  "index.js",
		},
		{
			name:    "no entry at all",
			files:   map[string]string{"lib/a.ts": ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EntryPoint(tt.files, tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEsbuildBuildsPlainModule(t *testing.T) {
	e := NewEsbuild()
	files := map[string]string{
		"index.js": "export default { fetch() { return 'hi' } }",
	}

	result, err := e.Build(context.Background(), files, DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, result.MainModule)
	require.Contains(t, result.Modules, result.MainModule)
	assert.Contains(t, result.Modules[result.MainModule], "hi")
}

func TestEsbuildBundlesLocalImports(t *testing.T) {
	e := NewEsbuild()
	files := map[string]string{
		"package.json": `{"main":"src/index.ts"}`,
		"src/index.ts": `import { greeting } from "./greeting"; export default { fetch() { return greeting } }`,
		"src/greeting.ts": `export const greeting = "bundled-hello"`,
	}

	result, err := e.Build(context.Background(), files, DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, result.Modules[result.MainModule], "bundled-hello", "local import was not bundled in")
}

func TestEsbuildDeterministicOutput(t *testing.T) {
	e := NewEsbuild()
	files := map[string]string{
		"index.ts": `export const x: number = 1; export default { fetch() { return x } }`,
	}

	first, err := e.Build(context.Background(), files, DefaultOptions())
	require.NoError(t, err)
	second, err := e.Build(context.Background(), files, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, first.MainModule, second.MainModule)
	assert.Equal(t, first.Modules, second.Modules)
}

func TestEsbuildSyntaxErrorIsBuildError(t *testing.T) {
	e := NewEsbuild()
	files := map[string]string{
		"index.js": "export default { fetch() { return",
	}

	_, err := e.Build(context.Background(), files, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindBuild))
	// Temp paths must not leak into the message.
	assert.NotContains(t, err.Error(), "substrate-build-")
}

func TestEsbuildEmptyFiles(t *testing.T) {
	e := NewEsbuild()
	_, err := e.Build(context.Background(), nil, DefaultOptions())
	assert.True(t, errs.IsValidation(err))
}

func TestEsbuildMinify(t *testing.T) {
	e := NewEsbuild()
	files := map[string]string{
		"index.js": "export function greet()   {\n  return    'hello minify'\n}\nexport default { fetch: greet }",
	}

	plain, err := e.Build(context.Background(), files, DefaultOptions())
	require.NoError(t, err)
	minified, err := e.Build(context.Background(), files, Options{Bundle: true, Minify: true})
	require.NoError(t, err)

	assert.Less(t, len(minified.Modules[minified.MainModule]), len(plain.Modules[plain.MainModule]))
}

func TestEsbuildKeepsRuntimeImportsExternal(t *testing.T) {
	e := NewEsbuild()
	files := map[string]string{
		"index.js": `import lib from "npm:left-pad"; export default { fetch() { return lib } }`,
	}

	result, err := e.Build(context.Background(), files, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, strings.Contains(result.Modules[result.MainModule], "npm:left-pad"),
		"npm: specifier must stay external for the runtime to resolve")
}
