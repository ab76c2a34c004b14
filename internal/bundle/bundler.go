// Package bundle compiles worker source trees into module sets and caches
// the results content-addressed by fingerprint.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/observability"
)

// Options control a build. The zero value is not useful; use
// DefaultOptions as the base and override from there.
type Options struct {
	Bundle     bool     `json:"bundle"`
	Minify     bool     `json:"minify"`
	Sourcemap  bool     `json:"sourcemap"`
	EntryPoint string   `json:"entry_point,omitempty"`
	Externals  []string `json:"externals,omitempty"`
}

// DefaultOptions returns the standard build options: bundling on, no
// minification, no sourcemaps.
func DefaultOptions() Options {
	return Options{Bundle: true}
}

// Result is the outcome of a successful build. Warnings are advisory and
// excluded from cache identity.
type Result struct {
	MainModule string
	Modules    map[string]string
	Warnings   []string
}

// Bundler compiles a file map into a module set. Implementations must be
// deterministic: identical files and options produce an identical MainModule
// and Modules mapping.
type Bundler interface {
	Build(ctx context.Context, files map[string]string, opts Options) (*Result, error)
}

// Esbuild compiles worker sources in-process with the esbuild API. Files are
// materialised into a temp directory per build so relative imports resolve
// naturally; npm:, jsr: and URL imports stay external for the runtime to
// resolve.
type Esbuild struct{}

// NewEsbuild returns the in-process esbuild bundler.
func NewEsbuild() *Esbuild {
	return &Esbuild{}
}

// Build implements Bundler.
func (e *Esbuild) Build(ctx context.Context, files map[string]string, opts Options) (*Result, error) {
	start := time.Now()
	res, err := e.build(ctx, files, opts)
	observability.BuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.BuildsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.BuildsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

func (e *Esbuild) build(ctx context.Context, files map[string]string, opts Options) (*Result, error) {
	if len(files) == 0 {
		return nil, errs.Validation("no source files")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := EntryPoint(files, opts)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "substrate-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	for path, content := range files {
		full := filepath.Join(tmpDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0600); err != nil {
			return nil, fmt.Errorf("failed to write source file %s: %w", path, err)
		}
	}

	outDir := filepath.Join(tmpDir, ".out")
	buildOpts := api.BuildOptions{
		EntryPoints:   []string{filepath.Join(tmpDir, filepath.FromSlash(entry))},
		Bundle:        opts.Bundle,
		Write:         false,
		Outdir:        outDir,
		Format:        api.FormatESModule,
		Platform:      api.PlatformNeutral,
		Target:        api.ESNext,
		AbsWorkingDir: tmpDir,
		External:      opts.Externals,
		Plugins:       []api.Plugin{runtimeExternalPlugin()},
	}
	if opts.Minify {
		buildOpts.MinifyWhitespace = true
		buildOpts.MinifyIdentifiers = true
		buildOpts.MinifySyntax = true
	}
	if opts.Sourcemap {
		buildOpts.Sourcemap = api.SourceMapLinked
	}

	result := api.Build(buildOpts)
	if len(result.Errors) > 0 {
		return nil, buildError(result.Errors, tmpDir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modules := make(map[string]string, len(result.OutputFiles))
	mainModule := ""
	for _, f := range result.OutputFiles {
		rel, relErr := filepath.Rel(outDir, f.Path)
		if relErr != nil {
			rel = filepath.Base(f.Path)
		}
		rel = filepath.ToSlash(rel)
		modules[rel] = string(f.Contents)
		// esbuild emits the entry output first; sourcemaps follow their module.
		if mainModule == "" && !strings.HasSuffix(rel, ".map") {
			mainModule = rel
		}
	}
	if mainModule == "" {
		return nil, errs.Build("bundler produced no output modules", "")
	}

	var warnings []string
	for _, w := range result.Warnings {
		warnings = append(warnings, w.Text)
	}
	if len(warnings) > 0 {
		log.Debug().Int("count", len(warnings)).Str("entry", entry).Msg("Build finished with warnings")
	}

	return &Result{MainModule: mainModule, Modules: modules, Warnings: warnings}, nil
}

// EntryPoint determines the build entry: an explicit option wins, then
// package.json "main", then the conventional index files.
func EntryPoint(files map[string]string, opts Options) (string, error) {
	if opts.EntryPoint != "" {
		if _, ok := files[opts.EntryPoint]; !ok {
			return "", errs.Validation("entry point %q not present in files", opts.EntryPoint)
		}
		return opts.EntryPoint, nil
	}

	if pkg, ok := files["package.json"]; ok {
		var manifest struct {
			Main string `json:"main"`
		}
		if err := json.Unmarshal([]byte(pkg), &manifest); err != nil {
			return "", errs.Validation("invalid package.json: %v", err)
		}
		if manifest.Main != "" {
			main := strings.TrimPrefix(manifest.Main, "./")
			if _, ok := files[main]; !ok {
				return "", errs.Validation("package.json main %q not present in files", manifest.Main)
			}
			return main, nil
		}
	}

	for _, candidate := range []string{"src/index.ts", "src/index.js", "index.ts", "index.js"} {
		if _, ok := files[candidate]; ok {
			return candidate, nil
		}
	}
	return "", errs.Validation("no entry point: set one explicitly or add a package.json main")
}

// runtimeExternalPlugin keeps runtime-resolved specifiers out of the bundle.
func runtimeExternalPlugin() api.Plugin {
	return api.Plugin{
		Name: "runtime-external",
		Setup: func(build api.PluginBuild) {
			for _, filter := range []string{`^npm:`, `^jsr:`, `^node:`, `^https?://`} {
				build.OnResolve(api.OnResolveOptions{Filter: filter},
					func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						return api.OnResolveResult{Path: args.Path, External: true}, nil
					})
			}
		},
	}
}

func buildError(messages []api.Message, tmpDir string) error {
	var msgs, stack []string
	for _, m := range messages {
		text := strings.ReplaceAll(m.Text, tmpDir+string(filepath.Separator), "")
		msgs = append(msgs, text)
		if m.Location != nil {
			file := strings.TrimPrefix(m.Location.File, tmpDir+string(filepath.Separator))
			stack = append(stack, fmt.Sprintf("%s:%d:%d: %s", filepath.ToSlash(file), m.Location.Line, m.Location.Column, text))
		}
	}
	return errs.Build(strings.Join(msgs, "; "), strings.Join(stack, "\n"))
}
