// Package template implements the worker template engine: slot discovery,
// validation against declared slots, and textual interpolation. The engine
// never parses source; substitution is purely textual.
package template

import (
	"regexp"
	"sort"
	"strings"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
)

// slotPattern matches {{name}} occurrences. Names are identifiers; there is
// no nesting and no conditional syntax.
var slotPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// ExtractSlotNames returns the union of slot names across all file contents,
// sorted for stable output.
func ExtractSlotNames(files map[string]string) []string {
	seen := make(map[string]struct{})
	for _, content := range files {
		for _, m := range slotPattern.FindAllStringSubmatch(content, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the template's slot closure: every {{name}} occurring in
// the files must have a declared slot. Returns a validation error naming the
// first offending slot.
func Validate(t *model.Template) error {
	declared := make(map[string]struct{}, len(t.Slots))
	for _, s := range t.Slots {
		declared[s.Name] = struct{}{}
	}
	for _, name := range ExtractSlotNames(t.Files) {
		if _, ok := declared[name]; !ok {
			return errs.Validation("template file references undeclared slot %q", name)
		}
	}
	return nil
}

// Interpolate substitutes slot values into the template files and returns a
// new file map. Values missing from the input fall back to the slot's
// default; a slot with neither a value nor a default is a validation error
// when it occurs in a file, and is left unresolved otherwise.
func Interpolate(t *model.Template, values map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(t.Slots))
	for _, s := range t.Slots {
		if v, ok := values[s.Name]; ok {
			resolved[s.Name] = v
			continue
		}
		if s.Default == "" {
			if _, used := slotInUse(t.Files, s.Name); used {
				return nil, errs.Validation("slot %q has no value and no default", s.Name)
			}
			continue
		}
		resolved[s.Name] = s.Default
	}

	out := make(map[string]string, len(t.Files))
	for path, content := range t.Files {
		out[path] = slotPattern.ReplaceAllStringFunc(content, func(m string) string {
			name := slotPattern.FindStringSubmatch(m)[1]
			if v, ok := resolved[name]; ok {
				return v
			}
			return m
		})
	}
	return out, nil
}

func slotInUse(files map[string]string, name string) (string, bool) {
	needle := "{{" + name + "}}"
	for path, content := range files {
		if strings.Contains(content, needle) {
			return path, true
		}
	}
	return "", false
}
