// Package resolve merges platform defaults, tenant config and worker config
// into the effective configuration handed to the loader. Resolution is pure:
// identical inputs always produce identical output.
package resolve

import "github.com/substrate-host/substrate/internal/model"

// FallbackCompatibilityDate applies when no level defines one.
const FallbackCompatibilityDate = "2026-01-24"

// Resolve merges the three configuration levels. Worker may be nil (tenant-
// level resolution, e.g. ephemeral runs without per-run overrides).
//
// Per-field rules:
//   - env: shallow merge, worker over tenant over defaults
//   - compatibilityDate, globalOutbound: first defined of worker, tenant,
//     defaults (date falls back to FallbackCompatibilityDate)
//   - compatibilityFlags: defaults ++ tenant ++ worker, first-seen order,
//     deduplicated
//   - limits: per-sub-field merge, worker over tenant over defaults; absent
//     everywhere stays absent
//   - tails: defaults ++ tenant ++ worker, duplicates preserved
func Resolve(defaults, tenant model.ConfigBundle, worker *model.ConfigBundle) model.EffectiveConfig {
	w := model.ConfigBundle{}
	if worker != nil {
		w = *worker
	}

	out := model.EffectiveConfig{
		Env:                mergeEnv(defaults.Env, tenant.Env, w.Env),
		CompatibilityDate:  firstDefined(w.CompatibilityDate, tenant.CompatibilityDate, defaults.CompatibilityDate, FallbackCompatibilityDate),
		CompatibilityFlags: mergeFlags(defaults.CompatibilityFlags, tenant.CompatibilityFlags, w.CompatibilityFlags),
		Limits:             mergeLimits(defaults.Limits, tenant.Limits, w.Limits),
		Tails:              concat(defaults.Tails, tenant.Tails, w.Tails),
		GlobalOutbound:     firstDefined(w.GlobalOutbound, tenant.GlobalOutbound, defaults.GlobalOutbound, ""),
	}
	return out
}

func mergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

func firstDefined(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mergeFlags(layers ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, layer := range layers {
		for _, f := range layer {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

func mergeLimits(layers ...*model.Limits) *model.Limits {
	var out *model.Limits
	for _, l := range layers {
		if l == nil {
			continue
		}
		if out == nil {
			out = &model.Limits{}
		}
		if l.CPUMs != nil {
			v := *l.CPUMs
			out.CPUMs = &v
		}
		if l.Subrequests != nil {
			v := *l.Subrequests
			out.Subrequests = &v
		}
	}
	return out
}

func concat(layers ...[]string) []string {
	out := []string{}
	for _, layer := range layers {
		out = append(out, layer...)
	}
	return out
}
