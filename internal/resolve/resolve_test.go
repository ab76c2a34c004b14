package resolve

import (
	"reflect"
	"testing"

	"github.com/substrate-host/substrate/internal/model"
)

func intPtr(v int) *int { return &v }

func TestResolveEnvMerge(t *testing.T) {
	defaults := model.ConfigBundle{Env: map[string]string{"A": "1", "B": "1"}}
	tenant := model.ConfigBundle{Env: map[string]string{"B": "2", "C": "2"}}
	worker := model.ConfigBundle{Env: map[string]string{"C": "3", "D": "3"}}

	got := Resolve(defaults, tenant, &worker)

	want := map[string]string{"A": "1", "B": "2", "C": "3", "D": "3"}
	if !reflect.DeepEqual(got.Env, want) {
		t.Errorf("env = %v, want %v", got.Env, want)
	}
}

func TestResolveCompatibilityDate(t *testing.T) {
	tests := []struct {
		name     string
		defaults string
		tenant   string
		worker   string
		want     string
	}{
		{
			name:   "worker wins",
			worker: "2026-03-01", tenant: "2026-02-01", defaults: "2026-01-01",
			want: "2026-03-01",
		},
		{
			name:   "tenant when worker undefined",
			tenant: "2026-02-01", defaults: "2026-01-01",
			want: "2026-02-01",
		},
		{
			name:     "defaults when both undefined",
			defaults: "2026-01-01",
			want:     "2026-01-01",
		},
		{
			name: "fallback when all undefined",
			want: FallbackCompatibilityDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := model.ConfigBundle{CompatibilityDate: tt.worker}
			got := Resolve(
				model.ConfigBundle{CompatibilityDate: tt.defaults},
				model.ConfigBundle{CompatibilityDate: tt.tenant},
				&worker,
			)
			if got.CompatibilityDate != tt.want {
				t.Errorf("compatibilityDate = %q, want %q", got.CompatibilityDate, tt.want)
			}
		})
	}
}

func TestResolveFlagsDedupPreservesFirstSeenOrder(t *testing.T) {
	defaults := model.ConfigBundle{CompatibilityFlags: []string{"a"}}
	tenant := model.ConfigBundle{CompatibilityFlags: []string{"b", "a"}}
	worker := model.ConfigBundle{CompatibilityFlags: []string{"c"}}

	got := Resolve(defaults, tenant, &worker)

	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got.CompatibilityFlags, want) {
		t.Errorf("flags = %v, want %v", got.CompatibilityFlags, want)
	}
}

func TestResolveTailsConcatenatePreservingDuplicates(t *testing.T) {
	defaults := model.ConfigBundle{Tails: []string{"audit"}}
	tenant := model.ConfigBundle{Tails: []string{"audit", "billing"}}
	worker := model.ConfigBundle{Tails: []string{"debug"}}

	got := Resolve(defaults, tenant, &worker)

	want := []string{"audit", "audit", "billing", "debug"}
	if !reflect.DeepEqual(got.Tails, want) {
		t.Errorf("tails = %v, want %v", got.Tails, want)
	}
}

func TestResolveLimits(t *testing.T) {
	t.Run("absent everywhere stays absent", func(t *testing.T) {
		got := Resolve(model.ConfigBundle{}, model.ConfigBundle{}, nil)
		if got.Limits != nil {
			t.Errorf("limits = %+v, want nil", got.Limits)
		}
	})

	t.Run("sub-fields merge independently", func(t *testing.T) {
		defaults := model.ConfigBundle{Limits: &model.Limits{CPUMs: intPtr(50), Subrequests: intPtr(10)}}
		worker := model.ConfigBundle{Limits: &model.Limits{CPUMs: intPtr(100)}}

		got := Resolve(defaults, model.ConfigBundle{}, &worker)

		if got.Limits == nil || got.Limits.CPUMs == nil || *got.Limits.CPUMs != 100 {
			t.Fatalf("cpuMs = %+v, want 100", got.Limits)
		}
		if got.Limits.Subrequests == nil || *got.Limits.Subrequests != 10 {
			t.Errorf("subrequests = %+v, want inherited 10", got.Limits.Subrequests)
		}
	})
}

func TestResolveGlobalOutboundFirstDefined(t *testing.T) {
	defaults := model.ConfigBundle{GlobalOutbound: "platform-egress"}
	tenant := model.ConfigBundle{GlobalOutbound: "tenant-egress"}

	got := Resolve(defaults, tenant, nil)
	if got.GlobalOutbound != "tenant-egress" {
		t.Errorf("globalOutbound = %q, want tenant-egress", got.GlobalOutbound)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	defaults := model.ConfigBundle{
		Env:                map[string]string{"A": "1"},
		CompatibilityFlags: []string{"x", "y"},
		Tails:              []string{"t1"},
	}
	tenant := model.ConfigBundle{Env: map[string]string{"B": "2"}}
	worker := model.ConfigBundle{Env: map[string]string{"C": "3"}, CompatibilityFlags: []string{"y", "z"}}

	first := Resolve(defaults, tenant, &worker)
	for range 10 {
		if got := Resolve(defaults, tenant, &worker); !reflect.DeepEqual(got, first) {
			t.Fatalf("resolve is not deterministic: %+v != %+v", got, first)
		}
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	defaults := model.ConfigBundle{Env: map[string]string{"A": "1"}}
	tenant := model.ConfigBundle{Env: map[string]string{"A": "2"}}

	Resolve(defaults, tenant, nil)

	if defaults.Env["A"] != "1" {
		t.Error("defaults mutated by resolve")
	}
}
