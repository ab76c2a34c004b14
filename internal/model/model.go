// Package model defines the persisted records and configuration bundles
// shared by the stores, the resolver and the platform façade.
package model

import "time"

// Limits caps resource usage for a worker. Nil sub-fields inherit from the
// next level up the configuration chain.
type Limits struct {
	CPUMs       *int `json:"cpu_ms,omitempty"`
	Subrequests *int `json:"subrequests,omitempty"`
}

// Clone returns a deep copy of the limits.
func (l *Limits) Clone() *Limits {
	if l == nil {
		return nil
	}
	out := &Limits{}
	if l.CPUMs != nil {
		v := *l.CPUMs
		out.CPUMs = &v
	}
	if l.Subrequests != nil {
		v := *l.Subrequests
		out.Subrequests = &v
	}
	return out
}

// ConfigBundle is the configuration shape shared by platform defaults,
// tenants and workers. Zero values mean "inherit from the level above".
type ConfigBundle struct {
	Env                map[string]string `json:"env,omitempty"`
	CompatibilityDate  string            `json:"compatibility_date,omitempty"`
	CompatibilityFlags []string          `json:"compatibility_flags,omitempty"`
	Limits             *Limits           `json:"limits,omitempty"`
	Tails              []string          `json:"tails,omitempty"`
	GlobalOutbound     string            `json:"global_outbound,omitempty"`
}

// Clone returns a deep copy of the bundle.
func (c ConfigBundle) Clone() ConfigBundle {
	out := ConfigBundle{
		CompatibilityDate: c.CompatibilityDate,
		GlobalOutbound:    c.GlobalOutbound,
		Limits:            c.Limits.Clone(),
	}
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	if c.CompatibilityFlags != nil {
		out.CompatibilityFlags = append([]string(nil), c.CompatibilityFlags...)
	}
	if c.Tails != nil {
		out.Tails = append([]string(nil), c.Tails...)
	}
	return out
}

// Merge lays patch over c field by field. Zero-valued patch fields leave the
// receiver's value in place; there is no way to clear a field.
func (c ConfigBundle) Merge(patch ConfigBundle) ConfigBundle {
	out := c.Clone()
	if patch.Env != nil {
		out.Env = make(map[string]string, len(patch.Env))
		for k, v := range patch.Env {
			out.Env[k] = v
		}
	}
	if patch.CompatibilityDate != "" {
		out.CompatibilityDate = patch.CompatibilityDate
	}
	if patch.CompatibilityFlags != nil {
		out.CompatibilityFlags = append([]string(nil), patch.CompatibilityFlags...)
	}
	if patch.Limits != nil {
		out.Limits = patch.Limits.Clone()
	}
	if patch.Tails != nil {
		out.Tails = append([]string(nil), patch.Tails...)
	}
	if patch.GlobalOutbound != "" {
		out.GlobalOutbound = patch.GlobalOutbound
	}
	return out
}

// EffectiveConfig is the resolved configuration handed to the loader.
type EffectiveConfig struct {
	Env                map[string]string `json:"env"`
	CompatibilityDate  string            `json:"compatibility_date"`
	CompatibilityFlags []string          `json:"compatibility_flags"`
	Limits             *Limits           `json:"limits,omitempty"`
	Tails              []string          `json:"tails"`
	GlobalOutbound     string            `json:"global_outbound,omitempty"`
}

// Tenant is the logical owner of workers.
type Tenant struct {
	ID        string       `json:"id"`
	Config    ConfigBundle `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Worker is one compilable, addressable unit inside a tenant.
type Worker struct {
	TenantID  string            `json:"tenant_id"`
	ID        string            `json:"id"`
	Config    ConfigBundle      `json:"config"`
	Files     map[string]string `json:"files"`
	Hostnames []string          `json:"hostnames,omitempty"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Bundle is the compiled artifact for a worker at a specific version.
// Fingerprint-cached bundles carry Version 0.
type Bundle struct {
	MainModule string            `json:"main_module"`
	Modules    map[string]string `json:"modules"`
	Version    int               `json:"version"`
	BuiltAt    time.Time         `json:"built_at"`
}

// HostnameRoute binds a hostname to exactly one worker.
type HostnameRoute struct {
	Hostname string `json:"hostname"`
	TenantID string `json:"tenant_id"`
	WorkerID string `json:"worker_id"`
}

// Slot is a named placeholder declared by a template.
type Slot struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default"`
	Example     string `json:"example,omitempty"`
}

// Template is a reusable worker skeleton with {{slot}} placeholders.
type Template struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Files       map[string]string `json:"files"`
	Slots       []Slot            `json:"slots"`
	Defaults    *ConfigBundle     `json:"defaults,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Metadata projects a template for listing.
func (t *Template) Metadata() TemplateMetadata {
	names := make([]string, 0, len(t.Slots))
	for _, s := range t.Slots {
		names = append(names, s.Name)
	}
	return TemplateMetadata{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		SlotNames:   names,
	}
}

// TemplateMetadata is the listing projection of a template.
type TemplateMetadata struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	SlotNames   []string `json:"slot_names"`
}
