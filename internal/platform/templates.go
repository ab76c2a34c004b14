package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/substrate-host/substrate/internal/errs"
	"github.com/substrate-host/substrate/internal/model"
	"github.com/substrate-host/substrate/internal/store"
	"github.com/substrate-host/substrate/internal/template"
)

// TemplateInput is the payload for registering or replacing a template.
type TemplateInput struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Files       map[string]string   `json:"files"`
	Slots       []model.Slot        `json:"slots"`
	Defaults    *model.ConfigBundle `json:"defaults,omitempty"`
}

// FromTemplateInput is the payload for instantiating a worker from a
// template.
type FromTemplateInput struct {
	WorkerID  string              `json:"worker_id"`
	Slots     map[string]string   `json:"slots,omitempty"`
	Overrides *model.ConfigBundle `json:"overrides,omitempty"`
	Hostnames []string            `json:"hostnames,omitempty"`
}

// RegisterTemplate validates and stores a new template. The slot closure is
// checked at write time: every {{name}} in the files must be declared.
func (p *Platform) RegisterTemplate(ctx context.Context, in TemplateInput) (*model.Template, error) {
	if err := validateID("template", in.ID); err != nil {
		return nil, err
	}
	if err := validateFiles(in.Files); err != nil {
		return nil, err
	}

	existing, err := p.stores.Templates.GetTemplate(ctx, in.ID)
	if err != nil {
		return nil, errs.Storage(err, "failed to read template %q", in.ID)
	}
	if existing != nil {
		return nil, errs.Conflict("template %q already exists", in.ID)
	}

	now := time.Now().UTC()
	t := &model.Template{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Files:       in.Files,
		Slots:       in.Slots,
		Defaults:    in.Defaults,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := template.Validate(t); err != nil {
		return nil, err
	}
	if err := p.stores.Templates.PutTemplate(ctx, t); err != nil {
		return nil, errs.Storage(err, "failed to write template %q", in.ID)
	}

	log.Info().Str("template", in.ID).Msg("Template registered")
	return t, nil
}

// UpdateTemplate replaces a template's fields. The slot closure is
// re-validated against the updated files.
func (p *Platform) UpdateTemplate(ctx context.Context, id string, in TemplateInput) (*model.Template, error) {
	t, err := p.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		t.Name = in.Name
	}
	if in.Description != "" {
		t.Description = in.Description
	}
	if in.Files != nil {
		if err := validateFiles(in.Files); err != nil {
			return nil, err
		}
		t.Files = in.Files
	}
	if in.Slots != nil {
		t.Slots = in.Slots
	}
	if in.Defaults != nil {
		t.Defaults = in.Defaults
	}
	t.UpdatedAt = time.Now().UTC()

	if err := template.Validate(t); err != nil {
		return nil, err
	}
	if err := p.stores.Templates.PutTemplate(ctx, t); err != nil {
		return nil, errs.Storage(err, "failed to write template %q", id)
	}

	log.Info().Str("template", id).Msg("Template updated")
	return t, nil
}

// GetTemplate returns a template record.
func (p *Platform) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	t, err := p.stores.Templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, errs.Storage(err, "failed to read template %q", id)
	}
	if t == nil {
		return nil, errs.NotFound("template", id)
	}
	return t, nil
}

// DeleteTemplate removes a template. Workers created from it are untouched.
func (p *Platform) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := p.GetTemplate(ctx, id); err != nil {
		return err
	}
	if err := p.stores.Templates.DeleteTemplate(ctx, id); err != nil {
		return errs.Storage(err, "failed to delete template %q", id)
	}
	log.Info().Str("template", id).Msg("Template deleted")
	return nil
}

// ListTemplates returns one page of template metadata.
func (p *Platform) ListTemplates(ctx context.Context, opts store.ListOptions) (*store.TemplatePage, error) {
	page, err := p.stores.Templates.ListTemplates(ctx, opts)
	if err != nil {
		return nil, errs.Storage(err, "failed to list templates")
	}
	return page, nil
}

// PreviewTemplateFiles interpolates a template's files without side
// effects. Omitted slots fall back to their defaults.
func (p *Platform) PreviewTemplateFiles(ctx context.Context, id string, slots map[string]string) (map[string]string, error) {
	t, err := p.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	return template.Interpolate(t, slots)
}

// CreateWorkerFromTemplate interpolates the template and creates a normal
// worker from the result. The template's defaults seed the worker config,
// with the caller's overrides laid on top; the worker keeps no reference to
// the template.
func (p *Platform) CreateWorkerFromTemplate(ctx context.Context, tenantID, templateID string, in FromTemplateInput, opts *BuildOpts) (*model.Worker, error) {
	t, err := p.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	files, err := template.Interpolate(t, in.Slots)
	if err != nil {
		return nil, err
	}

	cfg := model.ConfigBundle{}
	if t.Defaults != nil {
		cfg = t.Defaults.Clone()
	}
	if in.Overrides != nil {
		cfg = cfg.Merge(*in.Overrides)
	}

	return p.CreateWorker(ctx, tenantID, WorkerInput{
		ID:        in.WorkerID,
		Config:    cfg,
		Files:     files,
		Hostnames: in.Hostnames,
	}, opts)
}
