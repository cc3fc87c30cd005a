package services

import (
	"context"
	"io"

	"github.com/ajramos/quickreply/internal/models"
)

// TemplateInput describes a template to create.
type TemplateInput struct {
	GroupID string
	Kind    models.ContentKind
	Label   string
	Content models.Content
}

// TemplateUpdate replaces the editable fields of a template.
type TemplateUpdate struct {
	Kind    models.ContentKind
	Label   string
	Content models.Content
}

// TemplateService handles template business logic for one account
type TemplateService interface {
	CreateTemplate(ctx context.Context, in TemplateInput) (models.Template, error)
	GetTemplate(ctx context.Context, id string) (models.Template, error)
	ListTemplates(ctx context.Context) ([]models.Template, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.Template, error)
	UpdateTemplate(ctx context.Context, id string, in TemplateUpdate) (models.Template, error)
	MoveTemplate(ctx context.Context, id, groupID string) (models.Template, error)
	ReorderTemplates(ctx context.Context, groupID string, orderedIDs []string) error
	RecordUsage(ctx context.Context, id string) (models.Template, error)
	SearchTemplates(ctx context.Context, keyword string) ([]models.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	BatchDeleteTemplates(ctx context.Context, ids []string) (int, error)
	DeleteByGroups(ctx context.Context, groupIDs []string) ([]string, error)
}

// GroupService handles the group hierarchy for one account
type GroupService interface {
	CreateGroup(ctx context.Context, name, parentID string) (models.Group, error)
	GetGroup(ctx context.Context, id string) (models.Group, error)
	ListGroups(ctx context.Context) ([]models.Group, error)
	RenameGroup(ctx context.Context, id, name string) (models.Group, error)
	MoveGroup(ctx context.Context, id, parentID string) (models.Group, error)
	ReorderGroups(ctx context.Context, parentID string, orderedIDs []string) error
	SetExpanded(ctx context.Context, id string, expanded bool) (models.Group, error)
	Descendants(ctx context.Context, id string) ([]string, error)
	DeleteGroup(ctx context.Context, id string) (GroupDeletion, error)
}

// AccountConfigService handles the per-account session/config record
type AccountConfigService interface {
	EnsureConfig(ctx context.Context) (cfg models.AccountConfig, created bool, err error)
	GetConfig(ctx context.Context) (models.AccountConfig, error)
	UpdateConfig(ctx context.Context, mutate func(*models.AccountConfig) error) (models.AccountConfig, error)
}

// Translator translates message text
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage, style string) (string, error)
}

// BundleService exports and imports account bundles
type BundleService interface {
	Export(ctx context.Context, w io.Writer, opts BundleOptions) (*Bundle, error)
	Decode(r io.Reader, opts BundleOptions) (*Bundle, error)
	Import(ctx context.Context, b *Bundle) (ImportResult, error)
}

// GroupLookup guards group references made by templates.
type GroupLookup interface {
	// WithGroup runs fn while the group is held: it cannot be deleted until
	// fn returns.
	WithGroup(ctx context.Context, id string, fn func(models.Group) error) error
}

// TemplateCascade removes the templates of deleted groups.
type TemplateCascade interface {
	DeleteByGroups(ctx context.Context, groupIDs []string) ([]string, error)
}
