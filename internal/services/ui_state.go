package services

import (
	"slices"
	"time"

	"github.com/ajramos/quickreply/internal/models"
)

// Panel names a presentation-layer panel the controller tracks as open or closed.
type Panel string

const (
	PanelTemplates Panel = "templates"
	PanelEditor    Panel = "editor"
	PanelGroups    Panel = "groups"
	PanelSettings  Panel = "settings"
	PanelImport    Panel = "import"
)

// Flags records which panels are open.
type Flags struct {
	OpenPanels []Panel
}

// IsOpen reports whether p is open.
func (f Flags) IsOpen(p Panel) bool { return slices.Contains(f.OpenPanels, p) }

func (f Flags) Clone() Flags {
	return Flags{OpenPanels: slices.Clone(f.OpenPanels)}
}

// UIState is the volatile UI sub-state saved and restored across switches.
type UIState struct {
	SendMode       models.SendMode
	SearchKeyword  string
	ExpandedGroups []string
}

func (u UIState) Clone() UIState {
	u.ExpandedGroups = slices.Clone(u.ExpandedGroups)
	return u
}

// Snapshot is the in-memory state captured when leaving an account.
type Snapshot struct {
	AccountID string
	Flags     Flags
	UI        UIState
	SavedAt   time.Time
}

func (s Snapshot) Clone() Snapshot {
	s.Flags = s.Flags.Clone()
	s.UI = s.UI.Clone()
	return s
}

// AccountData is the loaded view of the active account.
type AccountData struct {
	AccountID string
	Config    models.AccountConfig
	Groups    []models.Group
	Templates []models.Template
}

func (d AccountData) Clone() AccountData {
	d.Config = d.Config.Clone()
	groups := make([]models.Group, len(d.Groups))
	for i, g := range d.Groups {
		groups[i] = g.Clone()
	}
	templates := make([]models.Template, len(d.Templates))
	for i, t := range d.Templates {
		templates[i] = t.Clone()
	}
	d.Groups, d.Templates = groups, templates
	return d
}

func uiStateFromConfig(cfg models.AccountConfig) UIState {
	mode := cfg.SendMode
	if !mode.Valid() {
		mode = models.SendModeOriginal
	}
	return UIState{
		SendMode:       mode,
		ExpandedGroups: slices.Clone(cfg.ExpandedGroups),
	}
}
