// Package models holds the account-scoped entities persisted by the stores.
package models

import (
	"slices"
	"time"
)

// ContentKind identifies the shape of a template's payload.
type ContentKind string

const (
	KindText    ContentKind = "text"
	KindImage   ContentKind = "image"
	KindAudio   ContentKind = "audio"
	KindVideo   ContentKind = "video"
	KindMixed   ContentKind = "mixed"
	KindContact ContentKind = "contact"
)

// ContentKinds lists every supported kind in display order.
var ContentKinds = []ContentKind{KindText, KindImage, KindAudio, KindVideo, KindMixed, KindContact}

// Valid reports whether k is a known kind.
func (k ContentKind) Valid() bool {
	return slices.Contains(ContentKinds, k)
}

// HasMedia reports whether templates of this kind reference a media file.
func (k ContentKind) HasMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindMixed:
		return true
	}
	return false
}

// SendMode controls whether text is translated before it is sent.
type SendMode string

const (
	SendModeOriginal   SendMode = "original"
	SendModeTranslated SendMode = "translated"
)

// Valid reports whether m is a known send mode.
func (m SendMode) Valid() bool {
	return m == SendModeOriginal || m == SendModeTranslated
}

// Contact is the structured payload of a contact template.
type Contact struct {
	Name  string `json:"name" yaml:"name"`
	Phone string `json:"phone" yaml:"phone"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Note  string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Content is the kind-specific payload of a template.
type Content struct {
	Text      string   `json:"text,omitempty" yaml:"text,omitempty"`
	MediaPath string   `json:"media_path,omitempty" yaml:"media_path,omitempty"`
	Caption   string   `json:"caption,omitempty" yaml:"caption,omitempty"`
	Contact   *Contact `json:"contact,omitempty" yaml:"contact,omitempty"`
}

// Clone returns a deep copy of c.
func (c Content) Clone() Content {
	if c.Contact != nil {
		contact := *c.Contact
		c.Contact = &contact
	}
	return c
}

// Template is a reusable reply.
type Template struct {
	ID         string      `json:"id" yaml:"id"`
	GroupID    string      `json:"group_id" yaml:"group_id"`
	Kind       ContentKind `json:"type" yaml:"type"`
	Label      string      `json:"label" yaml:"label"`
	Content    Content     `json:"content" yaml:"content"`
	Order      int         `json:"order" yaml:"order"`
	CreatedAt  time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" yaml:"updated_at"`
	UsageCount int         `json:"usage_count" yaml:"usage_count"`
	LastUsedAt time.Time   `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
}

func (t Template) EntityID() string { return t.ID }

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	t.Content = t.Content.Clone()
	return t
}

// Group is a named container for templates. Groups nest up to MaxGroupDepth.
type Group struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	ParentID  string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Order     int       `json:"order" yaml:"order"`
	Expanded  bool      `json:"expanded" yaml:"expanded"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func (g Group) EntityID() string { return g.ID }

func (g Group) Clone() Group { return g }

// IsRoot reports whether g has no parent.
func (g Group) IsRoot() bool { return g.ParentID == "" }

// AccountConfig is the per-account session and preference record.
type AccountConfig struct {
	AccountID         string    `json:"account_id"`
	SendMode          SendMode  `json:"send_mode"`
	LastSelectedGroup string    `json:"last_selected_group,omitempty"`
	ExpandedGroups    []string  `json:"expanded_groups"`
	TargetLanguage    string    `json:"target_language,omitempty"`
	TranslationStyle  string    `json:"translation_style,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (c AccountConfig) EntityID() string { return c.AccountID }

// Clone returns a deep copy of c.
func (c AccountConfig) Clone() AccountConfig {
	c.ExpandedGroups = slices.Clone(c.ExpandedGroups)
	return c
}

// DefaultAccountConfig returns the record created the first time an account is seen.
func DefaultAccountConfig(accountID string, now time.Time) AccountConfig {
	return AccountConfig{
		AccountID:      accountID,
		SendMode:       SendModeOriginal,
		ExpandedGroups: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

const (
	// MaxLabelLength bounds template labels and group names, in runes.
	MaxLabelLength = 50
	// MaxGroupDepth bounds group nesting; a root group has depth 1.
	MaxGroupDepth = 3
)
