package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentKind_Valid(t *testing.T) {
	for _, k := range ContentKinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, ContentKind("sticker").Valid())
	assert.False(t, ContentKind("").Valid())
}

func TestContentKind_HasMedia(t *testing.T) {
	tests := map[ContentKind]bool{
		KindText:    false,
		KindImage:   true,
		KindAudio:   true,
		KindVideo:   true,
		KindMixed:   true,
		KindContact: false,
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.HasMedia(), kind)
	}
}

func TestTemplate_CloneDoesNotShareContact(t *testing.T) {
	orig := Template{ID: "t1", Kind: KindContact, Content: Content{Contact: &Contact{Name: "Ana", Phone: "1"}}}

	cp := orig.Clone()
	cp.Content.Contact.Name = "Bob"

	assert.Equal(t, "Ana", orig.Content.Contact.Name)
	assert.Equal(t, "t1", cp.EntityID())
}

func TestAccountConfig_CloneDoesNotShareExpandedGroups(t *testing.T) {
	cfg := DefaultAccountConfig("acct-1", time.Now())
	cfg.ExpandedGroups = append(cfg.ExpandedGroups, "g1")

	cp := cfg.Clone()
	cp.ExpandedGroups[0] = "g2"

	assert.Equal(t, []string{"g1"}, cfg.ExpandedGroups)
	assert.Equal(t, SendModeOriginal, cfg.SendMode)
	assert.Equal(t, "acct-1", cfg.EntityID())
}
