package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"trimmed", "  Morning  ", "Morning", false},
		{"empty", "", "", true},
		{"whitespace_only", " \t\n ", "", true},
		{"exactly_max_runes", strings.Repeat("é", 50), strings.Repeat("é", 50), false},
		{"one_rune_too_long", strings.Repeat("é", 51), "", true},
		{"emoji_counts_as_rune", strings.Repeat("👋", 50), strings.Repeat("👋", 50), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeLabel("label", tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				field, ok := IsFieldError(err)
				assert.True(t, ok)
				assert.Equal(t, "label", field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name      string
		kind      models.ContentKind
		in        models.Content
		want      models.Content
		wantField string
	}{
		{
			name: "text_drops_media",
			kind: models.KindText,
			in:   models.Content{Text: "hi  \n", MediaPath: "/x.png", Caption: "c"},
			want: models.Content{Text: "hi"},
		},
		{
			name:      "text_requires_text",
			kind:      models.KindText,
			in:        models.Content{Text: "   "},
			wantField: "content.text",
		},
		{
			name: "image_keeps_caption",
			kind: models.KindImage,
			in:   models.Content{MediaPath: " /a.png ", Caption: " look ", Text: "dropped"},
			want: models.Content{MediaPath: "/a.png", Caption: "look"},
		},
		{
			name:      "video_requires_media",
			kind:      models.KindVideo,
			in:        models.Content{Caption: "c"},
			wantField: "content.media_path",
		},
		{
			name: "mixed",
			kind: models.KindMixed,
			in:   models.Content{MediaPath: "/a.png", Text: "hello"},
			want: models.Content{MediaPath: "/a.png", Text: "hello"},
		},
		{
			name:      "mixed_requires_text",
			kind:      models.KindMixed,
			in:        models.Content{MediaPath: "/a.png"},
			wantField: "content.text",
		},
		{
			name: "contact",
			kind: models.KindContact,
			in:   models.Content{Text: "x", Contact: &models.Contact{Name: " Ana ", Phone: "+34 600"}},
			want: models.Content{Contact: &models.Contact{Name: "Ana", Phone: "+34 600"}},
		},
		{
			name:      "contact_requires_phone",
			kind:      models.KindContact,
			in:        models.Content{Contact: &models.Contact{Name: "Ana"}},
			wantField: "content.contact.phone",
		},
		{
			name:      "contact_requires_contact",
			kind:      models.KindContact,
			wantField: "content.contact",
		},
		{
			name:      "unknown_kind",
			kind:      "sticker",
			in:        models.Content{Text: "x"},
			wantField: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeContent(tt.kind, tt.in)
			if tt.wantField != "" {
				require.Error(t, err)
				field, ok := IsFieldError(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantField, field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeContent_DoesNotAliasContact(t *testing.T) {
	in := models.Content{Contact: &models.Contact{Name: "Ana", Phone: "1"}}
	out, err := normalizeContent(models.KindContact, in)
	require.NoError(t, err)
	out.Contact.Name = "changed"
	assert.Equal(t, "Ana", in.Contact.Name)
}

func TestFormatContactCard(t *testing.T) {
	assert.Equal(t, "", FormatContactCard(nil))
	assert.Equal(t, "Ana\n+34 600", FormatContactCard(&models.Contact{Name: "Ana", Phone: "+34 600"}))
	assert.Equal(t, "Ana\n+34 600\nana@example.com\nfront desk",
		FormatContactCard(&models.Contact{Name: "Ana", Phone: "+34 600", Email: "ana@example.com", Note: "front desk"}))
}
