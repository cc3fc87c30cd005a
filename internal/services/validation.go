package services

import (
	"strings"
	"unicode/utf8"

	"github.com/ajramos/quickreply/internal/models"
)

// normalizeLabel trims s and checks it is 1..MaxLabelLength runes long.
func normalizeLabel(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalid(field, "must not be empty")
	}
	if n := utf8.RuneCountInString(s); n > models.MaxLabelLength {
		return "", invalid(field, "must be at most %d characters, got %d", models.MaxLabelLength, n)
	}
	return s, nil
}

// normalizeContent checks that content matches kind and drops the fields the
// kind does not use.
func normalizeContent(kind models.ContentKind, c models.Content) (models.Content, error) {
	if !kind.Valid() {
		return models.Content{}, invalid("type", "unknown content type %q", kind)
	}
	c = c.Clone()
	c.Text = strings.TrimRightFunc(c.Text, isTrailingSpace)
	c.MediaPath = strings.TrimSpace(c.MediaPath)
	c.Caption = strings.TrimSpace(c.Caption)

	switch kind {
	case models.KindText:
		if strings.TrimSpace(c.Text) == "" {
			return models.Content{}, invalid("content.text", "text templates need text")
		}
		return models.Content{Text: c.Text}, nil

	case models.KindImage, models.KindAudio, models.KindVideo:
		if c.MediaPath == "" {
			return models.Content{}, invalid("content.media_path", "%s templates need a media file", kind)
		}
		return models.Content{MediaPath: c.MediaPath, Caption: c.Caption}, nil

	case models.KindMixed:
		if c.MediaPath == "" {
			return models.Content{}, invalid("content.media_path", "mixed templates need a media file")
		}
		if strings.TrimSpace(c.Text) == "" {
			return models.Content{}, invalid("content.text", "mixed templates need text")
		}
		return models.Content{Text: c.Text, MediaPath: c.MediaPath, Caption: c.Caption}, nil

	case models.KindContact:
		if c.Contact == nil {
			return models.Content{}, invalid("content.contact", "contact templates need a contact")
		}
		contact := models.Contact{
			Name:  strings.TrimSpace(c.Contact.Name),
			Phone: strings.TrimSpace(c.Contact.Phone),
			Email: strings.TrimSpace(c.Contact.Email),
			Note:  strings.TrimSpace(c.Contact.Note),
		}
		if contact.Name == "" {
			return models.Content{}, invalid("content.contact.name", "must not be empty")
		}
		if contact.Phone == "" {
			return models.Content{}, invalid("content.contact.phone", "must not be empty")
		}
		return models.Content{Contact: &contact}, nil
	}
	return models.Content{}, invalid("type", "unknown content type %q", kind)
}

func isTrailingSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// FormatContactCard renders a contact as the text sent for contact templates.
func FormatContactCard(c *models.Contact) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString("\n")
	b.WriteString(c.Phone)
	if c.Email != "" {
		b.WriteString("\n")
		b.WriteString(c.Email)
	}
	if c.Note != "" {
		b.WriteString("\n")
		b.WriteString(c.Note)
	}
	return b.String()
}
