package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/ajramos/quickreply/internal/models"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// BundleFormatVersion is the only bundle layout understood by Decode.
const BundleFormatVersion = 1

const (
	mediaRefPrefix = "media:"
	ageHeader      = "age-encryption.org/"
)

// BundleFormat selects the bundle encoding.
type BundleFormat string

const (
	BundleJSON BundleFormat = "json"
	BundleYAML BundleFormat = "yaml"
)

// Bundle is the portable export of one account's groups and templates.
// Media files are embedded base64-encoded and referenced as "media:<key>".
type Bundle struct {
	FormatVersion int               `json:"format_version" yaml:"format_version"`
	AccountID     string            `json:"account_id" yaml:"account_id"`
	ExportedAt    time.Time         `json:"exported_at" yaml:"exported_at"`
	Groups        []models.Group    `json:"groups" yaml:"groups"`
	Templates     []models.Template `json:"templates" yaml:"templates"`
	Media         map[string]string `json:"media,omitempty" yaml:"media,omitempty"`
}

// BundleOptions controls encoding and encryption. Recipients and Identities
// are age X25519 keys ("age1..." and "AGE-SECRET-KEY-1...").
type BundleOptions struct {
	Format     BundleFormat
	Recipients []string
	Identities []string
}

// ImportResult counts what an import created.
type ImportResult struct {
	Groups    int `json:"groups"`
	Templates int `json:"templates"`
	Media     int `json:"media"`
	Skipped   int `json:"skipped"`
}

const bundleSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["format_version", "account_id", "groups", "templates"],
  "properties": {
    "format_version": {"const": 1},
    "account_id": {"type": "string", "minLength": 1},
    "exported_at": {"type": "string"},
    "groups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "parent_id": {"type": "string"},
          "order": {"type": "integer"},
          "expanded": {"type": "boolean"}
        }
      }
    },
    "templates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "group_id", "type", "label", "content"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "group_id": {"type": "string", "minLength": 1},
          "type": {"enum": ["text", "image", "audio", "video", "mixed", "contact"]},
          "label": {"type": "string", "minLength": 1},
          "order": {"type": "integer"},
          "content": {"type": "object"}
        }
      }
    },
    "media": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var (
	schemaOnce   sync.Once
	schemaLoaded *gojsonschema.Schema
	schemaErr    error
)

func compiledBundleSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaLoaded, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(bundleSchema))
	})
	return schemaLoaded, schemaErr
}

// BundleServiceImpl implements BundleService for one account
type BundleServiceImpl struct {
	accountID string
	groups    GroupService
	templates TemplateService
	media     *MediaStore
	clock     Clock
	logger    *zap.Logger
}

// NewBundleService creates a bundle service over the account's managers
func NewBundleService(accountID string, groups GroupService, templates TemplateService, media *MediaStore, clock Clock, logger *zap.Logger) *BundleServiceImpl {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleServiceImpl{
		accountID: accountID,
		groups:    groups,
		templates: templates,
		media:     media,
		clock:     clock,
		logger:    logger,
	}
}

// Export writes the account's bundle to w and returns it.
func (s *BundleServiceImpl) Export(ctx context.Context, w io.Writer, opts BundleOptions) (*Bundle, error) {
	groups, err := s.groups.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	templates, err := s.templates.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	b := &Bundle{
		FormatVersion: BundleFormatVersion,
		AccountID:     s.accountID,
		ExportedAt:    s.clock.Now(),
		Groups:        groups,
		Templates:     templates,
	}
	if err := s.embedMedia(ctx, b); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeBundle(&buf, b, opts.Format); err != nil {
		return nil, err
	}
	if err := writeMaybeEncrypted(w, buf.Bytes(), opts.Recipients); err != nil {
		return nil, err
	}
	s.logger.Info("bundle exported",
		zap.Int("groups", len(b.Groups)),
		zap.Int("templates", len(b.Templates)),
		zap.Int("media", len(b.Media)))
	return b, nil
}

// embedMedia reads every referenced media file concurrently and rewrites
// template refs to "media:<key>".
func (s *BundleServiceImpl) embedMedia(ctx context.Context, b *Bundle) error {
	keys := map[string]string{}
	var paths []string
	for i := range b.Templates {
		p := b.Templates[i].Content.MediaPath
		if p == "" {
			continue
		}
		key, ok := keys[p]
		if !ok {
			key = strconv.Itoa(len(paths)+1) + strings.ToLower(filepath.Ext(p))
			keys[p] = key
			paths = append(paths, p)
		}
		b.Templates[i].Content.MediaPath = mediaRefPrefix + key
	}
	if len(paths) == 0 {
		return nil
	}

	encoded := make([]string, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := s.media.Read(p)
			if err != nil {
				return fmt.Errorf("failed to read media %s: %w", p, err)
			}
			encoded[i] = base64.StdEncoding.EncodeToString(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.Media = make(map[string]string, len(paths))
	for i, p := range paths {
		b.Media[keys[p]] = encoded[i]
	}
	return nil
}

func encodeBundle(w io.Writer, b *Bundle, format BundleFormat) error {
	switch format {
	case "", BundleJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	case BundleYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(b); err != nil {
			return err
		}
		return enc.Close()
	default:
		return invalid("format", "unsupported bundle format %q", format)
	}
}

func writeMaybeEncrypted(w io.Writer, data []byte, recipients []string) error {
	if len(recipients) == 0 {
		_, err := w.Write(data)
		return err
	}
	rs := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		rec, err := age.ParseX25519Recipient(strings.TrimSpace(r))
		if err != nil {
			return invalid("recipients", "%v", err)
		}
		rs = append(rs, rec)
	}
	enc, err := age.Encrypt(w, rs...)
	if err != nil {
		return fmt.Errorf("failed to encrypt bundle: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		return err
	}
	return enc.Close()
}

// Decode reads, decrypts when needed, validates and parses a bundle.
// The encoding is sniffed when opts.Format is empty.
func (s *BundleServiceImpl) Decode(r io.Reader, opts BundleOptions) (*Bundle, error) {
	return DecodeBundle(r, opts)
}

// DecodeBundle is Decode without an account binding.
func DecodeBundle(r io.Reader, opts BundleOptions) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	if bytes.HasPrefix(data, []byte(ageHeader)) {
		if data, err = decrypt(data, opts.Identities); err != nil {
			return nil, err
		}
	}

	format := opts.Format
	if format == "" {
		format = BundleYAML
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			format = BundleJSON
		}
	}

	canonical := data
	switch format {
	case BundleJSON:
	case BundleYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, invalid("bundle", "malformed yaml: %v", err)
		}
		if canonical, err = json.Marshal(doc); err != nil {
			return nil, invalid("bundle", "unsupported yaml content: %v", err)
		}
	default:
		return nil, invalid("format", "unsupported bundle format %q", format)
	}

	if err := validateBundle(canonical); err != nil {
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal(canonical, &b); err != nil {
		return nil, invalid("bundle", "%v", err)
	}
	return &b, nil
}

func decrypt(data []byte, identities []string) ([]byte, error) {
	if len(identities) == 0 {
		return nil, invalid("identities", "bundle is encrypted and no identity was given")
	}
	ids := make([]age.Identity, 0, len(identities))
	for _, raw := range identities {
		id, err := age.ParseX25519Identity(strings.TrimSpace(raw))
		if err != nil {
			return nil, invalid("identities", "%v", err)
		}
		ids = append(ids, id)
	}
	dec, err := age.Decrypt(bytes.NewReader(data), ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt bundle: %w", err)
	}
	return io.ReadAll(dec)
}

func validateBundle(doc []byte) error {
	schema, err := compiledBundleSchema()
	if err != nil {
		return fmt.Errorf("bundle schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return invalid("bundle", "malformed document: %v", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return invalid("bundle", "%s", strings.Join(msgs, "; "))
}

// Import recreates the bundle's groups and templates under fresh ids in this
// account. Group and parent references are remapped and embedded media is
// written into this account's media directory. Templates whose group is not
// part of the bundle are skipped. Import stops at the first failure; what was
// created until then stays.
func (s *BundleServiceImpl) Import(ctx context.Context, b *Bundle) (ImportResult, error) {
	var res ImportResult
	if b == nil {
		return res, invalid("bundle", "is nil")
	}
	if b.FormatVersion != BundleFormatVersion {
		return res, invalid("format_version", "unsupported version %d", b.FormatVersion)
	}

	groupIDs := make(map[string]string, len(b.Groups))
	for _, g := range importOrder(b.Groups) {
		parent := ""
		if g.ParentID != "" {
			parent = groupIDs[g.ParentID]
		}
		created, err := s.groups.CreateGroup(ctx, g.Name, parent)
		if err != nil {
			return res, fmt.Errorf("failed to import group %q: %w", g.Name, err)
		}
		if created.Expanded != g.Expanded {
			if _, err := s.groups.SetExpanded(ctx, created.ID, g.Expanded); err != nil {
				return res, err
			}
		}
		groupIDs[g.ID] = created.ID
		res.Groups++
	}

	templates := make([]models.Template, len(b.Templates))
	copy(templates, b.Templates)
	sortTemplates(templates)

	written := map[string]string{}
	for _, t := range templates {
		groupID, ok := groupIDs[t.GroupID]
		if !ok {
			s.logger.Warn("skipping template without group", zap.String("template", t.ID), zap.String("group", t.GroupID))
			res.Skipped++
			continue
		}
		content := t.Content.Clone()
		if key, ok := strings.CutPrefix(content.MediaPath, mediaRefPrefix); ok {
			path, err := s.restoreMedia(b, key, written)
			if err != nil {
				return res, err
			}
			if _, seen := written[key]; !seen {
				res.Media++
			}
			written[key] = path
			content.MediaPath = path
		}
		if _, err := s.templates.CreateTemplate(ctx, TemplateInput{
			GroupID: groupID,
			Kind:    t.Kind,
			Label:   t.Label,
			Content: content,
		}); err != nil {
			return res, fmt.Errorf("failed to import template %q: %w", t.Label, err)
		}
		res.Templates++
	}

	s.logger.Info("bundle imported",
		zap.String("source", b.AccountID),
		zap.Int("groups", res.Groups),
		zap.Int("templates", res.Templates),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (s *BundleServiceImpl) restoreMedia(b *Bundle, key string, written map[string]string) (string, error) {
	if path, ok := written[key]; ok {
		return path, nil
	}
	encoded, ok := b.Media[key]
	if !ok {
		return "", invalid("media", "missing embedded media %q", key)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", invalid("media", "media %q: %v", key, err)
	}
	if s.media == nil {
		return "", errors.New("no media store configured")
	}
	return s.media.Write(key, data)
}

// importOrder sorts groups parents first, then by order within a parent.
func importOrder(groups []models.Group) []models.Group {
	tree := newGroupTree(groups)
	out := make([]models.Group, len(groups))
	copy(out, groups)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := tree.depth(out[i].ID), tree.depth(out[j].ID)
		if di != dj {
			return di < dj
		}
		if out[i].ParentID != out[j].ParentID {
			return out[i].ParentID < out[j].ParentID
		}
		return out[i].Order < out[j].Order
	})
	return out
}

var _ BundleService = (*BundleServiceImpl)(nil)
