package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/ajramos/quickreply/internal/store"
	"go.uber.org/zap"
)

// TemplateServiceImpl implements TemplateService
type TemplateServiceImpl struct {
	accountID string
	store     *store.Store[models.Template]
	groups    GroupLookup
	media     *MediaStore
	bus       *EventBus
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// NewTemplateService creates a new template service bound to the store's account
func NewTemplateService(st *store.Store[models.Template], groups GroupLookup, media *MediaStore, bus *EventBus, clock Clock, ids IDGenerator, logger *zap.Logger) *TemplateServiceImpl {
	if clock == nil {
		clock = RealClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateServiceImpl{
		accountID: st.AccountID(),
		store:     st,
		groups:    groups,
		media:     media,
		bus:       bus,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// SetGroupLookup sets the group guard used for group references
func (s *TemplateServiceImpl) SetGroupLookup(groups GroupLookup) {
	s.groups = groups
}

func (s *TemplateServiceImpl) CreateTemplate(ctx context.Context, in TemplateInput) (models.Template, error) {
	label, err := normalizeLabel("label", in.Label)
	if err != nil {
		return models.Template{}, err
	}
	content, err := normalizeContent(in.Kind, in.Content)
	if err != nil {
		return models.Template{}, err
	}

	var t models.Template
	err = s.withGroup(ctx, in.GroupID, func() error {
		now := s.clock.Now()
		created, err := s.store.Insert(ctx, func(existing []models.Template) (models.Template, error) {
			return models.Template{
				ID:        s.ids.New(),
				GroupID:   in.GroupID,
				Kind:      in.Kind,
				Label:     label,
				Content:   content,
				Order:     nextTemplateOrder(existing, in.GroupID),
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		})
		if err != nil {
			return fmt.Errorf("failed to create template: %w", err)
		}
		t = created
		return nil
	})
	if err != nil {
		return models.Template{}, err
	}

	s.logger.Debug("template created", zap.String("template", t.ID))
	s.bus.Publish(TemplateCreatedEvent{AccountID: s.accountID, Template: t.Clone()})
	return t, nil
}

func (s *TemplateServiceImpl) GetTemplate(ctx context.Context, id string) (models.Template, error) {
	return s.store.Get(ctx, id)
}

// ListTemplates returns all templates ordered by group, then order
func (s *TemplateServiceImpl) ListTemplates(ctx context.Context) ([]models.Template, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sortTemplates(all)
	return all, nil
}

func (s *TemplateServiceImpl) ListByGroup(ctx context.Context, groupID string) ([]models.Template, error) {
	out, err := s.store.Search(ctx, func(t models.Template) bool { return t.GroupID == groupID })
	if err != nil {
		return nil, err
	}
	sortTemplates(out)
	return out, nil
}

func (s *TemplateServiceImpl) UpdateTemplate(ctx context.Context, id string, in TemplateUpdate) (models.Template, error) {
	label, err := normalizeLabel("label", in.Label)
	if err != nil {
		return models.Template{}, err
	}
	content, err := normalizeContent(in.Kind, in.Content)
	if err != nil {
		return models.Template{}, err
	}

	var oldMedia string
	updated, err := s.store.Update(ctx, id, func(t *models.Template) error {
		oldMedia = t.Content.MediaPath
		t.Kind = in.Kind
		t.Label = label
		t.Content = content
		t.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return models.Template{}, err
	}
	if oldMedia != "" && oldMedia != updated.Content.MediaPath {
		s.releaseMedia(ctx, []string{oldMedia})
	}
	return updated, nil
}

// MoveTemplate moves a template to the end of another group
func (s *TemplateServiceImpl) MoveTemplate(ctx context.Context, id, groupID string) (models.Template, error) {
	var moved models.Template
	err := s.withGroup(ctx, groupID, func() error {
		return s.store.Mutate(ctx, func(items []models.Template) ([]models.Template, bool, error) {
			idx := indexOfTemplate(items, id)
			if idx < 0 {
				return nil, false, fmt.Errorf("%w: template %q", ErrNotFound, id)
			}
			if items[idx].GroupID == groupID {
				moved = items[idx].Clone()
				return items, false, nil
			}
			t := items[idx].Clone()
			t.Order = nextTemplateOrder(items, groupID)
			t.GroupID = groupID
			t.UpdatedAt = s.clock.Now()
			items[idx] = t
			moved = t.Clone()
			return items, true, nil
		})
	})
	if err != nil {
		return models.Template{}, err
	}
	return moved, nil
}

// ReorderTemplates assigns orders 1..n following orderedIDs, which must list
// every template of the group exactly once
func (s *TemplateServiceImpl) ReorderTemplates(ctx context.Context, groupID string, orderedIDs []string) error {
	return s.store.Mutate(ctx, func(items []models.Template) ([]models.Template, bool, error) {
		members := map[string]int{}
		for i, t := range items {
			if t.GroupID == groupID {
				members[t.ID] = i
			}
		}
		if err := checkPermutation(members, orderedIDs); err != nil {
			return nil, false, err
		}
		now := s.clock.Now()
		changed := false
		for pos, id := range orderedIDs {
			i := members[id]
			if items[i].Order == pos+1 {
				continue
			}
			t := items[i].Clone()
			t.Order = pos + 1
			t.UpdatedAt = now
			items[i] = t
			changed = true
		}
		return items, changed, nil
	})
}

// RecordUsage bumps the usage counter of a template
func (s *TemplateServiceImpl) RecordUsage(ctx context.Context, id string) (models.Template, error) {
	return s.store.Update(ctx, id, func(t *models.Template) error {
		t.UsageCount++
		t.LastUsedAt = s.clock.Now()
		return nil
	})
}

// SearchTemplates matches keyword case-insensitively against label, text,
// caption and contact name. An empty keyword lists everything.
func (s *TemplateServiceImpl) SearchTemplates(ctx context.Context, keyword string) ([]models.Template, error) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return s.ListTemplates(ctx)
	}
	out, err := s.store.Search(ctx, func(t models.Template) bool {
		return matchesKeyword(t, kw)
	})
	if err != nil {
		return nil, err
	}
	sortTemplates(out)
	return out, nil
}

// DeleteTemplate removes a template and its media. Missing ids succeed.
func (s *TemplateServiceImpl) DeleteTemplate(ctx context.Context, id string) error {
	_, err := s.BatchDeleteTemplates(ctx, []string{id})
	return err
}

func (s *TemplateServiceImpl) BatchDeleteTemplates(ctx context.Context, ids []string) (int, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	deleted, err := s.deleteWhere(ctx, func(t models.Template) bool {
		_, ok := want[t.ID]
		return ok
	})
	return len(deleted), err
}

// DeleteByGroups removes every template belonging to one of groupIDs
func (s *TemplateServiceImpl) DeleteByGroups(ctx context.Context, groupIDs []string) ([]string, error) {
	want := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		want[id] = struct{}{}
	}
	return s.deleteWhere(ctx, func(t models.Template) bool {
		_, ok := want[t.GroupID]
		return ok
	})
}

func (s *TemplateServiceImpl) deleteWhere(ctx context.Context, match func(models.Template) bool) ([]string, error) {
	var removed []models.Template
	err := s.store.Mutate(ctx, func(items []models.Template) ([]models.Template, bool, error) {
		kept := make([]models.Template, 0, len(items))
		for _, t := range items {
			if match(t) {
				removed = append(removed, t.Clone())
				continue
			}
			kept = append(kept, t)
		}
		return kept, len(removed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(removed))
	var media []string
	for _, t := range removed {
		ids = append(ids, t.ID)
		if t.Content.MediaPath != "" {
			media = append(media, t.Content.MediaPath)
		}
	}
	s.releaseMedia(ctx, media)
	s.logger.Debug("templates deleted", zap.Int("count", len(ids)))
	s.bus.Publish(TemplateDeletedEvent{AccountID: s.accountID, TemplateIDs: ids})
	return ids, nil
}

// releaseMedia deletes account-owned media files no longer referenced by any
// template. Failures are logged; the templates are already gone.
func (s *TemplateServiceImpl) releaseMedia(ctx context.Context, paths []string) {
	if s.media == nil || len(paths) == 0 {
		return
	}
	for _, p := range paths {
		if !s.media.Owns(p) {
			continue
		}
		stillUsed, err := s.store.Search(ctx, func(t models.Template) bool { return t.Content.MediaPath == p })
		if err != nil || len(stillUsed) > 0 {
			continue
		}
		if err := s.media.Delete(p); err != nil {
			s.logger.Warn("failed to delete media", zap.String("path", p), zap.Error(err))
		}
	}
}

// withGroup runs fn while groupID is held by the group service, so the group
// cannot be deleted before fn's write lands.
func (s *TemplateServiceImpl) withGroup(ctx context.Context, groupID string, fn func() error) error {
	if strings.TrimSpace(groupID) == "" {
		return invalid("group_id", "must not be empty")
	}
	if s.groups == nil {
		return fn()
	}
	entered := false
	err := s.groups.WithGroup(ctx, groupID, func(models.Group) error {
		entered = true
		return fn()
	})
	if err != nil && !entered && errors.Is(err, ErrNotFound) {
		return invalid("group_id", "group %q does not exist", groupID)
	}
	return err
}

func nextTemplateOrder(items []models.Template, groupID string) int {
	highest := 0
	for _, t := range items {
		if t.GroupID == groupID && t.Order > highest {
			highest = t.Order
		}
	}
	return highest + 1
}

func indexOfTemplate(items []models.Template, id string) int {
	for i, t := range items {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func sortTemplates(ts []models.Template) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].GroupID != ts[j].GroupID {
			return ts[i].GroupID < ts[j].GroupID
		}
		return ts[i].Order < ts[j].Order
	})
}

func matchesKeyword(t models.Template, kw string) bool {
	fields := []string{t.Label, t.Content.Text, t.Content.Caption}
	if t.Content.Contact != nil {
		fields = append(fields, t.Content.Contact.Name)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), kw) {
			return true
		}
	}
	return false
}

// checkPermutation verifies ids lists every key of members exactly once.
func checkPermutation(members map[string]int, ids []string) error {
	if len(ids) != len(members) {
		return invalid("ids", "expected %d ids, got %d", len(members), len(ids))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := members[id]; !ok {
			return invalid("ids", "%q is not in this group", id)
		}
		if seen[id] {
			return invalid("ids", "%q listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

var _ TemplateService = (*TemplateServiceImpl)(nil)
