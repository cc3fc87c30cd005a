package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/ajramos/quickreply/internal/store"
	"go.uber.org/zap"
)

// GroupDeletion lists what a cascading group delete removed.
type GroupDeletion struct {
	GroupIDs    []string
	TemplateIDs []string
}

// GroupServiceImpl implements GroupService
type GroupServiceImpl struct {
	accountID string
	store     *store.Store[models.Group]
	templates TemplateCascade
	bus       *EventBus
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// NewGroupService creates a new group service bound to the store's account
func NewGroupService(st *store.Store[models.Group], bus *EventBus, clock Clock, ids IDGenerator, logger *zap.Logger) *GroupServiceImpl {
	if clock == nil {
		clock = RealClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupServiceImpl{
		accountID: st.AccountID(),
		store:     st,
		bus:       bus,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// SetTemplateCascade sets the template service used when groups are deleted
func (s *GroupServiceImpl) SetTemplateCascade(templates TemplateCascade) {
	s.templates = templates
}

// CreateGroup appends a group under parentID ("" for a root group)
func (s *GroupServiceImpl) CreateGroup(ctx context.Context, name, parentID string) (models.Group, error) {
	name, err := normalizeLabel("name", name)
	if err != nil {
		return models.Group{}, err
	}
	parentID = strings.TrimSpace(parentID)

	now := s.clock.Now()
	g, err := s.store.Insert(ctx, func(existing []models.Group) (models.Group, error) {
		tree := newGroupTree(existing)
		if parentID != "" {
			if _, ok := tree.byID[parentID]; !ok {
				return models.Group{}, invalid("parent_id", "group %q does not exist", parentID)
			}
			if tree.depth(parentID)+1 > models.MaxGroupDepth {
				return models.Group{}, invalid("parent_id", "groups nest at most %d levels", models.MaxGroupDepth)
			}
		}
		return models.Group{
			ID:        s.ids.New(),
			Name:      name,
			ParentID:  parentID,
			Order:     tree.nextOrder(parentID),
			Expanded:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	})
	if err != nil {
		return models.Group{}, err
	}

	s.bus.Publish(GroupCreatedEvent{AccountID: s.accountID, Group: g})
	return g, nil
}

func (s *GroupServiceImpl) GetGroup(ctx context.Context, id string) (models.Group, error) {
	return s.store.Get(ctx, id)
}

// ListGroups returns groups in depth-first tree order, siblings by order
func (s *GroupServiceImpl) ListGroups(ctx context.Context) ([]models.Group, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return newGroupTree(all).ordered(), nil
}

func (s *GroupServiceImpl) RenameGroup(ctx context.Context, id, name string) (models.Group, error) {
	name, err := normalizeLabel("name", name)
	if err != nil {
		return models.Group{}, err
	}
	return s.store.Update(ctx, id, func(g *models.Group) error {
		g.Name = name
		g.UpdatedAt = s.clock.Now()
		return nil
	})
}

// MoveGroup reparents a group (with its subtree) to the end of parentID's
// children. The new parent must exist, must not be the group itself or one of
// its descendants, and the moved subtree must still fit within MaxGroupDepth.
func (s *GroupServiceImpl) MoveGroup(ctx context.Context, id, parentID string) (models.Group, error) {
	parentID = strings.TrimSpace(parentID)
	var moved models.Group
	err := s.store.Mutate(ctx, func(items []models.Group) ([]models.Group, bool, error) {
		tree := newGroupTree(items)
		idx, ok := tree.index[id]
		if !ok {
			return nil, false, fmt.Errorf("%w: group %q", ErrNotFound, id)
		}
		if items[idx].ParentID == parentID {
			moved = items[idx]
			return items, false, nil
		}
		if parentID != "" {
			if _, ok := tree.byID[parentID]; !ok {
				return nil, false, invalid("parent_id", "group %q does not exist", parentID)
			}
			if parentID == id || tree.isDescendant(parentID, id) {
				return nil, false, invalid("parent_id", "a group cannot be moved under itself")
			}
		}
		parentDepth := 0
		if parentID != "" {
			parentDepth = tree.depth(parentID)
		}
		if parentDepth+tree.height(id) > models.MaxGroupDepth {
			return nil, false, invalid("parent_id", "groups nest at most %d levels", models.MaxGroupDepth)
		}

		g := items[idx]
		g.Order = tree.nextOrder(parentID)
		g.ParentID = parentID
		g.UpdatedAt = s.clock.Now()
		items[idx] = g
		moved = g
		return items, true, nil
	})
	if err != nil {
		return models.Group{}, err
	}
	return moved, nil
}

// ReorderGroups assigns orders 1..n to the children of parentID following
// orderedIDs, which must list each child exactly once
func (s *GroupServiceImpl) ReorderGroups(ctx context.Context, parentID string, orderedIDs []string) error {
	return s.store.Mutate(ctx, func(items []models.Group) ([]models.Group, bool, error) {
		members := map[string]int{}
		for i, g := range items {
			if g.ParentID == parentID {
				members[g.ID] = i
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
			items[i].Order = pos + 1
			items[i].UpdatedAt = now
			changed = true
		}
		return items, changed, nil
	})
}

func (s *GroupServiceImpl) SetExpanded(ctx context.Context, id string, expanded bool) (models.Group, error) {
	return s.store.Update(ctx, id, func(g *models.Group) error {
		g.Expanded = expanded
		return nil
	})
}

// Descendants returns the ids of every group below id
func (s *GroupServiceImpl) Descendants(ctx context.Context, id string) ([]string, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	tree := newGroupTree(all)
	if _, ok := tree.byID[id]; !ok {
		return nil, fmt.Errorf("%w: group %q", ErrNotFound, id)
	}
	return tree.descendants(id), nil
}

// DeleteGroup removes a group, its descendants and every template in any of
// them. The group store stays locked for the whole cascade, so no template or
// subgroup can be attached to the doomed subtree meanwhile. Templates go first
// so a failure never leaves templates pointing at missing groups. Deleting a
// missing group succeeds.
func (s *GroupServiceImpl) DeleteGroup(ctx context.Context, id string) (GroupDeletion, error) {
	var res GroupDeletion
	err := s.store.Mutate(ctx, func(items []models.Group) ([]models.Group, bool, error) {
		tree := newGroupTree(items)
		if _, ok := tree.byID[id]; !ok {
			return items, false, nil
		}
		groupIDs := append([]string{id}, tree.descendants(id)...)

		if s.templates != nil {
			deleted, err := s.templates.DeleteByGroups(ctx, groupIDs)
			if err != nil {
				return nil, false, fmt.Errorf("failed to delete templates of group %q: %w", id, err)
			}
			res.TemplateIDs = deleted
		}

		drop := make(map[string]struct{}, len(groupIDs))
		for _, gid := range groupIDs {
			drop[gid] = struct{}{}
		}
		kept := make([]models.Group, 0, len(items)-len(groupIDs))
		for _, g := range items {
			if _, ok := drop[g.ID]; !ok {
				kept = append(kept, g)
			}
		}
		res.GroupIDs = groupIDs
		return kept, true, nil
	})
	if err != nil {
		return GroupDeletion{TemplateIDs: res.TemplateIDs}, err
	}
	if len(res.GroupIDs) == 0 {
		return GroupDeletion{}, nil
	}

	s.logger.Debug("group deleted", zap.String("group", id),
		zap.Int("groups", len(res.GroupIDs)), zap.Int("templates", len(res.TemplateIDs)))
	s.bus.Publish(GroupDeletedEvent{AccountID: s.accountID, GroupIDs: res.GroupIDs, TemplateIDs: res.TemplateIDs})
	return res, nil
}

// WithGroup runs fn under the group store lock once the group is known to
// exist. Lock order is groups, then templates.
func (s *GroupServiceImpl) WithGroup(ctx context.Context, id string, fn func(models.Group) error) error {
	return s.store.Mutate(ctx, func(items []models.Group) ([]models.Group, bool, error) {
		for _, g := range items {
			if g.ID == id {
				return items, false, fn(g.Clone())
			}
		}
		return items, false, fmt.Errorf("%w: group %q", ErrNotFound, id)
	})
}

// groupTree indexes a group collection for hierarchy queries.
type groupTree struct {
	groups   []models.Group
	index    map[string]int
	byID     map[string]models.Group
	children map[string][]string
}

func newGroupTree(groups []models.Group) *groupTree {
	t := &groupTree{
		groups:   groups,
		index:    make(map[string]int, len(groups)),
		byID:     make(map[string]models.Group, len(groups)),
		children: make(map[string][]string),
	}
	for i, g := range groups {
		t.index[g.ID] = i
		t.byID[g.ID] = g
	}
	for _, g := range groups {
		t.children[g.ParentID] = append(t.children[g.ParentID], g.ID)
	}
	for parent := range t.children {
		ids := t.children[parent]
		sort.SliceStable(ids, func(i, j int) bool { return t.byID[ids[i]].Order < t.byID[ids[j]].Order })
	}
	return t
}

// depth returns 1 for a root group. Broken parent chains stop the walk.
func (t *groupTree) depth(id string) int {
	d := 0
	seen := map[string]bool{}
	for cur := id; cur != "" && !seen[cur]; {
		g, ok := t.byID[cur]
		if !ok {
			break
		}
		seen[cur] = true
		d++
		cur = g.ParentID
	}
	return d
}

// height returns the number of levels in the subtree rooted at id (1 for a leaf).
func (t *groupTree) height(id string) int {
	best := 0
	for _, child := range t.children[id] {
		if h := t.height(child); h > best {
			best = h
		}
	}
	return best + 1
}

// isDescendant reports whether id lies below ancestor.
func (t *groupTree) isDescendant(id, ancestor string) bool {
	seen := map[string]bool{}
	for cur := t.byID[id].ParentID; cur != "" && !seen[cur]; cur = t.byID[cur].ParentID {
		if cur == ancestor {
			return true
		}
		seen[cur] = true
	}
	return false
}

func (t *groupTree) descendants(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	var walk func(string)
	walk = func(parent string) {
		for _, child := range t.children[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	return out
}

func (t *groupTree) nextOrder(parentID string) int {
	highest := 0
	for _, id := range t.children[parentID] {
		if o := t.byID[id].Order; o > highest {
			highest = o
		}
	}
	return highest + 1
}

// ordered returns groups depth-first; orphans whose parent is missing follow
// at the end.
func (t *groupTree) ordered() []models.Group {
	out := make([]models.Group, 0, len(t.groups))
	visited := make(map[string]bool, len(t.groups))
	var walk func(string)
	walk = func(parent string) {
		for _, id := range t.children[parent] {
			if visited[id] {
				continue
			}
			visited[id] = true
			out = append(out, t.byID[id])
			walk(id)
		}
	}
	walk("")
	for _, g := range t.groups {
		if !visited[g.ID] {
			visited[g.ID] = true
			out = append(out, g)
			walk(g.ID)
		}
	}
	return out
}

var _ GroupService = (*GroupServiceImpl)(nil)
