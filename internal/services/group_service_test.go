package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupService_CreateAndList(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	work, err := svc.groups.CreateGroup(ctx, " Work ", "")
	require.NoError(t, err)
	home, err := svc.groups.CreateGroup(ctx, "Home", "")
	require.NoError(t, err)
	clients, err := svc.groups.CreateGroup(ctx, "Clients", work.ID)
	require.NoError(t, err)

	assert.Equal(t, "Work", work.Name)
	assert.True(t, work.Expanded)
	assert.Equal(t, 1, work.Order)
	assert.Equal(t, 2, home.Order)
	assert.Equal(t, 1, clients.Order)
	assert.Equal(t, work.ID, clients.ParentID)

	all, err := svc.groups.ListGroups(ctx)
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, g := range all {
		names[i] = g.Name
	}
	assert.Equal(t, []string{"Work", "Clients", "Home"}, names, "depth-first")
}

func TestGroupService_Validation(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	l1, err := svc.groups.CreateGroup(ctx, "L1", "")
	require.NoError(t, err)
	l2, err := svc.groups.CreateGroup(ctx, "L2", l1.ID)
	require.NoError(t, err)
	l3, err := svc.groups.CreateGroup(ctx, "L3", l2.ID)
	require.NoError(t, err)

	tests := []struct {
		name   string
		label  string
		parent string
		field  string
	}{
		{"too_deep", "L4", l3.ID, "parent_id"},
		{"missing_parent", "X", "nope", "parent_id"},
		{"empty_name", " ", "", "name"},
		{"long_name", strings.Repeat("n", 51), "", "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.groups.CreateGroup(ctx, tt.label, tt.parent)
			require.Error(t, err)
			field, ok := IsFieldError(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, field)
		})
	}

	n, err := svc.groupStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGroupService_Move(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	a, _ := svc.groups.CreateGroup(ctx, "A", "")
	b, _ := svc.groups.CreateGroup(ctx, "B", a.ID)
	c, _ := svc.groups.CreateGroup(ctx, "C", b.ID)
	other, _ := svc.groups.CreateGroup(ctx, "Other", "")
	leaf, _ := svc.groups.CreateGroup(ctx, "Leaf", other.ID)

	t.Run("into_own_descendant", func(t *testing.T) {
		_, err := svc.groups.MoveGroup(ctx, a.ID, c.ID)
		assert.True(t, errors.Is(err, ErrValidation))
	})
	t.Run("into_itself", func(t *testing.T) {
		_, err := svc.groups.MoveGroup(ctx, a.ID, a.ID)
		assert.True(t, errors.Is(err, ErrValidation))
	})
	t.Run("subtree_would_exceed_depth", func(t *testing.T) {
		_, err := svc.groups.MoveGroup(ctx, b.ID, leaf.ID)
		assert.True(t, errors.Is(err, ErrValidation))
	})
	t.Run("missing_group", func(t *testing.T) {
		_, err := svc.groups.MoveGroup(ctx, "nope", "")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
	t.Run("to_root", func(t *testing.T) {
		moved, err := svc.groups.MoveGroup(ctx, b.ID, "")
		require.NoError(t, err)
		assert.True(t, moved.IsRoot())
		assert.Equal(t, 3, moved.Order)
	})
	t.Run("under_other", func(t *testing.T) {
		moved, err := svc.groups.MoveGroup(ctx, c.ID, other.ID)
		require.NoError(t, err)
		assert.Equal(t, other.ID, moved.ParentID)
		assert.Equal(t, 2, moved.Order)
	})
}

func TestGroupService_RenameReorderExpand(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	a, _ := svc.groups.CreateGroup(ctx, "A", "")
	b, _ := svc.groups.CreateGroup(ctx, "B", "")

	renamed, err := svc.groups.RenameGroup(ctx, a.ID, "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", renamed.Name)
	_, err = svc.groups.RenameGroup(ctx, a.ID, "")
	assert.True(t, errors.Is(err, ErrValidation))

	require.NoError(t, svc.groups.ReorderGroups(ctx, "", []string{b.ID, a.ID}))
	all, err := svc.groups.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, all[0].ID)
	assert.True(t, errors.Is(svc.groups.ReorderGroups(ctx, "", []string{a.ID}), ErrValidation))

	collapsed, err := svc.groups.SetExpanded(ctx, a.ID, false)
	require.NoError(t, err)
	assert.False(t, collapsed.Expanded)
}

func TestGroupService_DeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()
	events := recordEvents(env.deps.Bus)

	parent, _ := svc.groups.CreateGroup(ctx, "Parent", "")
	child, _ := svc.groups.CreateGroup(ctx, "Child", parent.ID)
	keep, _ := svc.groups.CreateGroup(ctx, "Keep", "")

	t1, err := svc.templates.CreateTemplate(ctx, textInput(parent.ID, "p", "p"))
	require.NoError(t, err)
	t2, err := svc.templates.CreateTemplate(ctx, textInput(child.ID, "c", "c"))
	require.NoError(t, err)
	kept, err := svc.templates.CreateTemplate(ctx, textInput(keep.ID, "k", "k"))
	require.NoError(t, err)

	desc, err := svc.groups.Descendants(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, desc)

	res, err := svc.groups.DeleteGroup(ctx, parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parent.ID, child.ID}, res.GroupIDs)
	assert.ElementsMatch(t, []string{t1.ID, t2.ID}, res.TemplateIDs)

	groups, err := svc.groups.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, keep.ID, groups[0].ID)

	templates, err := svc.templates.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, kept.ID, templates[0].ID)

	names := events.Names()
	require.NotEmpty(t, names)
	assert.Equal(t, EventGroupDeleted, names[len(names)-1])
	assert.Contains(t, names, EventTemplateDeleted)

	res, err = svc.groups.DeleteGroup(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, res.GroupIDs)

	_, err = svc.groups.Descendants(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGroupService_DeleteGroupBlocksWritesIntoSubtree(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	g, err := svc.groups.CreateGroup(ctx, "Doomed", "")
	require.NoError(t, err)
	_, err = svc.templates.CreateTemplate(ctx, textInput(g.ID, "first", "first"))
	require.NoError(t, err)

	var (
		once        sync.Once
		wg          sync.WaitGroup
		templateErr error
		groupErr    error
	)
	unsubscribe := env.deps.Bus.Subscribe(func(ev Event) {
		if _, ok := ev.(TemplateDeletedEvent); !ok {
			return
		}
		once.Do(func() {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, templateErr = svc.templates.CreateTemplate(ctx, textInput(g.ID, "late", "late"))
			}()
			go func() {
				defer wg.Done()
				_, groupErr = svc.groups.CreateGroup(ctx, "Late child", g.ID)
			}()
		})
	})
	defer unsubscribe()

	_, err = svc.groups.DeleteGroup(ctx, g.ID)
	require.NoError(t, err)
	wg.Wait()

	var ve *ValidationError
	require.ErrorAs(t, templateErr, &ve)
	assert.Equal(t, "group_id", ve.Field)
	require.ErrorAs(t, groupErr, &ve)
	assert.Equal(t, "parent_id", ve.Field)

	groups, err := svc.groups.ListGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
	templates, err := svc.templates.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Empty(t, templates, "no template may reference a deleted group")
}

func TestGroupService_WithGroup(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	g, err := svc.groups.CreateGroup(ctx, "Held", "")
	require.NoError(t, err)

	var seen string
	require.NoError(t, svc.groups.WithGroup(ctx, g.ID, func(held models.Group) error {
		seen = held.Name
		return nil
	}))
	assert.Equal(t, "Held", seen)

	called := false
	err = svc.groups.WithGroup(ctx, "missing", func(models.Group) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)

	_, err = svc.templates.MoveTemplate(ctx, "missing", g.ID)
	assert.ErrorIs(t, err, ErrNotFound, "errors from inside the guard pass through")
	var ve *ValidationError
	assert.False(t, errors.As(err, &ve))
}
