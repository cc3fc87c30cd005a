package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry owns the open controllers, at most one per account, so each
// (account, kind) pair has a single store instance in the process.
type Registry struct {
	deps Dependencies

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry. Every controller it opens shares deps.
func NewRegistry(deps Dependencies) (*Registry, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Registry{deps: deps, controllers: make(map[string]*Controller)}, nil
}

// Open returns the controller of accountID, creating and initializing it when
// the account is not open yet.
func (r *Registry) Open(ctx context.Context, accountID string) (*Controller, error) {
	accountID = strings.TrimSpace(accountID)
	r.mu.Lock()
	if c, ok := r.controllers[accountID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	c, err := NewController(accountID, r.deps)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.controllers[accountID] = c
	r.publishCount()
	r.mu.Unlock()

	if err := c.Initialize(ctx); err != nil {
		r.mu.Lock()
		delete(r.controllers, accountID)
		r.publishCount()
		r.mu.Unlock()
		_ = c.Destroy(ctx)
		return nil, err
	}
	return c, nil
}

func (r *Registry) Lookup(accountID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[accountID]
	return c, ok
}

// Switch moves the controller of from to account to. It fails with
// ErrAccountInUse when another controller already owns to.
func (r *Registry) Switch(ctx context.Context, from, to string, ui *UIState) error {
	to = strings.TrimSpace(to)
	r.mu.Lock()
	c, ok := r.controllers[from]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: account %q is not open", ErrNotFound, from)
	}
	if to == "" || to == from {
		r.mu.Unlock()
		return nil
	}
	if _, taken := r.controllers[to]; taken {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAccountInUse, to)
	}
	r.controllers[to] = c
	r.mu.Unlock()

	err := c.SwitchAccount(ctx, to, ui)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, from)
	delete(r.controllers, to)
	r.controllers[c.AccountID()] = c
	if err != nil {
		r.deps.Logger.Warn("registry switch failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
	}
	return err
}

// Close destroys the controller of accountID. Unknown accounts are ignored.
func (r *Registry) Close(ctx context.Context, accountID string) error {
	r.mu.Lock()
	c, ok := r.controllers[accountID]
	delete(r.controllers, accountID)
	r.publishCount()
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Destroy(ctx)
}

// CloseAll destroys every controller and reports all failures.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := r.controllers
	r.controllers = make(map[string]*Controller)
	r.publishCount()
	r.mu.Unlock()

	var errs []error
	for id, c := range all {
		if err := c.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Accounts lists the open accounts in sorted order.
func (r *Registry) Accounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.controllers))
	for id := range r.controllers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Events returns the bus shared by every controller of the registry.
func (r *Registry) Events() *EventBus { return r.deps.Bus }

func (r *Registry) publishCount() {
	r.deps.Metrics.SetActiveControllers(len(r.controllers))
}
