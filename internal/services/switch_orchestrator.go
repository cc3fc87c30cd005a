package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/quickreply/internal/lock"
	"github.com/ajramos/quickreply/internal/metrics"
	"github.com/ajramos/quickreply/internal/models"
	"go.uber.org/zap"
)

// SwitchState is the phase an account switch is in.
type SwitchState string

const (
	StateIdle        SwitchState = "idle"
	StateSwitching   SwitchState = "switching"
	StateSavingState SwitchState = "saving_state"
	StateUnloading   SwitchState = "unloading"
	StateLoading     SwitchState = "loading"
	StateRestoring   SwitchState = "restoring"
	StateSwitched    SwitchState = "switched"
	StateError       SwitchState = "error"
)

// switchTarget is the controller surface the switcher drives.
type switchTarget interface {
	AccountID() string
	Flags() Flags
	UIState() UIState
	closePanels()
	persistUI(ctx context.Context, ui UIState) error
	unload(ctx context.Context) error
	rebind(accountID string) error
	ensureConfig(ctx context.Context) (models.AccountConfig, bool, error)
	loadData(ctx context.Context) (AccountData, error)
	restoreUI(ui UIState)
}

// AccountSwitcher moves a controller from one account to another, one switch
// at a time process-wide.
type AccountSwitcher struct {
	target  switchTarget
	locks   *lock.Manager
	bus     *EventBus
	clock   Clock
	metrics *metrics.Collector
	logger  *zap.Logger

	mu        sync.Mutex
	state     SwitchState
	snapshots map[string]Snapshot

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func newAccountSwitcher(target switchTarget, locks *lock.Manager, bus *EventBus, clock Clock, m *metrics.Collector, logger *zap.Logger) *AccountSwitcher {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountSwitcher{
		target:    target,
		locks:     locks,
		bus:       bus,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		state:     StateIdle,
		snapshots: make(map[string]Snapshot),
	}
}

// HandleAccountSwitch switches to targetID. An empty target or the current
// account is a no-op. ui overrides the live UI state saved for the account
// being left. ctx bounds only the wait for the switch lock; once started, a
// switch runs to completion or failure.
func (s *AccountSwitcher) HandleAccountSwitch(ctx context.Context, targetID string, ui *UIState) error {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" || targetID == s.target.AccountID() {
		return nil
	}
	return s.locks.WithLock(ctx, lock.SwitchKey, func(ctx context.Context) error {
		from := s.target.AccountID()
		if targetID == from {
			return nil
		}
		return s.run(context.WithoutCancel(ctx), from, targetID, ui)
	})
}

func (s *AccountSwitcher) run(ctx context.Context, from, to string, ui *UIState) error {
	start := time.Now()
	log := s.logger.With(zap.String("from", from), zap.String("to", to))
	log.Info("switching account")

	s.setState(StateSwitching)
	s.bus.Publish(SwitchingEvent{From: from, To: to})

	fail := func(step SwitchState, err error) error {
		s.setState(StateError)
		log.Error("account switch failed", zap.String("step", string(step)), zap.Error(err))
		s.bus.Publish(SwitchErrorEvent{From: from, To: to, Err: err})
		s.metrics.ObserveSwitch(time.Since(start), err)
		return &SwitchError{From: from, To: to, Step: step, Err: err}
	}

	s.setState(StateSavingState)
	live := s.target.UIState()
	if ui != nil {
		live = ui.Clone()
	}
	s.putSnapshot(Snapshot{
		AccountID: from,
		Flags:     s.target.Flags(),
		UI:        live,
		SavedAt:   s.clock.Now(),
	})
	if err := s.target.persistUI(ctx, live); err != nil {
		return fail(StateSavingState, err)
	}
	s.bus.Publish(StateSavedEvent{AccountID: from})

	s.setState(StateUnloading)
	s.target.closePanels()
	if err := s.target.unload(ctx); err != nil {
		return fail(StateUnloading, err)
	}
	s.bus.Publish(DataUnloadedEvent{AccountID: from})

	s.setState(StateLoading)
	if err := s.target.rebind(to); err != nil {
		return fail(StateLoading, err)
	}
	cfg, created, err := s.target.ensureConfig(ctx)
	if err != nil {
		return fail(StateLoading, err)
	}
	if created {
		s.bus.Publish(FirstUseEvent{AccountID: to})
	}
	data, err := s.target.loadData(ctx)
	if err != nil {
		return fail(StateLoading, err)
	}
	s.bus.Publish(DataLoadedEvent{AccountID: to, Groups: data.Groups, Templates: data.Templates})

	s.setState(StateRestoring)
	restored := uiStateFromConfig(cfg)
	if snap, ok := s.Snapshot(to); ok {
		restored = snap.UI
	}
	s.target.restoreUI(restored)

	s.setState(StateSwitched)
	s.bus.Publish(UIRefreshEvent{AccountID: to})
	s.bus.Publish(SwitchedEvent{From: from, To: to})
	s.metrics.ObserveSwitch(time.Since(start), nil)
	log.Info("account switched", zap.Duration("elapsed", time.Since(start)))
	s.setState(StateIdle)
	return nil
}

// State returns the current switch phase.
func (s *AccountSwitcher) State() SwitchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AccountSwitcher) setState(st SwitchState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Snapshot returns a copy of the state saved when accountID was last left.
func (s *AccountSwitcher) Snapshot(accountID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[accountID]
	if !ok {
		return Snapshot{}, false
	}
	return snap.Clone(), true
}

func (s *AccountSwitcher) putSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.snapshots[snap.AccountID] = snap.Clone()
	s.mu.Unlock()
}

func (s *AccountSwitcher) ClearSnapshot(accountID string) {
	s.mu.Lock()
	delete(s.snapshots, accountID)
	s.mu.Unlock()
}

func (s *AccountSwitcher) ClearSnapshots() {
	s.mu.Lock()
	s.snapshots = make(map[string]Snapshot)
	s.mu.Unlock()
}

// Watch switches accounts as ids arrive on changes, until ctx is done, the
// channel is closed or Stop is called. A previous watch is stopped first.
func (s *AccountSwitcher) Watch(ctx context.Context, changes <-chan string) {
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.watchMu.Lock()
	s.watchCancel, s.watchDone = cancel, done
	s.watchMu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-changes:
				if !ok {
					return
				}
				if err := s.HandleAccountSwitch(ctx, id, nil); err != nil && ctx.Err() == nil {
					s.logger.Warn("account change not applied", zap.String("to", id), zap.Error(err))
				}
			}
		}
	}()
}

// Stop ends a running Watch and waits for it to return.
func (s *AccountSwitcher) Stop() {
	s.watchMu.Lock()
	cancel, done := s.watchCancel, s.watchDone
	s.watchCancel, s.watchDone = nil, nil
	s.watchMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
