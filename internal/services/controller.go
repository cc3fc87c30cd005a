package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/ajramos/quickreply/internal/lock"
	"github.com/ajramos/quickreply/internal/metrics"
	"github.com/ajramos/quickreply/internal/models"
	"github.com/ajramos/quickreply/internal/store"
	"go.uber.org/zap"
)

// errUnloaded is returned while a switch has dropped the previous account and
// not yet loaded the next one.
var errUnloaded = fmt.Errorf("%w: no account loaded", ErrSwitch)

// Dependencies are the collaborators shared by controllers.
type Dependencies struct {
	DataDir    string
	Backends   store.BackendFactory
	Locks      *lock.Manager
	Surface    MessagingSurface
	Translator Translator
	Bus        *EventBus
	Clock      Clock
	IDs        IDGenerator
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	Defaults   ConfigDefaults
}

func (d Dependencies) withDefaults() (Dependencies, error) {
	if d.Backends == nil {
		if strings.TrimSpace(d.DataDir) == "" {
			return d, errors.New("data dir or backend factory is required")
		}
		d.Backends = store.FileBackends(d.DataDir)
	}
	if d.Locks == nil {
		d.Locks = lock.NewManager()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Bus == nil {
		d.Bus = NewEventBus(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.IDs == nil {
		d.IDs = UUIDGenerator{}
	}
	return d, nil
}

// SendOptions override the account's send preferences for one send.
type SendOptions struct {
	Mode           models.SendMode
	TargetLanguage string
	Style          string
}

// accountServices is everything bound to one account.
type accountServices struct {
	accountID     string
	templateStore *store.Store[models.Template]
	groupStore    *store.Store[models.Group]
	configStore   *store.Store[models.AccountConfig]

	templates *TemplateServiceImpl
	groups    *GroupServiceImpl
	configs   *AccountConfigServiceImpl
	bundles   *BundleServiceImpl
	media     *MediaStore
}

func openStore[T store.Entity[T]](d Dependencies, accountID string, kind store.Kind) (*store.Store[T], error) {
	backend, err := d.Backends(accountID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", kind, err)
	}
	opts := []store.Option{store.WithLogger(d.Logger)}
	if d.Metrics != nil {
		opts = append(opts, store.WithObserver(d.Metrics))
	}
	st, err := store.New[T](accountID, kind, backend, d.Locks, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return st, nil
}

func buildAccountServices(d Dependencies, accountID string) (*accountServices, error) {
	a := &accountServices{accountID: accountID}
	var err error
	if a.templateStore, err = openStore[models.Template](d, accountID, store.KindTemplates); err != nil {
		return nil, err
	}
	if a.groupStore, err = openStore[models.Group](d, accountID, store.KindGroups); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	if a.configStore, err = openStore[models.AccountConfig](d, accountID, store.KindConfig); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}

	logger := d.Logger.With(zap.String("account", accountID))
	if d.DataDir != "" {
		a.media = NewMediaStore(d.DataDir, accountID, d.IDs)
	}
	a.groups = NewGroupService(a.groupStore, d.Bus, d.Clock, d.IDs, logger)
	a.templates = NewTemplateService(a.templateStore, a.groups, a.media, d.Bus, d.Clock, d.IDs, logger)
	a.groups.SetTemplateCascade(a.templates)
	a.configs = NewAccountConfigService(a.configStore, d.Clock, d.Defaults)
	a.bundles = NewBundleService(accountID, a.groups, a.templates, a.media, d.Clock, logger)
	return a, nil
}

// close drains and closes every store that was opened.
func (a *accountServices) close(ctx context.Context) error {
	var errs []error
	closeStore := func(q interface {
		Quiesce(context.Context) error
		Close(context.Context) error
	}) {
		if err := q.Quiesce(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := q.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.templateStore != nil {
		closeStore(a.templateStore)
	}
	if a.groupStore != nil {
		closeStore(a.groupStore)
	}
	if a.configStore != nil {
		closeStore(a.configStore)
	}
	return errors.Join(errs...)
}

// Controller is the single entry point the presentation layer talks to. It
// owns the active account's stores and managers and drives account switches.
type Controller struct {
	deps     Dependencies
	switcher *AccountSwitcher
	logger   *zap.Logger

	mu        sync.RWMutex
	accountID string
	svc       *accountServices
	ui        UIState
	flags     Flags
	destroyed bool
}

// NewController creates a controller bound to accountID. Stores are opened
// lazily; call Initialize before use.
func NewController(accountID string, deps Dependencies) (*Controller, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, invalid("account_id", "must not be empty")
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	svc, err := buildAccountServices(deps, accountID)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		deps:      deps,
		logger:    deps.Logger,
		accountID: accountID,
		svc:       svc,
		ui:        UIState{SendMode: models.SendModeOriginal},
	}
	c.switcher = newAccountSwitcher(c, deps.Locks, deps.Bus, deps.Clock, deps.Metrics, deps.Logger)
	return c, nil
}

// Initialize loads the bound account, creating its config on first use.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	cfg, created, err := c.ensureConfig(ctx)
	if err != nil {
		return err
	}
	accountID := c.AccountID()
	if created {
		c.deps.Bus.Publish(FirstUseEvent{AccountID: accountID})
	}
	data, err := c.loadData(ctx)
	if err != nil {
		return err
	}
	c.restoreUI(uiStateFromConfig(cfg))
	c.deps.Bus.Publish(DataLoadedEvent{AccountID: accountID, Groups: data.Groups, Templates: data.Templates})
	c.logger.Info("controller initialized",
		zap.String("account", accountID),
		zap.Int("groups", len(data.Groups)),
		zap.Int("templates", len(data.Templates)))
	return nil
}

// Destroy stops watching, waits for a running switch and closes the stores.
// Every later call fails with ErrDestroyed; destroying twice is a no-op.
func (c *Controller) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.mu.Unlock()

	c.switcher.Stop()
	err := c.deps.Locks.WithLock(context.WithoutCancel(ctx), lock.SwitchKey, func(ctx context.Context) error {
		return c.unload(ctx)
	})
	c.switcher.ClearSnapshots()
	c.logger.Info("controller destroyed", zap.String("account", c.AccountID()))
	return err
}

func (c *Controller) checkAlive() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return ErrDestroyed
	}
	return nil
}

func (c *Controller) services() (*accountServices, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return nil, ErrDestroyed
	}
	if c.svc == nil {
		return nil, errUnloaded
	}
	return c.svc, nil
}

func (c *Controller) AccountID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountID
}

func (c *Controller) Templates() (TemplateService, error) {
	svc, err := c.services()
	if err != nil {
		return nil, err
	}
	return svc.templates, nil
}

func (c *Controller) Groups() (GroupService, error) {
	svc, err := c.services()
	if err != nil {
		return nil, err
	}
	return svc.groups, nil
}

func (c *Controller) Configs() (AccountConfigService, error) {
	svc, err := c.services()
	if err != nil {
		return nil, err
	}
	return svc.configs, nil
}

func (c *Controller) Media() (*MediaStore, error) {
	svc, err := c.services()
	if err != nil {
		return nil, err
	}
	if svc.media == nil {
		return nil, errors.New("no media directory configured")
	}
	return svc.media, nil
}

// Switcher exposes the account switcher for state, snapshots and watching.
func (c *Controller) Switcher() *AccountSwitcher { return c.switcher }

func (c *Controller) Events() *EventBus { return c.deps.Bus }

// CurrentData reads the active account's config, groups and templates.
func (c *Controller) CurrentData(ctx context.Context) (AccountData, error) {
	if _, err := c.services(); err != nil {
		return AccountData{}, err
	}
	return c.loadData(ctx)
}

// UIState returns a copy of the live UI state.
func (c *Controller) UIState() UIState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ui.Clone()
}

func (c *Controller) SetUIState(ui UIState) error {
	if ui.SendMode == "" {
		ui.SendMode = models.SendModeOriginal
	}
	if !ui.SendMode.Valid() {
		return invalid("send_mode", "must be %q or %q", models.SendModeOriginal, models.SendModeTranslated)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.ui = ui.Clone()
	return nil
}

func (c *Controller) Flags() Flags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags.Clone()
}

func (c *Controller) OpenPanel(p Panel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if !c.flags.IsOpen(p) {
		c.flags.OpenPanels = append(c.flags.OpenPanels, p)
	}
	return nil
}

func (c *Controller) ClosePanel(p Panel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.flags.OpenPanels = slices.DeleteFunc(c.flags.OpenPanels, func(open Panel) bool { return open == p })
	return nil
}

// SendTemplate delivers a template through the messaging surface. Text is
// translated first when the send mode is "translated". Usage is recorded only
// after every surface call succeeded.
func (c *Controller) SendTemplate(ctx context.Context, id string, opts SendOptions) error {
	svc, err := c.services()
	if err != nil {
		return err
	}
	t, err := svc.templates.GetTemplate(ctx, id)
	if err != nil {
		return err
	}

	translated, err := c.deliver(ctx, svc, t, opts)
	c.deps.Metrics.ObserveSend(string(t.Kind), "send", err)
	if err != nil {
		c.logger.Warn("send failed", zap.String("account", svc.accountID), zap.String("template", id), zap.Error(err))
		return err
	}

	if _, err := svc.templates.RecordUsage(ctx, id); err != nil {
		return fmt.Errorf("template sent but usage not recorded: %w", err)
	}
	c.deps.Bus.Publish(TemplateSentEvent{
		AccountID:  svc.accountID,
		TemplateID: id,
		Kind:       t.Kind,
		Translated: translated,
	})
	return nil
}

func (c *Controller) deliver(ctx context.Context, svc *accountServices, t models.Template, opts SendOptions) (bool, error) {
	surface := c.deps.Surface
	if surface == nil {
		return false, surfaceErr(opSendText, errors.New("no messaging surface attached"))
	}

	mode := opts.Mode
	if mode == "" {
		mode = c.UIState().SendMode
	}
	if mode != "" && !mode.Valid() {
		return false, invalid("send_mode", "must be %q or %q", models.SendModeOriginal, models.SendModeTranslated)
	}
	translate := mode == models.SendModeTranslated

	text := t.Content.Text
	switch t.Kind {
	case models.KindImage, models.KindAudio, models.KindVideo:
		text = t.Content.Caption
	case models.KindContact:
		text = FormatContactCard(t.Content.Contact)
		translate = false
	}

	if translate && strings.TrimSpace(text) != "" {
		cfg, err := svc.configs.GetConfig(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return false, err
		}
		if text, err = c.translate(ctx, text, firstNonEmpty(opts.TargetLanguage, cfg.TargetLanguage, c.deps.Defaults.TargetLanguage),
			firstNonEmpty(opts.Style, cfg.TranslationStyle, c.deps.Defaults.TranslationStyle)); err != nil {
			return false, err
		}
	} else {
		translate = false
	}

	if t.Kind.HasMedia() {
		if err := surface.SendMedia(ctx, t.Content.MediaPath); err != nil {
			return false, surfaceErr(opSendMedia, err)
		}
	}
	if strings.TrimSpace(text) != "" {
		if err := surface.SendText(ctx, text); err != nil {
			return false, surfaceErr(opSendText, err)
		}
	}
	return translate, nil
}

func (c *Controller) translate(ctx context.Context, text, language, style string) (string, error) {
	if c.deps.Translator == nil {
		return "", &TranslationError{Provider: "none", Err: errors.New("translation is not configured")}
	}
	return c.deps.Translator.Translate(ctx, text, language, style)
}

// InsertTemplate puts a template's text into the input box without sending.
// Only text-bearing kinds can be inserted.
func (c *Controller) InsertTemplate(ctx context.Context, id string) error {
	svc, err := c.services()
	if err != nil {
		return err
	}
	t, err := svc.templates.GetTemplate(ctx, id)
	if err != nil {
		return err
	}

	var text string
	switch t.Kind {
	case models.KindText, models.KindMixed:
		text = t.Content.Text
	case models.KindContact:
		text = FormatContactCard(t.Content.Contact)
	default:
		return invalid("type", "%s templates cannot be inserted", t.Kind)
	}
	if c.deps.Surface == nil {
		return surfaceErr(opFocusInput, errors.New("no messaging surface attached"))
	}

	err = surfaceErr(opFocusInput, c.deps.Surface.FocusInput(ctx))
	if err == nil {
		err = surfaceErr(opInsertText, c.deps.Surface.InsertText(ctx, text))
	}
	c.deps.Metrics.ObserveSend(string(t.Kind), "insert", err)
	if err != nil {
		return err
	}
	c.deps.Bus.Publish(TemplateInsertedEvent{AccountID: svc.accountID, TemplateID: id})
	return nil
}

// SearchTemplates records keyword in the UI state and returns the matches.
func (c *Controller) SearchTemplates(ctx context.Context, keyword string) ([]models.Template, error) {
	svc, err := c.services()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.ui.SearchKeyword = keyword
	c.mu.Unlock()
	return svc.templates.SearchTemplates(ctx, keyword)
}

// SwitchAccount moves the controller to accountID. See AccountSwitcher.
func (c *Controller) SwitchAccount(ctx context.Context, accountID string, ui *UIState) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	return c.switcher.HandleAccountSwitch(ctx, accountID, ui)
}

// ClearAccountData deletes the active account's templates, groups and media
// and resets its preferences. The config record itself is kept, so the
// account is not treated as new afterwards.
func (c *Controller) ClearAccountData(ctx context.Context) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	return c.deps.Locks.WithLock(ctx, lock.SwitchKey, func(ctx context.Context) error {
		svc, err := c.services()
		if err != nil {
			return err
		}
		if err := svc.templateStore.Clear(ctx); err != nil {
			return err
		}
		if err := svc.groupStore.Clear(ctx); err != nil {
			return err
		}
		if svc.media != nil {
			if err := svc.media.RemoveAll(); err != nil {
				return fmt.Errorf("failed to remove media: %w", err)
			}
		}
		cfg, err := svc.configs.UpdateConfig(ctx, func(cfg *models.AccountConfig) error {
			cfg.SendMode = models.SendModeOriginal
			cfg.ExpandedGroups = []string{}
			cfg.LastSelectedGroup = ""
			return nil
		})
		if err != nil {
			return err
		}
		c.switcher.ClearSnapshot(svc.accountID)
		c.restoreUI(uiStateFromConfig(cfg))
		c.logger.Info("account data cleared", zap.String("account", svc.accountID))
		c.deps.Bus.Publish(UIRefreshEvent{AccountID: svc.accountID})
		return nil
	})
}

// ExportBundle writes the active account's bundle to w.
func (c *Controller) ExportBundle(ctx context.Context, w io.Writer, opts BundleOptions) (*Bundle, error) {
	svc, err := c.services()
	if err != nil {
		return nil, err
	}
	return svc.bundles.Export(ctx, w, opts)
}

// ImportBundle decodes a bundle from r and merges it into the active account.
func (c *Controller) ImportBundle(ctx context.Context, r io.Reader, opts BundleOptions) (ImportResult, error) {
	svc, err := c.services()
	if err != nil {
		return ImportResult{}, err
	}
	b, err := svc.bundles.Decode(r, opts)
	if err != nil {
		return ImportResult{}, err
	}
	return svc.bundles.Import(ctx, b)
}

// switchTarget implementation

func (c *Controller) closePanels() {
	c.mu.Lock()
	c.flags = Flags{}
	c.mu.Unlock()
}

// persistUI writes the durable part of ui into the account config. Nothing is
// written when a failed switch left no account loaded.
func (c *Controller) persistUI(ctx context.Context, ui UIState) error {
	svc, err := c.services()
	if errors.Is(err, errUnloaded) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = svc.configs.UpdateConfig(ctx, func(cfg *models.AccountConfig) error {
		if ui.SendMode.Valid() {
			cfg.SendMode = ui.SendMode
		}
		cfg.ExpandedGroups = slices.Clone(ui.ExpandedGroups)
		return nil
	})
	return err
}

func (c *Controller) unload(ctx context.Context) error {
	c.mu.Lock()
	svc := c.svc
	c.svc = nil
	c.mu.Unlock()
	if svc == nil {
		return nil
	}
	return svc.close(ctx)
}

func (c *Controller) rebind(accountID string) error {
	svc, err := buildAccountServices(c.deps, accountID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accountID = accountID
	if err != nil {
		return err
	}
	c.svc = svc
	return nil
}

func (c *Controller) ensureConfig(ctx context.Context) (models.AccountConfig, bool, error) {
	svc, err := c.services()
	if err != nil {
		return models.AccountConfig{}, false, err
	}
	return svc.configs.EnsureConfig(ctx)
}

func (c *Controller) loadData(ctx context.Context) (AccountData, error) {
	svc, err := c.services()
	if err != nil {
		return AccountData{}, err
	}
	data := AccountData{AccountID: svc.accountID}
	if data.Config, err = svc.configs.GetConfig(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		return AccountData{}, err
	}
	if data.Groups, err = svc.groups.ListGroups(ctx); err != nil {
		return AccountData{}, err
	}
	if data.Templates, err = svc.templates.ListTemplates(ctx); err != nil {
		return AccountData{}, err
	}
	return data, nil
}

func (c *Controller) restoreUI(ui UIState) {
	c.mu.Lock()
	c.ui = ui.Clone()
	c.mu.Unlock()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ switchTarget = (*Controller)(nil)
