package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/ajramos/quickreply/internal/store"
)

// ConfigDefaults seeds new account configs.
type ConfigDefaults struct {
	TargetLanguage   string
	TranslationStyle string
}

// AccountConfigServiceImpl implements AccountConfigService
type AccountConfigServiceImpl struct {
	accountID string
	store     *store.Store[models.AccountConfig]
	clock     Clock
	defaults  ConfigDefaults
}

// NewAccountConfigService creates a new config service bound to the store's account
func NewAccountConfigService(st *store.Store[models.AccountConfig], clock Clock, defaults ConfigDefaults) *AccountConfigServiceImpl {
	if clock == nil {
		clock = RealClock{}
	}
	return &AccountConfigServiceImpl{
		accountID: st.AccountID(),
		store:     st,
		clock:     clock,
		defaults:  defaults,
	}
}

// EnsureConfig returns the account's config, creating and persisting the
// default one when none exists. created is true only for that first call.
func (s *AccountConfigServiceImpl) EnsureConfig(ctx context.Context) (models.AccountConfig, bool, error) {
	var (
		cfg     models.AccountConfig
		created bool
	)
	err := s.store.Mutate(ctx, func(items []models.AccountConfig) ([]models.AccountConfig, bool, error) {
		for _, c := range items {
			if c.AccountID == s.accountID {
				cfg = c.Clone()
				return items, false, nil
			}
		}
		cfg = models.DefaultAccountConfig(s.accountID, s.clock.Now())
		cfg.TargetLanguage = s.defaults.TargetLanguage
		cfg.TranslationStyle = s.defaults.TranslationStyle
		created = true
		return append(items, cfg.Clone()), true, nil
	})
	if err != nil {
		return models.AccountConfig{}, false, fmt.Errorf("failed to ensure account config: %w", err)
	}
	return cfg, created, nil
}

func (s *AccountConfigServiceImpl) GetConfig(ctx context.Context) (models.AccountConfig, error) {
	return s.store.Get(ctx, s.accountID)
}

// UpdateConfig applies mutate to the config, creating it first if needed
func (s *AccountConfigServiceImpl) UpdateConfig(ctx context.Context, mutate func(*models.AccountConfig) error) (models.AccountConfig, error) {
	update := func(c *models.AccountConfig) error {
		if err := mutate(c); err != nil {
			return err
		}
		if !c.SendMode.Valid() {
			return invalid("send_mode", "must be %q or %q", models.SendModeOriginal, models.SendModeTranslated)
		}
		if c.ExpandedGroups == nil {
			c.ExpandedGroups = []string{}
		}
		c.AccountID = s.accountID
		c.UpdatedAt = s.clock.Now()
		return nil
	}

	cfg, err := s.store.Update(ctx, s.accountID, update)
	if errors.Is(err, ErrNotFound) {
		if _, _, err := s.EnsureConfig(ctx); err != nil {
			return models.AccountConfig{}, err
		}
		return s.store.Update(ctx, s.accountID, update)
	}
	return cfg, err
}

var _ AccountConfigService = (*AccountConfigServiceImpl)(nil)
