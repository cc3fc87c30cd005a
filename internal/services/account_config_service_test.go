package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountConfigService_EnsureConfig(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	_, err := svc.configs.GetConfig(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	cfg, created, err := svc.configs.EnsureConfig(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "acct-1", cfg.AccountID)
	assert.Equal(t, models.SendModeOriginal, cfg.SendMode)
	assert.Equal(t, "English", cfg.TargetLanguage)
	assert.Equal(t, "neutral", cfg.TranslationStyle)
	assert.NotNil(t, cfg.ExpandedGroups)

	again, created, err := svc.configs.EnsureConfig(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg, again)

	// a fresh store over the same directory sees the persisted record
	reopened := env.services(t, "acct-1")
	_, created, err = reopened.configs.EnsureConfig(ctx)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAccountConfigService_UpdateConfig(t *testing.T) {
	env := newTestEnv(t)
	svc := env.services(t, "acct-1")
	ctx := context.Background()

	env.clock.Advance(time.Minute)
	cfg, err := svc.configs.UpdateConfig(ctx, func(c *models.AccountConfig) error {
		c.SendMode = models.SendModeTranslated
		c.ExpandedGroups = []string{"g1"}
		c.AccountID = "someone-else"
		return nil
	})
	require.NoError(t, err, "missing config is created first")
	assert.Equal(t, "acct-1", cfg.AccountID)
	assert.Equal(t, models.SendModeTranslated, cfg.SendMode)
	assert.Equal(t, []string{"g1"}, cfg.ExpandedGroups)
	assert.Equal(t, env.clock.Now(), cfg.UpdatedAt)

	_, err = svc.configs.UpdateConfig(ctx, func(c *models.AccountConfig) error {
		c.SendMode = "shouting"
		return nil
	})
	field, ok := IsFieldError(err)
	require.True(t, ok)
	assert.Equal(t, "send_mode", field)

	boom := errors.New("boom")
	_, err = svc.configs.UpdateConfig(ctx, func(*models.AccountConfig) error { return boom })
	assert.ErrorIs(t, err, boom)

	stored, err := svc.configs.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SendModeTranslated, stored.SendMode, "failed updates leave the record untouched")
}
