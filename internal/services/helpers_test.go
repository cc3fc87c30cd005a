package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ajramos/quickreply/internal/lock"
	"github.com/ajramos/quickreply/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

type surfaceCall struct {
	Op  string
	Arg string
}

type fakeSurface struct {
	mu    sync.Mutex
	calls []surfaceCall
	fail  map[string]error
}

func (s *fakeSurface) record(op, arg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[op]; err != nil {
		return err
	}
	s.calls = append(s.calls, surfaceCall{Op: op, Arg: arg})
	return nil
}

func (s *fakeSurface) SendText(_ context.Context, text string) error {
	return s.record(opSendText, text)
}

func (s *fakeSurface) SendMedia(_ context.Context, path string) error {
	return s.record(opSendMedia, path)
}

func (s *fakeSurface) InsertText(_ context.Context, text string) error {
	return s.record(opInsertText, text)
}

func (s *fakeSurface) FocusInput(_ context.Context) error {
	return s.record(opFocusInput, "")
}

func (s *fakeSurface) Calls() []surfaceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]surfaceCall(nil), s.calls...)
}

type fakeTranslator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTranslator) Translate(_ context.Context, text, lang, style string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("[%s/%s] %s", lang, style, text), nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(bus *EventBus) *recorder {
	r := &recorder{}
	bus.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) Names() []EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventName, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name())
	}
	return out
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type testEnv struct {
	deps       Dependencies
	clock      *fakeClock
	surface    *fakeSurface
	translator *fakeTranslator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:      newFakeClock(),
		surface:    &fakeSurface{},
		translator: &fakeTranslator{},
	}
	logger := zaptest.NewLogger(t)
	env.deps = Dependencies{
		DataDir:    t.TempDir(),
		Locks:      lock.NewManager(),
		Surface:    env.surface,
		Translator: env.translator,
		Bus:        NewEventBus(logger),
		Clock:      env.clock,
		IDs:        &seqIDs{},
		Logger:     logger,
		Defaults:   ConfigDefaults{TargetLanguage: "English", TranslationStyle: "neutral"},
	}
	return env
}

// services opens the account's managers directly, without a controller.
func (env *testEnv) services(t *testing.T, accountID string) *accountServices {
	t.Helper()
	deps, err := env.deps.withDefaults()
	require.NoError(t, err)
	svc, err := buildAccountServices(deps, accountID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.close(context.Background()) })
	return svc
}

func (env *testEnv) controller(t *testing.T, accountID string) *Controller {
	t.Helper()
	c, err := NewController(accountID, env.deps)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })
	return c
}

func textInput(groupID, label, text string) TemplateInput {
	return TemplateInput{
		GroupID: groupID,
		Kind:    models.KindText,
		Label:   label,
		Content: models.Content{Text: text},
	}
}
