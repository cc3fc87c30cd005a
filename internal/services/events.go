package services

import (
	"sync"

	"github.com/ajramos/quickreply/internal/models"
	"go.uber.org/zap"
)

// EventName is the stable wire name of an event.
type EventName string

const (
	EventSwitching        EventName = "switching"
	EventStateSaved       EventName = "state:saved"
	EventDataUnloaded     EventName = "data:unloaded"
	EventDataLoaded       EventName = "data:loaded"
	EventSwitched         EventName = "switched"
	EventSwitchError      EventName = "switch:error"
	EventFirstUse         EventName = "account:first-use"
	EventUIRefresh        EventName = "ui:refresh"
	EventTemplateSent     EventName = "template:sent"
	EventTemplateInserted EventName = "template:inserted"
	EventTemplateCreated  EventName = "template:created"
	EventTemplateDeleted  EventName = "template:deleted"
	EventGroupCreated     EventName = "group:created"
	EventGroupDeleted     EventName = "group:deleted"
)

// Event is implemented only by the event types of this package.
type Event interface {
	Name() EventName
	isEvent()
}

type SwitchingEvent struct{ From, To string }

type StateSavedEvent struct{ AccountID string }

type DataUnloadedEvent struct{ AccountID string }

type DataLoadedEvent struct {
	AccountID string
	Groups    []models.Group
	Templates []models.Template
}

type SwitchedEvent struct{ From, To string }

type SwitchErrorEvent struct {
	From, To string
	Err      error
}

// FirstUseEvent fires the first time an account is ever seen.
type FirstUseEvent struct{ AccountID string }

type UIRefreshEvent struct{ AccountID string }

type TemplateSentEvent struct {
	AccountID  string
	TemplateID string
	Kind       models.ContentKind
	Translated bool
}

type TemplateInsertedEvent struct {
	AccountID  string
	TemplateID string
}

type TemplateCreatedEvent struct {
	AccountID string
	Template  models.Template
}

type TemplateDeletedEvent struct {
	AccountID   string
	TemplateIDs []string
}

type GroupCreatedEvent struct {
	AccountID string
	Group     models.Group
}

type GroupDeletedEvent struct {
	AccountID   string
	GroupIDs    []string
	TemplateIDs []string
}

func (SwitchingEvent) Name() EventName        { return EventSwitching }
func (StateSavedEvent) Name() EventName       { return EventStateSaved }
func (DataUnloadedEvent) Name() EventName     { return EventDataUnloaded }
func (DataLoadedEvent) Name() EventName       { return EventDataLoaded }
func (SwitchedEvent) Name() EventName         { return EventSwitched }
func (SwitchErrorEvent) Name() EventName      { return EventSwitchError }
func (FirstUseEvent) Name() EventName         { return EventFirstUse }
func (UIRefreshEvent) Name() EventName        { return EventUIRefresh }
func (TemplateSentEvent) Name() EventName     { return EventTemplateSent }
func (TemplateInsertedEvent) Name() EventName { return EventTemplateInserted }
func (TemplateCreatedEvent) Name() EventName  { return EventTemplateCreated }
func (TemplateDeletedEvent) Name() EventName  { return EventTemplateDeleted }
func (GroupCreatedEvent) Name() EventName     { return EventGroupCreated }
func (GroupDeletedEvent) Name() EventName     { return EventGroupDeleted }

func (SwitchingEvent) isEvent()        {}
func (StateSavedEvent) isEvent()       {}
func (DataUnloadedEvent) isEvent()     {}
func (DataLoadedEvent) isEvent()       {}
func (SwitchedEvent) isEvent()         {}
func (SwitchErrorEvent) isEvent()      {}
func (FirstUseEvent) isEvent()         {}
func (UIRefreshEvent) isEvent()        {}
func (TemplateSentEvent) isEvent()     {}
func (TemplateInsertedEvent) isEvent() {}
func (TemplateCreatedEvent) isEvent()  {}
func (TemplateDeletedEvent) isEvent()  {}
func (GroupCreatedEvent) isEvent()     {}
func (GroupDeletedEvent) isEvent()     {}

// Handler receives published events.
type Handler func(Event)

// EventBus delivers events synchronously, in subscription order, on the
// publishing goroutine. Handlers run while the publisher may hold locks (the
// switch lock in particular), so they must not call back into blocking
// controller operations.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	logger *zap.Logger
}

type subscription struct {
	id int
	fn Handler
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
func (b *EventBus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber. A panicking handler is
// logged and does not prevent delivery to the others.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

func (b *EventBus) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.String("event", string(ev.Name())), zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// Len returns the number of subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
