package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerSet owns one recurring cron entry per occupied UTC slot. Entries are
// created when a slot's timezone count goes 0→1 and removed when it goes 1→0;
// the set never relies on implicit cleanup.
//
// While paused (suspend preparation), creation requests are dropped and
// remembered so Resume can replay them.
type TriggerSet struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entries  map[SlotKey]cron.EntryID
	deferred map[SlotKey]struct{}
	paused   bool

	fire   func(SlotKey)
	logger *slog.Logger
}

// NewTriggerSet creates a trigger set firing the given callback. The cron
// runner operates in UTC; callers must Start it.
func NewTriggerSet(fire func(SlotKey), logger *slog.Logger) *TriggerSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerSet{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		entries:  make(map[SlotKey]cron.EntryID),
		deferred: make(map[SlotKey]struct{}),
		fire:     fire,
		logger:   logger,
	}
}

// Start begins running the underlying cron.
func (t *TriggerSet) Start() {
	t.cron.Start()
}

// Stop cancels every active trigger and halts the cron runner. Jobs already
// in flight run to completion.
func (t *TriggerSet) Stop() {
	t.mu.Lock()
	for key, id := range t.entries {
		t.cron.Remove(id)
		delete(t.entries, key)
	}
	t.mu.Unlock()
	<-t.cron.Stop().Done()
}

// Create registers a daily trigger for the slot. Creating an already-live
// slot is a no-op, so two timezones sharing a slot never produce two
// triggers.
func (t *TriggerSet) Create(key SlotKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; ok {
		return nil
	}
	if t.paused {
		t.deferred[key] = struct{}{}
		t.logger.Info("trigger creation deferred while preparing suspend", "slot", key.String())
		return nil
	}
	return t.createLocked(key)
}

func (t *TriggerSet) createLocked(key SlotKey) error {
	spec := fmt.Sprintf("%d %d * * *", key.Minute, key.Hour)
	id, err := t.cron.AddFunc(spec, func() { t.fire(key) })
	if err != nil {
		return fmt.Errorf("registering trigger for slot %s: %w", key, err)
	}
	t.entries[key] = id
	t.logger.Info("trigger created", "slot", key.String())
	return nil
}

// Remove destroys the trigger for the slot, if live.
func (t *TriggerSet) Remove(key SlotKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.deferred, key)
	id, ok := t.entries[key]
	if !ok {
		return
	}
	t.cron.Remove(id)
	delete(t.entries, key)
	t.logger.Info("trigger destroyed", "slot", key.String())
}

// Pause stops accepting new trigger creations. Used while draining for
// suspend so no trigger is registered mid-drain.
func (t *TriggerSet) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Resume re-enables creation and replays requests deferred while paused.
func (t *TriggerSet) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paused = false
	for key := range t.deferred {
		delete(t.deferred, key)
		if _, ok := t.entries[key]; ok {
			continue
		}
		if err := t.createLocked(key); err != nil {
			t.logger.Error("replaying deferred trigger failed", "slot", key.String(), "error", err)
		}
	}
}

// Count returns the number of live triggers.
func (t *TriggerSet) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// NextFire returns the next instant at which the slot's trigger elapses
// after the given time, or false when the slot has no live trigger.
func (t *TriggerSet) NextFire(key SlotKey, after time.Time) (time.Time, bool) {
	t.mu.Lock()
	id, ok := t.entries[key]
	t.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	entry := t.cron.Entry(id)
	if entry.Schedule == nil {
		return time.Time{}, false
	}
	return entry.Schedule.Next(after.In(time.UTC)), true
}

// NextFires returns the next firing instant per live slot. Used by the
// schedule evaluation endpoint.
func (t *TriggerSet) NextFires(after time.Time) map[string]time.Time {
	t.mu.Lock()
	keys := make([]SlotKey, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	t.mu.Unlock()

	fires := make(map[string]time.Time, len(keys))
	for _, key := range keys {
		if next, ok := t.NextFire(key, after); ok {
			fires[key.String()] = next
		}
	}
	return fires
}
