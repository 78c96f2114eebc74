package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"daybook/internal/types"
)

// defaultDeliveryTimeout bounds one report delivery so an unresponsive chat
// platform cannot stall the remaining users in the slot.
const defaultDeliveryTimeout = 30 * time.Second

// DynamicScheduler composes the slot index and the trigger set: it loads the
// user population at startup, re-indexes users as their timezones change,
// and, when a slot trigger elapses, delivers one report per member user.
type DynamicScheduler struct {
	index    *SlotIndex
	triggers *TriggerSet
	users    types.UserTimezoneRepository
	sender   types.ReportSender
	metrics  *Metrics
	logger   *slog.Logger

	deliveryTimeout time.Duration
	now             func() time.Time

	// changeMu serializes index mutations together with the trigger
	// create/remove they imply. The index and the trigger set each lock
	// internally, but the transition between them must not interleave with
	// another change for the same slot.
	changeMu sync.Mutex
}

// DynamicSchedulerConfig holds the dependencies for NewDynamicScheduler.
type DynamicSchedulerConfig struct {
	Users           types.UserTimezoneRepository
	Sender          types.ReportSender
	Metrics         *Metrics
	Logger          *slog.Logger
	DeliveryTimeout time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewDynamicScheduler creates the scheduler with an empty index. Call
// Initialize to load the population and Start to begin firing triggers.
func NewDynamicScheduler(cfg DynamicSchedulerConfig) *DynamicScheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &DynamicScheduler{
		index:           NewSlotIndex(),
		users:           cfg.Users,
		sender:          cfg.Sender,
		metrics:         metrics,
		logger:          logger,
		deliveryTimeout: timeout,
		now:             now,
	}
	s.triggers = NewTriggerSet(s.fireSlot, logger)
	return s
}

// Initialize builds the index from the persistent store. Users with missing
// or unsupported timezones are logged and skipped; an empty population is
// fine. Only a store failure is returned, so the facade can fall back to the
// static schedule.
func (s *DynamicScheduler) Initialize(ctx context.Context) error {
	if s.users == nil {
		return types.NewAppError(types.ErrCodeInternalNotWired, "user timezone repository not wired", nil)
	}

	rows, err := s.users.GetAllUserTimezones(ctx)
	if err != nil {
		return fmt.Errorf("loading user timezones: %w", err)
	}

	added := 0
	for _, row := range rows {
		if row.UserID == "" || row.Timezone == "" {
			s.logger.Warn("skipping malformed user timezone row",
				"user_id", row.UserID, "timezone", row.Timezone)
			continue
		}
		if err := s.addUser(row.UserID, row.Timezone); err != nil {
			continue
		}
		added++
	}

	s.logger.Info("dynamic scheduler initialized",
		"users", added,
		"skipped", len(rows)-added,
		"triggers", s.triggers.Count(),
	)
	return nil
}

// Start begins firing triggers.
func (s *DynamicScheduler) Start() {
	s.triggers.Start()
}

// Stop cancels every active trigger.
func (s *DynamicScheduler) Stop() {
	s.triggers.Stop()
}

// Triggers exposes the trigger set for suspend draining (Pause/Resume).
func (s *DynamicScheduler) Triggers() *TriggerSet {
	return s.triggers
}

// OnTimezoneChanged moves the user between timezone groups. The new timezone
// is validated first; an unsupported name leaves prior state untouched.
// Removal happens before addition so a slot that is simultaneously emptied
// and refilled under the same UTC key does not flap its trigger.
func (s *DynamicScheduler) OnTimezoneChanged(userID, oldTimezone, newTimezone string) {
	if _, err := SlotFor(newTimezone, s.now()); err != nil {
		logSkippedTimezone(s.logger, userID, newTimezone, err)
		return
	}

	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	// The index's own record is authoritative for the removal side; the
	// change feed's old value can be stale when a poll cycle is replayed.
	var removal SlotChange
	if current, ok := s.index.UserZone(userID); ok {
		removal = s.index.RemoveUser(userID, current)
	}

	addition, err := s.index.AddUser(userID, newTimezone, s.now())
	if err != nil {
		// Validated above; an error here still must not lose the removal.
		logSkippedTimezone(s.logger, userID, newTimezone, err)
		if removal.Destroyed {
			s.triggers.Remove(removal.Key)
		}
		return
	}

	// A move that empties and refills the same UTC key keeps its trigger
	// instead of flapping destroy-then-create.
	if removal.Destroyed && addition.Created && removal.Key == addition.Key {
		removal.Destroyed = false
		addition.Created = false
	}
	if removal.Destroyed {
		s.triggers.Remove(removal.Key)
	}
	if addition.Created {
		if err := s.triggers.Create(addition.Key); err != nil {
			s.logger.Error("trigger creation failed", "slot", addition.Key.String(), "error", err)
		}
	}

	s.logger.Info("user re-indexed",
		"user_id", userID,
		"old_timezone", oldTimezone,
		"new_timezone", newTimezone,
	)
}

func (s *DynamicScheduler) addUser(userID, timezone string) error {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	change, err := s.index.AddUser(userID, timezone, s.now())
	if err != nil {
		logSkippedTimezone(s.logger, userID, timezone, err)
		return err
	}
	if change.Created {
		if err := s.triggers.Create(change.Key); err != nil {
			s.logger.Error("trigger creation failed", "slot", change.Key.String(), "error", err)
			return err
		}
	}
	return nil
}

// fireSlot resolves the slot's current membership and delivers one report
// per user, sequentially. Per-user failures are recorded and logged without
// aborting the remaining deliveries.
func (s *DynamicScheduler) fireSlot(key SlotKey) {
	members := s.index.SlotMembers(key)

	total := 0
	for _, users := range members {
		total += len(users)
	}
	s.logger.Info("slot trigger fired", "slot", key.String(), "users", total)

	zones := make([]string, 0, len(members))
	for zone := range members {
		zones = append(zones, zone)
	}
	sort.Strings(zones)

	for _, zone := range zones {
		users := members[zone]
		sort.Strings(users)
		for _, userID := range users {
			s.deliver(userID, zone)
		}
	}
}

func (s *DynamicScheduler) deliver(userID, timezone string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deliveryTimeout)
	defer cancel()

	start := s.now()
	err := s.sender.SendDailyReport(ctx, userID, timezone)
	s.metrics.RecordSend(timezone, s.now().Sub(start), err)
	if err != nil {
		s.logger.Error("daily report delivery failed",
			"user_id", userID,
			"timezone", timezone,
			"error", err,
		)
		return
	}
	s.logger.Info("daily report sent", "user_id", userID, "timezone", timezone)
}

// Status is the read-only introspection view: active trigger count plus the
// index snapshot.
type Status struct {
	ActiveTriggers int           `json:"active_triggers"`
	Index          IndexSnapshot `json:"index"`
}

// Status reports the current scheduler state for health and debug endpoints.
func (s *DynamicScheduler) Status() Status {
	return Status{
		ActiveTriggers: s.triggers.Count(),
		Index:          s.index.Snapshot(),
	}
}

// NextFires returns the upcoming firing instant per live slot.
func (s *DynamicScheduler) NextFires(after time.Time) map[string]time.Time {
	return s.triggers.NextFires(after)
}

// FireSlotNow runs the slot's delivery loop immediately, outside the cron
// schedule. Operational testing hook.
func (s *DynamicScheduler) FireSlotNow(key SlotKey) {
	s.fireSlot(key)
}
