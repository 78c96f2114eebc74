// Package scheduler implements the timezone-aware dynamic report scheduler:
// the slot index that groups users by the UTC instant of their local report
// time, the trigger set that keeps exactly one recurring trigger alive per
// occupied UTC slot, the dynamic scheduler composing the two, the change
// monitor feeding it timezone mutations, and the facade that wraps it all
// together with the legacy fixed-time fallback.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"daybook/internal/types"
)

// Local wall-clock time at which every user receives their daily report.
const (
	ReportHour   = 18
	ReportMinute = 30
)

// SlotKey identifies a UTC (hour, minute) trigger instant. All timezones
// whose local 18:30 currently falls on the same UTC instant share one slot
// and therefore one trigger.
type SlotKey struct {
	Hour   int
	Minute int
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%02d:%02d", k.Hour, k.Minute)
}

// SlotFor computes the UTC slot for a timezone's local report time, using the
// timezone database offset in effect at the reference instant. Recomputing at
// initialization and on every timezone change keeps slots correct across DST
// transitions.
func SlotFor(timezone string, ref time.Time) (SlotKey, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return SlotKey{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("unknown timezone %q", timezone), err)
	}

	local := ref.In(loc)
	fire := time.Date(local.Year(), local.Month(), local.Day(), ReportHour, ReportMinute, 0, 0, loc)
	utc := fire.UTC()
	return SlotKey{Hour: utc.Hour(), Minute: utc.Minute()}, nil
}

// SlotChange describes the trigger-lifecycle consequence of an index
// mutation: a slot whose timezone set went 0→1 (Created) or 1→0 (Destroyed).
type SlotChange struct {
	Key       SlotKey
	Created   bool
	Destroyed bool
}

// SlotIndex is the in-memory bidirectional index: timezone → users and UTC
// slot → timezones. It owns no I/O and no triggers; mutations report slot
// transitions so the caller can drive the trigger lifecycle.
//
// All methods hold a single mutex, serializing mutations against each other
// and against fire-time reads.
type SlotIndex struct {
	mu sync.Mutex

	userZone  map[string]string               // userID → timezone
	zoneUsers map[string]map[string]struct{}  // timezone → userIDs
	zoneSlot  map[string]SlotKey              // timezone → its slot at add time
	slotZones map[SlotKey]map[string]struct{} // slot → timezones
}

// NewSlotIndex returns an empty index.
func NewSlotIndex() *SlotIndex {
	return &SlotIndex{
		userZone:  make(map[string]string),
		zoneUsers: make(map[string]map[string]struct{}),
		zoneSlot:  make(map[string]SlotKey),
		slotZones: make(map[SlotKey]map[string]struct{}),
	}
}

// AddUser inserts the user into the timezone's group, mapping the timezone to
// its UTC slot at the reference instant. Re-adding a user to the timezone
// they already belong to is a no-op.
//
// Returns the slot transition (Created when the slot gained its first
// timezone) so the caller can create the trigger.
func (x *SlotIndex) AddUser(userID, timezone string, ref time.Time) (SlotChange, error) {
	key, err := SlotFor(timezone, ref)
	if err != nil {
		return SlotChange{}, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if current, ok := x.userZone[userID]; ok && current == timezone {
		return SlotChange{Key: key}, nil
	}

	x.userZone[userID] = timezone
	users, ok := x.zoneUsers[timezone]
	if !ok {
		users = make(map[string]struct{})
		x.zoneUsers[timezone] = users
		x.zoneSlot[timezone] = key
	} else {
		// The zone keeps the slot computed when it first became occupied so
		// that all of its users stay on one trigger.
		key = x.zoneSlot[timezone]
	}
	users[userID] = struct{}{}

	zones, ok := x.slotZones[key]
	if !ok {
		zones = make(map[string]struct{})
		x.slotZones[key] = zones
	}
	created := len(zones) == 0
	zones[timezone] = struct{}{}

	return SlotChange{Key: key, Created: created}, nil
}

// RemoveUser removes the user from the timezone's group. Emptying the group
// removes the timezone from its slot; emptying the slot reports Destroyed so
// the caller can tear the trigger down. Removing a user the index does not
// hold is a no-op.
func (x *SlotIndex) RemoveUser(userID, timezone string) SlotChange {
	x.mu.Lock()
	defer x.mu.Unlock()

	users, ok := x.zoneUsers[timezone]
	if !ok {
		return SlotChange{}
	}
	if _, ok := users[userID]; !ok {
		return SlotChange{}
	}

	delete(users, userID)
	if x.userZone[userID] == timezone {
		delete(x.userZone, userID)
	}

	key := x.zoneSlot[timezone]
	if len(users) > 0 {
		return SlotChange{Key: key}
	}

	delete(x.zoneUsers, timezone)
	delete(x.zoneSlot, timezone)

	zones := x.slotZones[key]
	delete(zones, timezone)
	if len(zones) > 0 {
		return SlotChange{Key: key}
	}

	delete(x.slotZones, key)
	return SlotChange{Key: key, Destroyed: true}
}

// SlotMembers resolves the current timezone → users membership for a slot.
// Called at fire time so triggers always see the live state, never a
// snapshot taken at trigger creation.
func (x *SlotIndex) SlotMembers(key SlotKey) map[string][]string {
	x.mu.Lock()
	defer x.mu.Unlock()

	members := make(map[string][]string)
	for zone := range x.slotZones[key] {
		for userID := range x.zoneUsers[zone] {
			members[zone] = append(members[zone], userID)
		}
	}
	return members
}

// UserZone returns the timezone the index currently holds for the user.
func (x *SlotIndex) UserZone(userID string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	zone, ok := x.userZone[userID]
	return zone, ok
}

// IndexSnapshot is a read-only view of the index for health and debug
// reporting.
type IndexSnapshot struct {
	UsersPerTimezone map[string]int      `json:"users_per_timezone"`
	SlotTimezones    map[string][]string `json:"slot_timezones"`
}

// Snapshot returns the current per-timezone user counts and per-slot
// timezone lists.
func (x *SlotIndex) Snapshot() IndexSnapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	snap := IndexSnapshot{
		UsersPerTimezone: make(map[string]int, len(x.zoneUsers)),
		SlotTimezones:    make(map[string][]string, len(x.slotZones)),
	}
	for zone, users := range x.zoneUsers {
		snap.UsersPerTimezone[zone] = len(users)
	}
	for key, zones := range x.slotZones {
		list := make([]string, 0, len(zones))
		for zone := range zones {
			list = append(list, zone)
		}
		snap.SlotTimezones[key.String()] = list
	}
	return snap
}

// logSkippedTimezone records a rejected timezone once at the boundary; the
// operation is skipped rather than crashing the index.
func logSkippedTimezone(logger *slog.Logger, userID, timezone string, err error) {
	logger.Warn("skipping user with unsupported timezone",
		"user_id", userID,
		"timezone", timezone,
		"error", err,
	)
}
