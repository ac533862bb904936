package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GroupType determines party composition rules for an event
type GroupType string

const (
	GroupStandard    GroupType = "standard"     // full party, role quotas enforced
	GroupNonStandard GroupType = "non_standard" // full party, any composition
	GroupLightParty  GroupType = "light_party"  // four slots, any composition
)

// Capacity returns the maximum roster size for this group type
func (g GroupType) Capacity() int {
	if g == GroupLightParty {
		return 4
	}
	return 8
}

// Valid reports whether g is a known group type
func (g GroupType) Valid() bool {
	switch g {
	case GroupStandard, GroupNonStandard, GroupLightParty:
		return true
	}
	return false
}

// Role is a party role a participant signs up as
type Role string

const (
	RoleTank     Role = "tank"
	RoleHealer   Role = "healer"
	RoleDPS      Role = "dps"
	RoleBlueMage Role = "blue_mage"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleTank, RoleHealer, RoleDPS, RoleBlueMage:
		return true
	}
	return false
}

// Display returns a human-readable role name
func (r Role) Display() string {
	switch r {
	case RoleTank:
		return "Tank"
	case RoleHealer:
		return "Healer"
	case RoleDPS:
		return "DPS"
	case RoleBlueMage:
		return "Blue Mage"
	}
	return string(r)
}

// standardQuota caps per-role signups under GroupStandard.
// Blue mages have no quota; only total capacity bounds them.
var standardQuota = map[Role]int{
	RoleTank:   2,
	RoleHealer: 2,
	RoleDPS:    4,
}

// classesByRole lists the allowed class picks per role. Blue mage has
// no subclasses, so its class must stay empty.
var classesByRole = map[Role][]string{
	RoleTank:   {"paladin", "warrior", "dark_knight", "gunbreaker"},
	RoleHealer: {"white_mage", "scholar", "astrologian", "sage"},
	RoleDPS: {
		"monk", "dragoon", "ninja", "samurai", "reaper", "viper",
		"bard", "machinist", "dancer",
		"black_mage", "summoner", "red_mage", "pictomancer",
	},
	RoleBlueMage: {},
}

// ValidClass reports whether class is allowed for role. An empty
// class is always allowed (role-only signup).
func ValidClass(role Role, class string) bool {
	if class == "" {
		return true
	}
	for _, c := range classesByRole[role] {
		if c == class {
			return true
		}
	}
	return false
}

// ActivityType is the category of a scheduled activity
type ActivityType string

const (
	ActivityRaid         ActivityType = "raid"
	ActivityTrial        ActivityType = "trial"
	ActivityDungeon      ActivityType = "dungeon"
	ActivityAllianceRaid ActivityType = "alliance_raid"
	ActivityDeepDungeon  ActivityType = "deep_dungeon"
	ActivityMaps         ActivityType = "maps"
	ActivityHuntTrain    ActivityType = "hunt_train"
	ActivityOther        ActivityType = "other"
)

// ActivityTypes lists every supported activity category
func ActivityTypes() []ActivityType {
	return []ActivityType{
		ActivityRaid, ActivityTrial, ActivityDungeon, ActivityAllianceRaid,
		ActivityDeepDungeon, ActivityMaps, ActivityHuntTrain, ActivityOther,
	}
}

// Valid reports whether t is a known activity type
func (t ActivityType) Valid() bool {
	for _, known := range ActivityTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Display returns a human-readable activity name
func (t ActivityType) Display() string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Participant is one user's registration on an event roster
type Participant struct {
	UserID   string
	Role     Role
	Class    string
	JoinedAt time.Time
}

// Status is the derived lifecycle state of an event
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
)

// Event is a scheduled group activity
type Event struct {
	ID           string
	Type         ActivityType
	Date         time.Time // UTC
	OrganizerID  string
	Description  string
	GroupType    GroupType
	Participants []Participant // join order
	MessageID    string        // announcement message, bound once after creation
	CreatedAt    time.Time
}

// Status derives the lifecycle state from the event date. Deleted
// events have no record, so there is no state for them here.
func (e *Event) Status(now time.Time) Status {
	if e.Date.After(now) {
		return StatusScheduled
	}
	return StatusCompleted
}

// Participant returns the roster entry for userID, if present
func (e *Event) Participant(userID string) (*Participant, bool) {
	for i := range e.Participants {
		if e.Participants[i].UserID == userID {
			return &e.Participants[i], true
		}
	}
	return nil, false
}

// roleCount counts roster entries holding role, skipping excludeUserID
// so a participant changing their own role frees their current slot.
func (e *Event) roleCount(role Role, excludeUserID string) int {
	n := 0
	for _, p := range e.Participants {
		if p.UserID != excludeUserID && p.Role == role {
			n++
		}
	}
	return n
}

// NewID generates an event id: creation timestamp plus a random suffix
func NewID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
