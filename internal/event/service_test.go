package event_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tihlyn/Cappuccino/internal/event"
	"github.com/Tihlyn/Cappuccino/internal/notify"
	"github.com/Tihlyn/Cappuccino/internal/reminder"
	"github.com/Tihlyn/Cappuccino/internal/scheduler"
	"github.com/Tihlyn/Cappuccino/internal/storage"
)

const managerRole = "role-event-manager"

// fakeMessenger records DMs instead of talking to Discord
type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentDM
	deleted []string
	fail    map[string]bool // userIDs whose DMs fail
}

type sentDM struct {
	ChannelID string
	MessageID string
	Content   string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{fail: make(map[string]bool)}
}

func (m *fakeMessenger) UserChannelCreate(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[userID] {
		return "", fmt.Errorf("cannot open DM with %s", userID)
	}
	return "dm-" + userID, nil
}

func (m *fakeMessenger) ChannelMessageSend(channelID, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("msg-%d", m.nextID)
	m.sent = append(m.sent, sentDM{ChannelID: channelID, MessageID: id, Content: content})
	return id, nil
}

func (m *fakeMessenger) ChannelMessageDelete(channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *fakeMessenger) sentTo(userID string) []sentDM {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentDM
	for _, dm := range m.sent {
		if dm.ChannelID == "dm-"+userID {
			out = append(out, dm)
		}
	}
	return out
}

func (m *fakeMessenger) wasDeleted(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.deleted {
		if id == messageID {
			return true
		}
	}
	return false
}

// fakeAnnouncer records announcement lifecycle
type fakeAnnouncer struct {
	mu       sync.Mutex
	nextID   int
	updates  int
	removed  []string
	announce []string // event ids announced
}

func (a *fakeAnnouncer) Announce(ev *event.Event) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.announce = append(a.announce, ev.ID)
	return fmt.Sprintf("announce-%d", a.nextID), nil
}

func (a *fakeAnnouncer) Update(ev *event.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates++
	return nil
}

func (a *fakeAnnouncer) Remove(messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, messageID)
	return nil
}

type testEnv struct {
	svc       *event.Service
	repo      *storage.Repository
	sched     *scheduler.Scheduler
	orch      *reminder.Orchestrator
	messenger *fakeMessenger
	announcer *fakeAnnouncer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	messenger := newFakeMessenger()
	announcer := &fakeAnnouncer{}
	dispatcher := notify.New(messenger, repo)
	sched := scheduler.New(repo, 1)
	orch := reminder.New(repo, sched, dispatcher, announcer)
	sched.SetHandler(orch.HandleJob)

	return &testEnv{
		svc:       event.NewService(repo, orch, dispatcher, announcer, managerRole),
		repo:      repo,
		sched:     sched,
		orch:      orch,
		messenger: messenger,
		announcer: announcer,
	}
}

func futureParams(organizer string, group event.GroupType) event.CreateParams {
	return event.CreateParams{
		Type:        event.ActivityRaid,
		DateStr:     time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
		TimeStr:     "20:00",
		Timezone:    "ET",
		OrganizerID: organizer,
		GroupType:   group,
	}
}

func TestCreateRejectsPastDate(t *testing.T) {
	env := newTestEnv(t)

	p := futureParams("org", event.GroupStandard)
	p.DateStr = "2020-01-01"
	_, err := env.svc.Create(context.Background(), p)

	var verr *event.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Field)
}

func TestCreateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*event.CreateParams)
		field  string
	}{
		{"unknown activity", func(p *event.CreateParams) { p.Type = "fishing_contest" }, "type"},
		{"unknown group", func(p *event.CreateParams) { p.GroupType = "full_party" }, "group"},
		{"bad date format", func(p *event.CreateParams) { p.DateStr = "01/02/2030" }, "date"},
		{"bad time format", func(p *event.CreateParams) { p.TimeStr = "8pm" }, "time"},
		{"unknown timezone", func(p *event.CreateParams) { p.Timezone = "GMT" }, "timezone"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := futureParams("org", event.GroupStandard)
			tc.mutate(&p)
			_, err := env.svc.Create(ctx, p)
			var verr *event.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestCreateAnnouncesAndSchedulesCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	assert.Equal(t, "announce-1", ev.MessageID)
	assert.Empty(t, ev.Participants)

	// The announcement message id must be persisted
	stored, err := env.svc.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.MessageID, stored.MessageID)

	// Exactly one cleanup job, five minutes after the event
	jobs, err := env.sched.Pending(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.KindCleanup, jobs[0].Kind)
	assert.True(t, jobs[0].FireAt.Equal(ev.Date.Add(5*time.Minute)))
}

func TestJoinAddsParticipantAndSchedulesReminders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	ev, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "warrior")
	require.NoError(t, err)
	require.Len(t, ev.Participants, 1)
	assert.Equal(t, "alice", ev.Participants[0].UserID)
	assert.Equal(t, event.RoleTank, ev.Participants[0].Role)
	assert.Equal(t, "warrior", ev.Participants[0].Class)

	// Event is 2 days out, so all three reminder offsets are pending
	// plus the cleanup job
	jobs, err := env.sched.Pending(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 4)

	kinds := map[scheduler.Kind]bool{}
	for _, j := range jobs {
		kinds[j.Kind] = true
	}
	assert.True(t, kinds[scheduler.KindReminder24h])
	assert.True(t, kinds[scheduler.KindReminder12h])
	assert.True(t, kinds[scheduler.KindReminder1h])
	assert.True(t, kinds[scheduler.KindCleanup])

	// Registration DM went out
	dms := env.messenger.sentTo("alice")
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0].Content, "signed up")
}

func TestJoinRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleHealer, "")
	require.ErrorIs(t, err, event.ErrAlreadyParticipating)

	// Roster unchanged
	stored, err := env.svc.Get(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, stored.Participants, 1)
	assert.Equal(t, event.RoleTank, stored.Participants[0].Role)
}

func TestJoinRoleQuotaScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "bob", event.RoleTank, "")
	require.NoError(t, err)

	// Third tank is rejected with a role-specific message
	_, err = env.svc.Join(ctx, ev.ID, "carol", event.RoleTank, "")
	var rerr *event.RoleFullError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, event.RoleTank, rerr.Role)
	assert.Contains(t, err.Error(), "Tank")

	// The same user joining as healer succeeds
	ev, err = env.svc.Join(ctx, ev.ID, "carol", event.RoleHealer, "")
	require.NoError(t, err)
	assert.Len(t, ev.Participants, 3)
}

func TestJoinBlueMageHasNoQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	// Five blue mages exceed every per-role quota but fit in capacity
	for i := 0; i < 5; i++ {
		_, err = env.svc.Join(ctx, ev.ID, fmt.Sprintf("blu-%d", i), event.RoleBlueMage, "")
		require.NoError(t, err)
	}
}

func TestJoinCapacityBeforeQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupLightParty))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = env.svc.Join(ctx, ev.ID, fmt.Sprintf("user-%d", i), event.RoleDPS, "")
		require.NoError(t, err)
	}

	// Light party holds four; the fifth join fails on capacity even
	// though no role quota applies
	_, err = env.svc.Join(ctx, ev.ID, "user-5", event.RoleTank, "")
	require.ErrorIs(t, err, event.ErrEventFull)
}

func TestNonStandardHasNoRoleQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupNonStandard))
	require.NoError(t, err)

	// Eight tanks are fine without quotas
	for i := 0; i < 8; i++ {
		_, err = env.svc.Join(ctx, ev.ID, fmt.Sprintf("tank-%d", i), event.RoleTank, "")
		require.NoError(t, err)
	}

	_, err = env.svc.Join(ctx, ev.ID, "tank-9", event.RoleTank, "")
	require.ErrorIs(t, err, event.ErrEventFull)
}

func TestJoinValidatesRoleAndClass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", "bard", "")
	require.ErrorIs(t, err, event.ErrInvalidRole)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "white_mage")
	require.ErrorIs(t, err, event.ErrInvalidClass)
}

func TestJoinUnknownEvent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Join(context.Background(), "missing", "alice", event.RoleTank, "")
	require.ErrorIs(t, err, event.ErrNotFound)
}

func TestChangeRoleClassOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "warrior")
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "bob", event.RoleTank, "")
	require.NoError(t, err)

	// Both tank slots are taken, but a class change within the same
	// role is still permitted
	ev, err = env.svc.ChangeRole(ctx, ev.ID, "alice", event.RoleTank, "paladin")
	require.NoError(t, err)

	p, ok := ev.Participant("alice")
	require.True(t, ok)
	assert.Equal(t, event.RoleTank, p.Role)
	assert.Equal(t, "paladin", p.Class)
	// Join order preserved
	assert.Equal(t, "alice", ev.Participants[0].UserID)
}

func TestChangeRoleQuotaExcludesSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleHealer, "")
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "bob", event.RoleHealer, "")
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "carol", event.RoleTank, "")
	require.NoError(t, err)

	// Healer quota is full, so a tank cannot become a healer
	_, err = env.svc.ChangeRole(ctx, ev.ID, "carol", event.RoleHealer, "")
	var rerr *event.RoleFullError
	require.ErrorAs(t, err, &rerr)

	// But a healer switching to tank works: their own healer slot
	// does not count against anything, and tank has room
	ev, err = env.svc.ChangeRole(ctx, ev.ID, "alice", event.RoleTank, "gunbreaker")
	require.NoError(t, err)
	p, _ := ev.Participant("alice")
	assert.Equal(t, event.RoleTank, p.Role)
	// Still first in join order
	assert.Equal(t, "alice", ev.Participants[0].UserID)
}

func TestChangeRoleNotParticipating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.ChangeRole(ctx, ev.ID, "ghost", event.RoleDPS, "")
	require.ErrorIs(t, err, event.ErrNotParticipating)
}

func TestWithdrawRemovesParticipantAndJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "bob", event.RoleDPS, "")
	require.NoError(t, err)

	ev, err = env.svc.Withdraw(ctx, ev.ID, "alice")
	require.NoError(t, err)
	require.Len(t, ev.Participants, 1)
	assert.Equal(t, "bob", ev.Participants[0].UserID)

	// Only bob's reminders and the cleanup job remain
	jobs, err := env.sched.Pending(ctx, ev.ID)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.Kind != scheduler.KindCleanup {
			assert.Equal(t, "bob", j.UserID)
		}
	}
	assert.Len(t, jobs, 4)

	_, err = env.svc.Withdraw(ctx, ev.ID, "alice")
	require.ErrorIs(t, err, event.ErrNotParticipating)
}

func TestWithdrawThenRejoinAppendsAtEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "bob", event.RoleDPS, "")
	require.NoError(t, err)

	_, err = env.svc.Withdraw(ctx, ev.ID, "alice")
	require.NoError(t, err)

	ev, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)

	require.Len(t, ev.Participants, 2)
	assert.Equal(t, "bob", ev.Participants[0].UserID)
	assert.Equal(t, "alice", ev.Participants[1].UserID)
}

func TestChangeTimeAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	newDate := time.Now().AddDate(0, 0, 3).Format("2006-01-02")

	_, err = env.svc.ChangeTime(ctx, ev.ID, "stranger", nil, newDate, "20:00", "ET")
	require.ErrorIs(t, err, event.ErrForbidden)

	// An event manager who is not the organizer may reschedule
	_, err = env.svc.ChangeTime(ctx, ev.ID, "stranger", []string{managerRole}, newDate, "20:00", "ET")
	require.NoError(t, err)

	// So may the organizer
	_, err = env.svc.ChangeTime(ctx, ev.ID, "org", nil, newDate, "21:00", "ET")
	require.NoError(t, err)
}

func TestChangeTimeReschedulesAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "org", event.RoleHealer, "")
	require.NoError(t, err)

	newDate := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	ev, err = env.svc.ChangeTime(ctx, ev.ID, "org", nil, newDate, "19:30", "ET")
	require.NoError(t, err)

	// Every pending job is recomputed against the new date; nothing
	// references the old one
	jobs, err := env.sched.Pending(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 7) // 3 reminders x 2 participants + cleanup
	for _, j := range jobs {
		switch j.Kind {
		case scheduler.KindReminder24h:
			assert.True(t, j.FireAt.Equal(ev.Date.Add(-24*time.Hour)))
		case scheduler.KindReminder12h:
			assert.True(t, j.FireAt.Equal(ev.Date.Add(-12*time.Hour)))
		case scheduler.KindReminder1h:
			assert.True(t, j.FireAt.Equal(ev.Date.Add(-time.Hour)))
		case scheduler.KindCleanup:
			assert.True(t, j.FireAt.Equal(ev.Date.Add(5*time.Minute)))
		}
		assert.True(t, j.DateSnapshot.Equal(ev.Date))
	}

	// Non-organizer participants get a time-change DM; the organizer
	// does not hear about their own change
	var timeChange []sentDM
	for _, dm := range env.messenger.sentTo("alice") {
		if strings.Contains(dm.Content, "moved") {
			timeChange = append(timeChange, dm)
		}
	}
	require.Len(t, timeChange, 1)
	for _, dm := range env.messenger.sentTo("org") {
		assert.NotContains(t, dm.Content, "moved")
	}
}

func TestDeleteEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)

	err = env.svc.Delete(ctx, ev.ID, "stranger", nil)
	require.ErrorIs(t, err, event.ErrForbidden)

	err = env.svc.Delete(ctx, ev.ID, "org", nil)
	require.NoError(t, err)

	// Lookup is a not-found, and no jobs remain to fire
	_, err = env.svc.Get(ctx, ev.ID)
	require.ErrorIs(t, err, event.ErrNotFound)

	jobs, err := env.sched.Pending(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// Cancellation DM reached the participant, announcement is gone
	var cancelDMs []sentDM
	for _, dm := range env.messenger.sentTo("alice") {
		if strings.Contains(dm.Content, "cancelled") {
			cancelDMs = append(cancelDMs, dm)
		}
	}
	require.Len(t, cancelDMs, 1)
	assert.Contains(t, env.announcer.removed, ev.MessageID)
}

func TestDMFailureDoesNotAbortTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	env.messenger.fail["alice"] = true

	// The join sticks even though the registration DM bounced
	ev, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)
	assert.Len(t, ev.Participants, 1)
}

func TestReminderFireSendsDM(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)

	env.orch.HandleJob(ctx, &scheduler.Job{
		ID:      scheduler.JobID(ev.ID, "alice", scheduler.KindReminder1h),
		EventID: ev.ID,
		UserID:  "alice",
		Kind:    scheduler.KindReminder1h,
	})

	dms := env.messenger.sentTo("alice")
	require.Len(t, dms, 2) // registration + reminder
	assert.Contains(t, dms[1].Content, "Reminder")
	assert.Contains(t, dms[1].Content, "1 hour")
}

func TestStaleReminderIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)
	_, err = env.svc.Withdraw(ctx, ev.ID, "alice")
	require.NoError(t, err)

	before := len(env.messenger.sentTo("alice"))

	// A reminder that escaped cancellation fires for the withdrawn
	// participant: nothing happens
	env.orch.HandleJob(ctx, &scheduler.Job{
		EventID: ev.ID,
		UserID:  "alice",
		Kind:    scheduler.KindReminder1h,
	})
	assert.Len(t, env.messenger.sentTo("alice"), before)

	// Same for a reminder referencing a deleted event
	env.orch.HandleJob(ctx, &scheduler.Job{
		EventID: "gone",
		UserID:  "alice",
		Kind:    scheduler.KindReminder1h,
	})
	assert.Len(t, env.messenger.sentTo("alice"), before)
}

func TestCleanupOnFutureEventIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	env.orch.HandleJob(ctx, &scheduler.Job{
		EventID: ev.ID,
		Kind:    scheduler.KindCleanup,
	})

	// The event must still exist
	_, err = env.svc.Get(ctx, ev.ID)
	require.NoError(t, err)
}

func TestCleanupRetractsAllButRoleChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupStandard))
	require.NoError(t, err)

	_, err = env.svc.Join(ctx, ev.ID, "alice", event.RoleTank, "")
	require.NoError(t, err)
	_, err = env.svc.ChangeRole(ctx, ev.ID, "alice", event.RoleHealer, "sage")
	require.NoError(t, err)

	aliceDMs := env.messenger.sentTo("alice")
	require.Len(t, aliceDMs, 2)
	registrationMsg := aliceDMs[0].MessageID
	roleChangeMsg := aliceDMs[1].MessageID

	// Push the event into the past so cleanup proceeds
	stored, err := env.repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	stored.Date = time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, env.repo.SaveEvent(ctx, stored))

	env.orch.HandleJob(ctx, &scheduler.Job{
		EventID: ev.ID,
		Kind:    scheduler.KindCleanup,
	})

	// Registration DM retracted, role-change DM kept
	assert.True(t, env.messenger.wasDeleted(registrationMsg))
	assert.False(t, env.messenger.wasDeleted(roleChangeMsg))

	// Record, tracking rows and announcement are gone
	gone, err := env.repo.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	dms, err := env.repo.TrackedDMsByEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, dms)

	assert.Contains(t, env.announcer.removed, ev.MessageID)
}

func TestCapacityInvariantUnderConcurrentJoins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ev, err := env.svc.Create(ctx, futureParams("org", event.GroupLightParty))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			env.svc.Join(ctx, ev.ID, fmt.Sprintf("user-%d", n), event.RoleDPS, "")
		}(i)
	}
	wg.Wait()

	stored, err := env.svc.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(stored.Participants), ev.GroupType.Capacity())
	assert.Len(t, stored.Participants, 4)
}
