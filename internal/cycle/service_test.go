package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
	"github.com/lunara-app/service-cycle-go/internal/notification"
	"github.com/lunara-app/service-cycle-go/internal/relationship"
)

type recordedEvent struct {
	UserID string
	Event  notification.Event
}

// fakeNotifier records deliveries and optionally fails them.
type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
	fail   bool
}

func (f *fakeNotifier) Notify(_ context.Context, userID string, ev notification.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("delivery refused")
	}
	f.events = append(f.events, recordedEvent{UserID: userID, Event: ev})
	return nil
}

func (f *fakeNotifier) recorded() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedEvent(nil), f.events...)
}

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	notifier *fakeNotifier
	now      time.Time
}

func newTestEnv(t *testing.T, peersSpec string) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    NewMemoryStore(),
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(env.store, relationship.NewStaticDirectory(peersSpec), env.notifier, nil, zap.NewNop().Sugar())
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) daysFromNow(d int) time.Time { return e.now.AddDate(0, 0, d) }

func TestGetCycleRequiresProfile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "")

	_, err := env.svc.GetCycle(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartPeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates the profile lazily with defaults", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		res, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)
		assert.Equal(t, entity.FlowMedium, res.Period.Flow)
		assert.NotEmpty(t, res.Period.ID)
		assert.False(t, res.CameEarly)
		assert.Equal(t, 28, res.View.CycleLength)
		require.NotNil(t, res.View.LastPeriodStart)
		assert.Equal(t, env.now, *res.View.LastPeriodStart)
	})

	t.Run("rejects a second ongoing period", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)
		_, err = env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("rejects an unknown flow", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		flow := entity.Flow("gusher")
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Flow: &flow})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("a valid gap refreshes the cycle length", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		first := env.daysFromNow(-30)
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &first})
		require.NoError(t, err)
		end := env.daysFromNow(-26)
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{Date: &end})
		require.NoError(t, err)

		res, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)
		// round(0.7*28 + 0.3*30)
		assert.Equal(t, 29, res.View.CycleLength)
	})

	t.Run("an implausible gap leaves the estimate alone", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		first := env.daysFromNow(-90)
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &first})
		require.NoError(t, err)
		end := env.daysFromNow(-86)
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{Date: &end})
		require.NoError(t, err)

		res, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)
		assert.Equal(t, 28, res.View.CycleLength)
	})

	t.Run("supersedes a manual forecast and flags an early arrival", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		first := env.daysFromNow(-28)
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &first})
		require.NoError(t, err)
		end := env.daysFromNow(-24)
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{Date: &end})
		require.NoError(t, err)

		expected := env.daysFromNow(5)
		_, err = env.svc.SetExpectedPeriod(ctx, "u1", SetExpectedPeriodInput{StartDate: expected})
		require.NoError(t, err)

		res, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)
		assert.True(t, res.CameEarly)
		require.NotNil(t, res.View.NextPeriod)
		assert.False(t, res.View.NextPeriod.ManuallySet, "override must be cleared")
	})
}

func TestEndPeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("without an ongoing period", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{})
		require.NoError(t, err)

		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("end before start is rejected", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)
		early := env.daysFromNow(-3)
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{Date: &early})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("a plausible duration refreshes the period length", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		start := env.daysFromNow(-6)
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &start})
		require.NoError(t, err)

		res, err := env.svc.EndPeriod(ctx, "u1", EndPeriodInput{})
		require.NoError(t, err)
		// seven observed days: round(0.7*5 + 0.3*7)
		assert.Equal(t, 6, res.View.PeriodLength)
		require.NotNil(t, res.Period.EndDate)
		assert.Equal(t, env.now, *res.Period.EndDate)
	})

	t.Run("missing profile", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")
		_, err := env.svc.EndPeriod(ctx, "u1", EndPeriodInput{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLogPeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("inserts a historical entry", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		start := env.daysFromNow(-60)
		end := env.daysFromNow(-56)
		res, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: start, EndDate: &end})
		require.NoError(t, err)
		assert.Equal(t, start, res.Period.StartDate)
		require.NotNil(t, res.View.LastPeriodStart)
		assert.Equal(t, start, *res.View.LastPeriodStart)
	})

	t.Run("an older entry does not move the last bounds", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		recent := env.daysFromNow(-10)
		recentEnd := env.daysFromNow(-6)
		_, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: recent, EndDate: &recentEnd})
		require.NoError(t, err)

		older := env.daysFromNow(-40)
		olderEnd := env.daysFromNow(-36)
		res, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: older, EndDate: &olderEnd})
		require.NoError(t, err)
		require.NotNil(t, res.View.LastPeriodStart)
		assert.Equal(t, recent, *res.View.LastPeriodStart)
		// ledger stays sorted
		require.Len(t, res.View.Periods, 2)
		assert.Equal(t, older, res.View.Periods[0].StartDate)
	})

	t.Run("re-estimates the cycle length from recent gaps", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		for _, startDay := range []int{-70, -40} {
			start := env.daysFromNow(startDay)
			end := env.daysFromNow(startDay + 4)
			_, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: start, EndDate: &end})
			require.NoError(t, err)
		}
		start := env.daysFromNow(-8)
		end := env.daysFromNow(-4)
		res, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: start, EndDate: &end})
		require.NoError(t, err)
		// gaps of 30 and 32 days average to 31
		assert.Equal(t, 31, res.View.CycleLength)
	})

	t.Run("overlap is a conflict naming the existing entry", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		start := env.daysFromNow(-30)
		end := env.daysFromNow(-26)
		_, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: start, EndDate: &end})
		require.NoError(t, err)

		overlapStart := env.daysFromNow(-27)
		overlapEnd := env.daysFromNow(-24)
		_, err = env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: overlapStart, EndDate: &overlapEnd})
		require.ErrorIs(t, err, ErrConflict)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		require.NotNil(t, conflict.ConflictingStart)
		assert.Equal(t, start, *conflict.ConflictingStart)
	})

	t.Run("an open entry collides with the provisional span", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		start := env.daysFromNow(-30)
		_, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: start})
		require.NoError(t, err)

		inside := env.daysFromNow(-25)
		insideEnd := env.daysFromNow(-22)
		_, err = env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: inside, EndDate: &insideEnd})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("a second open entry is rejected", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		start := env.daysFromNow(-30)
		_, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: start})
		require.NoError(t, err)

		another := env.daysFromNow(-10)
		_, err = env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: another})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("date window and ordering validation", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		tooOld := env.now.AddDate(-2, 0, 0)
		_, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: tooOld})
		assert.ErrorIs(t, err, ErrValidation)

		start := env.daysFromNow(-10)
		badEnd := env.daysFromNow(-12)
		_, err = env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: start, EndDate: &badEnd})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestDeletePeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{})
		require.NoError(t, err)

		_, err = env.svc.DeletePeriod(ctx, "u1", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("recomputes the last bounds from the remainder", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		oldStart := env.daysFromNow(-40)
		oldEnd := env.daysFromNow(-36)
		_, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: oldStart, EndDate: &oldEnd})
		require.NoError(t, err)

		newStart := env.daysFromNow(-10)
		newEnd := env.daysFromNow(-6)
		res, err := env.svc.LogPeriod(ctx, "u1", LogPeriodInput{StartDate: newStart, EndDate: &newEnd})
		require.NoError(t, err)

		latest := res.View.Periods[len(res.View.Periods)-1]
		view, err := env.svc.DeletePeriod(ctx, "u1", latest.ID)
		require.NoError(t, err)
		require.NotNil(t, view.LastPeriodStart)
		assert.Equal(t, oldStart, *view.LastPeriodStart)
		require.NotNil(t, view.LastPeriodEnd)
		assert.Equal(t, oldEnd, *view.LastPeriodEnd)
	})
}

func TestClearPeriods(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, "")

	start := env.daysFromNow(-30)
	_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &start})
	require.NoError(t, err)
	end := env.daysFromNow(-24)
	_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{Date: &end})
	require.NoError(t, err)

	view, err := env.svc.ClearPeriods(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, view.Periods)
	assert.Nil(t, view.LastPeriodStart)
	assert.Nil(t, view.LastPeriodEnd)
	assert.Nil(t, view.NextPeriod)
	assert.Equal(t, entity.DefaultCycleLength, view.CycleLength)
	assert.Equal(t, entity.DefaultPeriodLength, view.PeriodLength)
}

func TestLogSymptom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("defaults and lazy profile creation", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		sym, err := env.svc.LogSymptom(ctx, "u1", LogSymptomInput{Type: entity.SymptomCramps})
		require.NoError(t, err)
		assert.Equal(t, 3, sym.Severity)
		assert.Equal(t, env.now, sym.Date)

		got, err := env.svc.GetSymptoms(ctx, "u1", nil, nil)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("rejects unknown type and out-of-range severity", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		_, err := env.svc.LogSymptom(ctx, "u1", LogSymptomInput{Type: entity.SymptomType("sleepy")})
		assert.ErrorIs(t, err, ErrValidation)

		severity := 6
		_, err = env.svc.LogSymptom(ctx, "u1", LogSymptomInput{Type: entity.SymptomCramps, Severity: &severity})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("range queries are inclusive and ascending", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		for _, d := range []int{-5, -3, -1} {
			date := env.daysFromNow(d)
			_, err := env.svc.LogSymptom(ctx, "u1", LogSymptomInput{Type: entity.SymptomFatigue, Date: &date})
			require.NoError(t, err)
		}
		from := env.daysFromNow(-5)
		to := env.daysFromNow(-3)
		got, err := env.svc.GetSymptoms(ctx, "u1", &from, &to)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Date.Before(got[1].Date))
	})
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("applies explicit lengths", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		cycleLen, periodLen, tracking := 32, 6, false
		view, err := env.svc.UpdateSettings(ctx, "u1", UpdateSettingsInput{
			CycleLength: &cycleLen, PeriodLength: &periodLen, IsTracking: &tracking,
		})
		require.NoError(t, err)
		assert.Equal(t, 32, view.CycleLength)
		assert.Equal(t, 6, view.PeriodLength)
		assert.False(t, view.IsTracking)
	})

	t.Run("rejects out-of-domain lengths", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")

		bad := 50
		_, err := env.svc.UpdateSettings(ctx, "u1", UpdateSettingsInput{CycleLength: &bad})
		assert.ErrorIs(t, err, ErrValidation)

		badPeriod := 0
		_, err = env.svc.UpdateSettings(ctx, "u1", UpdateSettingsInput{PeriodLength: &badPeriod})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestExpectedPeriod(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	seed := func(t *testing.T, env *testEnv) {
		t.Helper()
		start := env.daysFromNow(-20)
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &start})
		require.NoError(t, err)
		end := env.daysFromNow(-16)
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{Date: &end})
		require.NoError(t, err)
	}

	t.Run("override takes precedence until cleared", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")
		seed(t, env)

		manual := env.daysFromNow(6)
		view, err := env.svc.SetExpectedPeriod(ctx, "u1", SetExpectedPeriodInput{StartDate: manual})
		require.NoError(t, err)
		require.NotNil(t, view.NextPeriod)
		assert.True(t, view.NextPeriod.ManuallySet)
		assert.Equal(t, entity.DateOnly(manual), view.NextPeriod.StartDate)

		view, err = env.svc.ClearExpectedPeriod(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, view.NextPeriod)
		assert.False(t, view.NextPeriod.ManuallySet)
	})

	t.Run("start must fall within the sixty-day horizon", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")
		seed(t, env)

		past := env.daysFromNow(-1)
		_, err := env.svc.SetExpectedPeriod(ctx, "u1", SetExpectedPeriodInput{StartDate: past})
		assert.ErrorIs(t, err, ErrValidation)

		far := env.daysFromNow(61)
		_, err = env.svc.SetExpectedPeriod(ctx, "u1", SetExpectedPeriodInput{StartDate: far})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("requires an existing profile", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "")
		manual := env.daysFromNow(6)
		_, err := env.svc.SetExpectedPeriod(ctx, "u1", SetExpectedPeriodInput{StartDate: manual})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateSharing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("keeps only accepted peers, deduplicated and sorted", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "owner:bob,owner:alice")

		granted, err := env.svc.UpdateSharing(ctx, "owner", []string{"bob", "owner", "alice", "bob", "stranger"})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, granted)
	})

	t.Run("replaces the previous list wholesale", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "owner:bob,owner:alice")

		_, err := env.svc.UpdateSharing(ctx, "owner", []string{"alice", "bob"})
		require.NoError(t, err)
		granted, err := env.svc.UpdateSharing(ctx, "owner", []string{"bob"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, granted)
	})
}

func TestGetSharedCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) *testEnv {
		t.Helper()
		env := newTestEnv(t, "owner:viewer")
		start := env.daysFromNow(-3)
		_, err := env.svc.StartPeriod(ctx, "owner", StartPeriodInput{Date: &start})
		require.NoError(t, err)
		return env
	}

	t.Run("needs an accepted relationship", func(t *testing.T) {
		t.Parallel()
		env := setup(t)
		_, err := env.svc.GetSharedCycle(ctx, "stranger", "owner")
		assert.ErrorIs(t, err, ErrPermission)
	})

	t.Run("needs explicit sharing-list membership", func(t *testing.T) {
		t.Parallel()
		env := setup(t)
		_, err := env.svc.GetSharedCycle(ctx, "viewer", "owner")
		assert.ErrorIs(t, err, ErrPermission)
	})

	t.Run("authorized viewer gets a restricted view", func(t *testing.T) {
		t.Parallel()
		env := setup(t)
		_, err := env.svc.UpdateSharing(ctx, "owner", []string{"viewer"})
		require.NoError(t, err)

		old := env.daysFromNow(-20)
		_, err = env.svc.LogSymptom(ctx, "owner", LogSymptomInput{Type: entity.SymptomHeadache, Date: &old})
		require.NoError(t, err)
		recent := env.daysFromNow(-2)
		_, err = env.svc.LogSymptom(ctx, "owner", LogSymptomInput{Type: entity.SymptomCramps, Date: &recent})
		require.NoError(t, err)

		view, err := env.svc.GetSharedCycle(ctx, "viewer", "owner")
		require.NoError(t, err)
		assert.Equal(t, "owner", view.UserID)
		assert.Nil(t, view.ShareWith, "sharing list stays private")
		require.Len(t, view.RecentSymptoms, 1)
		assert.Equal(t, entity.SymptomCramps, view.RecentSymptoms[0].Type)
	})

	t.Run("missing owner profile", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "ghost:viewer")
		_, err := env.svc.GetSharedCycle(ctx, "viewer", "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNotificationFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("mutations notify every listed peer", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "owner:bob,owner:alice")

		start := env.daysFromNow(-30)
		_, err := env.svc.StartPeriod(ctx, "owner", StartPeriodInput{Date: &start})
		require.NoError(t, err)
		_, err = env.svc.UpdateSharing(ctx, "owner", []string{"alice", "bob"})
		require.NoError(t, err)

		end := env.daysFromNow(-26)
		_, err = env.svc.EndPeriod(ctx, "owner", EndPeriodInput{Date: &end})
		require.NoError(t, err)

		events := env.notifier.recorded()
		require.Len(t, events, 2)
		recipients := []string{events[0].UserID, events[1].UserID}
		assert.ElementsMatch(t, []string{"alice", "bob"}, recipients)
		assert.Equal(t, "period_ended", events[0].Event.Type)
	})

	t.Run("delivery failure never fails the mutation", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, "owner:bob")
		env.notifier.fail = true

		start := env.daysFromNow(-30)
		_, err := env.svc.StartPeriod(ctx, "owner", StartPeriodInput{Date: &start})
		require.NoError(t, err)
		_, err = env.svc.UpdateSharing(ctx, "owner", []string{"bob"})
		require.NoError(t, err)

		end := env.daysFromNow(-26)
		_, err = env.svc.EndPeriod(ctx, "owner", EndPeriodInput{Date: &end})
		assert.NoError(t, err)
	})
}

// flakyStore loses a configurable number of update races before succeeding.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Update(ctx context.Context, p *entity.CycleProfile, expectedVersion int64) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return ErrVersionConflict
	}
	return s.Store.Update(ctx, p, expectedVersion)
}

func TestOptimisticSaveRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newFlakyEnv := func(t *testing.T, failures int) (*testEnv, *flakyStore) {
		t.Helper()
		env := newTestEnv(t, "")
		flaky := &flakyStore{Store: env.store, failures: failures}
		env.svc.store = flaky
		return env, flaky
	}

	t.Run("a lost race is retried transparently", func(t *testing.T) {
		t.Parallel()
		env, flaky := newFlakyEnv(t, 0)
		start := env.daysFromNow(-10)
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &start})
		require.NoError(t, err)

		flaky.failures = 2
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{})
		assert.NoError(t, err)
	})

	t.Run("exhausted retries surface as a conflict", func(t *testing.T) {
		t.Parallel()
		env, flaky := newFlakyEnv(t, 0)
		start := env.daysFromNow(-10)
		_, err := env.svc.StartPeriod(ctx, "u1", StartPeriodInput{Date: &start})
		require.NoError(t, err)

		flaky.failures = casAttempts
		_, err = env.svc.EndPeriod(ctx, "u1", EndPeriodInput{})
		assert.ErrorIs(t, err, ErrConflict)
	})
}
