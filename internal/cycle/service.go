package cycle

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
	"github.com/lunara-app/service-cycle-go/internal/notification"
	"github.com/lunara-app/service-cycle-go/internal/observability"
	"github.com/lunara-app/service-cycle-go/internal/relationship"
	"github.com/lunara-app/service-cycle-go/pkg/utilities"
)

// casAttempts bounds the optimistic-save retry loop. Contention on a single
// user's profile is rare; exhausting the attempts surfaces as a conflict.
const casAttempts = 3

// Shared-view symptom restriction.
const (
	sharedSymptomWindow = 7 * 24 * time.Hour
	sharedSymptomLimit  = 10
)

// Service orchestrates every cycle mutation and read. It is the only writer
// of CycleProfile documents; per-user serialization comes from the store's
// version compare-and-swap.
type Service struct {
	store    Store
	peers    relationship.Directory
	notifier notification.Notifier
	metrics  *observability.Metrics
	logger   *zap.SugaredLogger

	now func() time.Time
}

// NewService wires the orchestrator with its collaborators. metrics may be nil.
func NewService(store Store, peers relationship.Directory, notifier notification.Notifier, metrics *observability.Metrics, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:    store,
		peers:    peers,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// GetCycle returns the owner's derived view. The profile must already exist;
// profiles are created lazily by the first write.
func (s *Service) GetCycle(ctx context.Context, userID string) (view *CycleView, err error) {
	defer s.observe("get_cycle", &err)
	p, _, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := BuildView(p, s.now())
	return &v, nil
}

// StartPeriodInput carries the optional start date (default now) and flow
// (default medium).
type StartPeriodInput struct {
	Date *time.Time
	Flow *entity.Flow
}

// StartPeriodResult is the outcome of starting a period.
type StartPeriodResult struct {
	Period    entity.Period `json:"period"`
	CameEarly bool          `json:"came_early"`
	View      CycleView     `json:"cycle"`
}

// StartPeriod opens a new ongoing period. An already ongoing period is a
// conflict. A valid start-to-start gap refreshes the cycle length estimate,
// and any manual forecast is superseded.
func (s *Service) StartPeriod(ctx context.Context, userID string, in StartPeriodInput) (res *StartPeriodResult, err error) {
	defer s.observe("start_period", &err)

	date := s.now()
	if in.Date != nil {
		date = *in.Date
	}
	flow := entity.FlowMedium
	if in.Flow != nil {
		flow = *in.Flow
	}
	if !flow.IsValid() {
		return nil, newValidationError("flow", "must be light, medium or heavy")
	}

	var period entity.Period
	var cameEarly bool
	p, err := s.withProfile(ctx, userID, true, func(p *entity.CycleProfile) error {
		if ongoing := p.OngoingPeriod(); ongoing != nil {
			return newConflictError("a period is already ongoing; end it first")
		}
		if p.LastPeriodStart != nil {
			gap := daysBetween(*p.LastPeriodStart, date)
			p.CycleLength = SmoothedCycleLength(p.CycleLength, gap)
		}
		cameEarly = p.ExpectedNextPeriod.ManuallySet &&
			p.ExpectedNextPeriod.StartDate != nil &&
			entity.DateOnly(date).Before(*p.ExpectedNextPeriod.StartDate)

		period = entity.Period{ID: utilities.NewKSUID(), StartDate: date, Flow: flow}
		p.Periods = append(p.Periods, period)
		p.SortPeriods()
		start := date
		p.LastPeriodStart = &start
		// An observed period always supersedes a manual forecast.
		p.ExpectedNextPeriod = entity.ExpectedPeriod{}
		return nil
	})
	if err != nil {
		return nil, err
	}

	evType := "period_started"
	if cameEarly {
		evType = "period_started_early"
	}
	s.fanOut(ctx, p, evType, "Cycle update", "A new period was recorded.", map[string]any{
		"owner_id":   userID,
		"start_date": date,
	})

	view := BuildView(p, s.now())
	return &StartPeriodResult{Period: period, CameEarly: cameEarly, View: view}, nil
}

// EndPeriodInput carries the optional end date (default now).
type EndPeriodInput struct {
	Date *time.Time
}

// EndPeriodResult is the outcome of ending a period.
type EndPeriodResult struct {
	Period entity.Period `json:"period"`
	View   CycleView     `json:"cycle"`
}

// EndPeriod closes the ongoing period. A valid duration refreshes the period
// length estimate.
func (s *Service) EndPeriod(ctx context.Context, userID string, in EndPeriodInput) (res *EndPeriodResult, err error) {
	defer s.observe("end_period", &err)

	date := s.now()
	if in.Date != nil {
		date = *in.Date
	}

	var ended entity.Period
	p, err := s.withProfile(ctx, userID, false, func(p *entity.CycleProfile) error {
		ongoing := p.OngoingPeriod()
		if ongoing == nil {
			return newConflictError("no ongoing period to end")
		}
		periodDays := daysBetween(ongoing.StartDate, date) + 1
		if periodDays < 1 {
			return newValidationError("date", "end date is before the period start")
		}
		end := date
		ongoing.EndDate = &end
		p.LastPeriodEnd = &end
		p.PeriodLength = SmoothedPeriodLength(p.PeriodLength, periodDays)
		ended = *ongoing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, p, "period_ended", "Cycle update", "The current period ended.", map[string]any{
		"owner_id": userID,
		"end_date": date,
	})

	view := BuildView(p, s.now())
	return &EndPeriodResult{Period: ended, View: view}, nil
}

// LogPeriodInput is a manual historical (or near-future) ledger entry.
type LogPeriodInput struct {
	StartDate time.Time
	EndDate   *time.Time
	Flow      *entity.Flow
}

// LogPeriodResult is the outcome of logging a period manually.
type LogPeriodResult struct {
	Period entity.Period `json:"period"`
	View   CycleView     `json:"cycle"`
}

// LogPeriod inserts a period entry at an arbitrary date within one year of
// today. Overlap with any existing entry (open entries get a provisional
// seven-day span) is a conflict. The cycle length is re-estimated from the
// gaps across the three most recent entries.
func (s *Service) LogPeriod(ctx context.Context, userID string, in LogPeriodInput) (res *LogPeriodResult, err error) {
	defer s.observe("log_period", &err)

	flow := entity.FlowMedium
	if in.Flow != nil {
		flow = *in.Flow
	}
	if !flow.IsValid() {
		return nil, newValidationError("flow", "must be light, medium or heavy")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return nil, newValidationError("end_date", "must not be before start_date")
	}
	now := s.now()
	if in.StartDate.Before(now.AddDate(-1, 0, 0)) || in.StartDate.After(now.AddDate(1, 0, 0)) {
		return nil, newValidationError("start_date", "must be within one year of today")
	}

	newEnd := in.StartDate.AddDate(0, 0, entity.OpenPeriodSpanDays)
	if in.EndDate != nil {
		newEnd = *in.EndDate
	}

	var logged entity.Period
	p, err := s.withProfile(ctx, userID, true, func(p *entity.CycleProfile) error {
		if conflicting := p.OverlappingPeriod(in.StartDate, newEnd); conflicting != nil {
			return newOverlapError("overlaps an existing period", conflicting.StartDate)
		}
		if in.EndDate == nil {
			if ongoing := p.OngoingPeriod(); ongoing != nil {
				return newConflictError("a period is already ongoing; end it first")
			}
		}

		logged = entity.Period{ID: utilities.NewKSUID(), StartDate: in.StartDate, EndDate: cloneTime(in.EndDate), Flow: flow}
		p.Periods = append(p.Periods, logged)
		p.SortPeriods()

		if latest := p.LatestPeriod(); latest != nil && latest.ID == logged.ID {
			start := logged.StartDate
			p.LastPeriodStart = &start
			p.LastPeriodEnd = cloneTime(logged.EndDate)
		}

		p.CycleLength = RebuiltCycleLength(p.Periods, p.CycleLength)
		if in.EndDate != nil {
			periodDays := daysBetween(in.StartDate, *in.EndDate) + 1
			p.PeriodLength = SmoothedPeriodLength(p.PeriodLength, periodDays)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, p, "period_logged", "Cycle update", "A past period was logged.", map[string]any{
		"owner_id":   userID,
		"start_date": in.StartDate,
	})

	view := BuildView(p, s.now())
	return &LogPeriodResult{Period: logged, View: view}, nil
}

// DeletePeriod removes one ledger entry and recomputes the cached last-period
// bounds from whatever remains.
func (s *Service) DeletePeriod(ctx context.Context, userID, periodID string) (view *CycleView, err error) {
	defer s.observe("delete_period", &err)

	p, err := s.withProfile(ctx, userID, false, func(p *entity.CycleProfile) error {
		if !p.RemovePeriod(periodID) {
			return &NotFoundError{Kind: "period", ID: periodID}
		}
		p.RecomputeLastPeriod()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, p, "period_deleted", "Cycle update", "A period entry was removed.", map[string]any{
		"owner_id":  userID,
		"period_id": periodID,
	})

	v := BuildView(p, s.now())
	return &v, nil
}

// ClearPeriods wipes the ledger and resets the profile to its defaults: empty
// bounds, no manual forecast, default length estimates.
func (s *Service) ClearPeriods(ctx context.Context, userID string) (view *CycleView, err error) {
	defer s.observe("clear_periods", &err)

	p, err := s.withProfile(ctx, userID, false, func(p *entity.CycleProfile) error {
		p.Periods = []entity.Period{}
		p.LastPeriodStart = nil
		p.LastPeriodEnd = nil
		p.ExpectedNextPeriod = entity.ExpectedPeriod{}
		p.CycleLength = entity.DefaultCycleLength
		p.PeriodLength = entity.DefaultPeriodLength
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, p, "periods_cleared", "Cycle update", "The period history was cleared.", map[string]any{
		"owner_id": userID,
	})

	v := BuildView(p, s.now())
	return &v, nil
}

// LogSymptomInput is one dated self-report.
type LogSymptomInput struct {
	Date     *time.Time
	Type     entity.SymptomType
	Severity *int
	Notes    *string
}

// LogSymptom appends a symptom observation. Severity defaults to 3.
func (s *Service) LogSymptom(ctx context.Context, userID string, in LogSymptomInput) (sym *entity.Symptom, err error) {
	defer s.observe("log_symptom", &err)

	if !in.Type.IsValid() {
		return nil, newValidationError("type", "unknown symptom type")
	}
	severity := 3
	if in.Severity != nil {
		severity = *in.Severity
	}
	if severity < 1 || severity > 5 {
		return nil, newValidationError("severity", "must be between 1 and 5")
	}
	date := s.now()
	if in.Date != nil {
		date = *in.Date
	}

	symptom := entity.Symptom{
		ID:       utilities.NewKSUID(),
		Date:     date,
		Type:     in.Type,
		Severity: severity,
		Notes:    in.Notes,
	}
	p, err := s.withProfile(ctx, userID, true, func(p *entity.CycleProfile) error {
		p.Symptoms = append(p.Symptoms, symptom)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, p, "symptom_logged", "Cycle update", "A symptom was logged.", map[string]any{
		"owner_id": userID,
		"type":     symptom.Type,
	})
	return &symptom, nil
}

// GetSymptoms returns the symptom log within the optional inclusive range,
// sorted by date ascending.
func (s *Service) GetSymptoms(ctx context.Context, userID string, from, to *time.Time) (syms []entity.Symptom, err error) {
	defer s.observe("get_symptoms", &err)
	p, _, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.SymptomsBetween(from, to), nil
}

// UpdateSettingsInput carries optional settings changes.
type UpdateSettingsInput struct {
	CycleLength  *int
	PeriodLength *int
	IsTracking   *bool
}

// UpdateSettings applies explicit settings. Lengths must stay within their
// domains; tracking is informational and never blocks writes.
func (s *Service) UpdateSettings(ctx context.Context, userID string, in UpdateSettingsInput) (view *CycleView, err error) {
	defer s.observe("update_settings", &err)

	if in.CycleLength != nil && (*in.CycleLength < entity.MinCycleLength || *in.CycleLength > entity.MaxCycleLength) {
		return nil, newValidationError("cycle_length", "must be between 21 and 45 days")
	}
	if in.PeriodLength != nil && (*in.PeriodLength < entity.MinPeriodLength || *in.PeriodLength > entity.MaxPeriodLength) {
		return nil, newValidationError("period_length", "must be between 1 and 10 days")
	}

	p, err := s.withProfile(ctx, userID, true, func(p *entity.CycleProfile) error {
		if in.CycleLength != nil {
			p.CycleLength = *in.CycleLength
		}
		if in.PeriodLength != nil {
			p.PeriodLength = *in.PeriodLength
		}
		if in.IsTracking != nil {
			p.IsTracking = *in.IsTracking
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := BuildView(p, s.now())
	return &v, nil
}

// SetExpectedPeriodInput is the manual next-period forecast.
type SetExpectedPeriodInput struct {
	StartDate time.Time
	EndDate   *time.Time
}

// SetExpectedPeriod stores a manual forecast override. The start must fall
// between today and sixty days out; it takes precedence over the calculated
// prediction until cleared or superseded by an actual period.
func (s *Service) SetExpectedPeriod(ctx context.Context, userID string, in SetExpectedPeriodInput) (view *CycleView, err error) {
	defer s.observe("set_expected_period", &err)

	start := entity.DateOnly(in.StartDate)
	today := entity.DateOnly(s.now())
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return nil, newValidationError("end_date", "must not be before start_date")
	}
	if start.Before(today) {
		return nil, newValidationError("start_date", "must not be in the past")
	}
	if start.After(today.AddDate(0, 0, 60)) {
		return nil, newValidationError("start_date", "must be within 60 days of today")
	}

	var end *time.Time
	if in.EndDate != nil {
		e := entity.DateOnly(*in.EndDate)
		end = &e
	}
	p, err := s.withProfile(ctx, userID, false, func(p *entity.CycleProfile) error {
		p.ExpectedNextPeriod = entity.ExpectedPeriod{StartDate: &start, EndDate: end, ManuallySet: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, p, "expected_period_set", "Cycle update", "The next period forecast was adjusted.", map[string]any{
		"owner_id":   userID,
		"start_date": start,
	})

	v := BuildView(p, s.now())
	return &v, nil
}

// ClearExpectedPeriod reverts to the calculated prediction.
func (s *Service) ClearExpectedPeriod(ctx context.Context, userID string) (view *CycleView, err error) {
	defer s.observe("clear_expected_period", &err)

	p, err := s.withProfile(ctx, userID, false, func(p *entity.CycleProfile) error {
		p.ExpectedNextPeriod = entity.ExpectedPeriod{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := BuildView(p, s.now())
	return &v, nil
}

// UpdateSharing replaces the sharing list with the candidates that hold an
// accepted relationship with the owner. Unaccepted candidates are dropped
// silently; the resulting list is returned.
func (s *Service) UpdateSharing(ctx context.Context, userID string, candidateIDs []string) (shareWith []string, err error) {
	defer s.observe("update_sharing", &err)

	accepted, err := s.peers.ListAcceptedPeers(ctx, userID)
	if err != nil {
		return nil, err
	}
	granted := make([]string, 0, len(candidateIDs))
	seen := make(map[string]struct{}, len(candidateIDs))
	for _, id := range candidateIDs {
		if id == userID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if _, ok := accepted[id]; !ok {
			continue
		}
		seen[id] = struct{}{}
		granted = append(granted, id)
	}
	sort.Strings(granted)

	_, err = s.withProfile(ctx, userID, true, func(p *entity.CycleProfile) error {
		p.ShareWith = granted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}

// GetSharedCycle returns the owner's derived view to an authorized viewer.
// Authorization needs both an accepted relationship and explicit membership
// in the owner's sharing list. The shared view adds the trailing week of
// symptoms, newest first, capped at ten entries.
func (s *Service) GetSharedCycle(ctx context.Context, viewerID, ownerID string) (view *CycleView, err error) {
	defer s.observe("get_shared_cycle", &err)

	accepted, err := s.peers.ListAcceptedPeers(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if _, ok := accepted[viewerID]; !ok {
		return nil, &PermissionError{Message: "no accepted relationship with this user"}
	}
	p, _, err := s.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !p.SharedWith(viewerID) {
		return nil, &PermissionError{Message: "cycle is not shared with you"}
	}

	now := s.now()
	v := BuildView(p, now)
	v.ShareWith = nil
	v.RecentSymptoms = p.RecentSymptoms(now, sharedSymptomWindow, sharedSymptomLimit)
	return &v, nil
}

// withProfile runs mutate against a fresh copy of the user's profile and
// saves it with the version observed at load. On a lost race it reloads and
// retries; mutate must therefore be side-effect free apart from the profile.
func (s *Service) withProfile(ctx context.Context, userID string, createIfMissing bool, mutate func(p *entity.CycleProfile) error) (*entity.CycleProfile, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		p, version, err := s.store.Get(ctx, userID)
		fresh := false
		if err != nil {
			if !errors.Is(err, ErrNotFound) || !createIfMissing {
				return nil, err
			}
			p = entity.NewProfile(userID, s.now())
			fresh = true
		}
		if err := mutate(p); err != nil {
			return nil, err
		}
		p.UpdatedAt = s.now()

		if fresh {
			err = s.store.Create(ctx, p)
		} else {
			err = s.store.Update(ctx, p, version)
		}
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		s.logger.Debugw("profile save lost race, retrying", "user_id", userID, "attempt", attempt+1)
	}
	return nil, newConflictError("profile was modified concurrently, retry")
}

// fanOut forwards a change event to every account in the sharing list.
// Delivery is fire-and-forget: failures are logged and counted, never
// surfaced to the caller.
func (s *Service) fanOut(ctx context.Context, p *entity.CycleProfile, evType, title, message string, data map[string]any) {
	if len(p.ShareWith) == 0 {
		return
	}
	ev := notification.NewEvent(evType, title, message, data)
	for _, recipient := range p.ShareWith {
		if err := s.notifier.Notify(ctx, recipient, ev); err != nil {
			s.metrics.NotificationFailure()
			s.logger.Warnw("notification delivery failed",
				"recipient", recipient, "event", evType, "err", err)
		}
	}
}

func (s *Service) observe(operation string, err *error) {
	s.metrics.ObserveOperation(operation, *err == nil)
}
