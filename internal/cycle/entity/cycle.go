package entity

import (
	"sort"
	"time"
)

// Domain defaults and bounds for the adaptive estimates.
const (
	DefaultCycleLength  = 28
	DefaultPeriodLength = 5

	MinCycleLength  = 21
	MaxCycleLength  = 45
	MinPeriodLength = 1
	MaxPeriodLength = 10

	// OpenPeriodSpanDays is the provisional length assumed for a period that
	// has no end date yet when checking interval overlap.
	OpenPeriodSpanDays = 7
)

// Flow describes menstrual flow intensity.
type Flow string

const (
	FlowLight  Flow = "light"
	FlowMedium Flow = "medium"
	FlowHeavy  Flow = "heavy"
)

func (f Flow) String() string { return string(f) }

// IsValid returns true for a known flow value.
func (f Flow) IsValid() bool {
	switch f {
	case FlowLight, FlowMedium, FlowHeavy:
		return true
	}
	return false
}

// Phase is the inferred cycle phase.
type Phase string

const (
	PhaseMenstrual  Phase = "menstrual"
	PhaseFollicular Phase = "follicular"
	PhaseOvulation  Phase = "ovulation"
	PhaseLuteal     Phase = "luteal"
)

func (p Phase) String() string { return string(p) }

// SymptomType is the fixed set of loggable symptom kinds.
type SymptomType string

const (
	SymptomCramps        SymptomType = "cramps"
	SymptomHeadache      SymptomType = "headache"
	SymptomMoodSwings    SymptomType = "mood_swings"
	SymptomFatigue       SymptomType = "fatigue"
	SymptomBloating      SymptomType = "bloating"
	SymptomAcne          SymptomType = "acne"
	SymptomTenderBreasts SymptomType = "tender_breasts"
	SymptomNausea        SymptomType = "nausea"
	SymptomBackache      SymptomType = "backache"
	SymptomInsomnia      SymptomType = "insomnia"
	SymptomCravings      SymptomType = "cravings"
	SymptomSpotting      SymptomType = "spotting"
)

func (s SymptomType) String() string { return string(s) }

// IsValid returns true for a known symptom type.
func (s SymptomType) IsValid() bool {
	switch s {
	case SymptomCramps, SymptomHeadache, SymptomMoodSwings, SymptomFatigue,
		SymptomBloating, SymptomAcne, SymptomTenderBreasts, SymptomNausea,
		SymptomBackache, SymptomInsomnia, SymptomCravings, SymptomSpotting:
		return true
	}
	return false
}

// Period is one menstruation entry in the ledger. A nil EndDate means the
// period is still ongoing.
type Period struct {
	ID        string     `json:"id"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Flow      Flow       `json:"flow"`
}

// Ongoing reports whether the period has not been ended yet.
func (p Period) Ongoing() bool { return p.EndDate == nil }

// EffectiveEnd returns the real end date, or start plus the provisional open
// span when the period is ongoing. Used for overlap checks only.
func (p Period) EffectiveEnd() time.Time {
	if p.EndDate != nil {
		return *p.EndDate
	}
	return p.StartDate.AddDate(0, 0, OpenPeriodSpanDays)
}

// Symptom is a single dated self-report. Multiple entries per day are allowed.
type Symptom struct {
	ID       string      `json:"id"`
	Date     time.Time   `json:"date"`
	Type     SymptomType `json:"type"`
	Severity int         `json:"severity"`
	Notes    *string     `json:"notes,omitempty"`
}

// ExpectedPeriod is the user-asserted forecast override. When ManuallySet is
// false the calculated prediction applies instead.
type ExpectedPeriod struct {
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	ManuallySet bool       `json:"manually_set"`
}

// CycleProfile is the per-user document holding the ledger, the symptom log,
// the adaptive length estimates and the sharing list. Exactly one profile
// exists per user; it is created lazily on the first write.
type CycleProfile struct {
	UserID             string         `json:"user_id"`
	CycleLength        int            `json:"cycle_length"`
	PeriodLength       int            `json:"period_length"`
	Periods            []Period       `json:"periods"`
	Symptoms           []Symptom      `json:"symptoms"`
	LastPeriodStart    *time.Time     `json:"last_period_start,omitempty"`
	LastPeriodEnd      *time.Time     `json:"last_period_end,omitempty"`
	ExpectedNextPeriod ExpectedPeriod `json:"expected_next_period"`
	ShareWith          []string       `json:"share_with"`
	IsTracking         bool           `json:"is_tracking"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewProfile returns a profile with default estimates and tracking enabled.
func NewProfile(userID string, now time.Time) *CycleProfile {
	return &CycleProfile{
		UserID:       userID,
		CycleLength:  DefaultCycleLength,
		PeriodLength: DefaultPeriodLength,
		Periods:      []Period{},
		Symptoms:     []Symptom{},
		ShareWith:    []string{},
		IsTracking:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// OngoingPeriod returns a pointer to the period with no end date, if any.
// The ledger invariant allows at most one.
func (c *CycleProfile) OngoingPeriod() *Period {
	for i := range c.Periods {
		if c.Periods[i].Ongoing() {
			return &c.Periods[i]
		}
	}
	return nil
}

// LatestPeriod returns the chronologically last period by start date, or nil
// for an empty ledger. Assumes the ledger is sorted.
func (c *CycleProfile) LatestPeriod() *Period {
	if len(c.Periods) == 0 {
		return nil
	}
	return &c.Periods[len(c.Periods)-1]
}

// SortPeriods re-sorts the ledger by start date ascending.
func (c *CycleProfile) SortPeriods() {
	sort.Slice(c.Periods, func(i, j int) bool {
		return c.Periods[i].StartDate.Before(c.Periods[j].StartDate)
	})
}

// PeriodByID finds a ledger entry by id.
func (c *CycleProfile) PeriodByID(id string) *Period {
	for i := range c.Periods {
		if c.Periods[i].ID == id {
			return &c.Periods[i]
		}
	}
	return nil
}

// RemovePeriod deletes a ledger entry by id and reports whether it existed.
func (c *CycleProfile) RemovePeriod(id string) bool {
	for i := range c.Periods {
		if c.Periods[i].ID == id {
			c.Periods = append(c.Periods[:i], c.Periods[i+1:]...)
			return true
		}
	}
	return false
}

// OverlappingPeriod returns the first ledger entry whose effective interval
// intersects [start, end], or nil. Open entries on either side are given the
// provisional span.
func (c *CycleProfile) OverlappingPeriod(start, end time.Time) *Period {
	for i := range c.Periods {
		existing := &c.Periods[i]
		if !start.After(existing.EffectiveEnd()) && !end.Before(existing.StartDate) {
			return existing
		}
	}
	return nil
}

// RecomputeLastPeriod refreshes the cached last-period bounds after a
// deletion. A completed period wins over an ongoing one; an ongoing period
// leaves the cached end empty; an empty ledger clears both.
func (c *CycleProfile) RecomputeLastPeriod() {
	var lastCompleted *Period
	var lastAny *Period
	for i := range c.Periods {
		p := &c.Periods[i]
		if lastAny == nil || p.StartDate.After(lastAny.StartDate) {
			lastAny = p
		}
		if p.EndDate == nil {
			continue
		}
		if lastCompleted == nil || p.StartDate.After(lastCompleted.StartDate) {
			lastCompleted = p
		}
	}
	switch {
	case lastCompleted != nil:
		start := lastCompleted.StartDate
		end := *lastCompleted.EndDate
		c.LastPeriodStart = &start
		c.LastPeriodEnd = &end
	case lastAny != nil:
		start := lastAny.StartDate
		c.LastPeriodStart = &start
		c.LastPeriodEnd = nil
	default:
		c.LastPeriodStart = nil
		c.LastPeriodEnd = nil
	}
}

// SharedWith reports whether the owner listed viewerID in the sharing set.
func (c *CycleProfile) SharedWith(viewerID string) bool {
	for _, id := range c.ShareWith {
		if id == viewerID {
			return true
		}
	}
	return false
}

// SymptomsBetween returns symptoms within the optional inclusive date range,
// sorted by date ascending.
func (c *CycleProfile) SymptomsBetween(from, to *time.Time) []Symptom {
	out := make([]Symptom, 0, len(c.Symptoms))
	for _, s := range c.Symptoms {
		if from != nil && s.Date.Before(*from) {
			continue
		}
		if to != nil && s.Date.After(*to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// RecentSymptoms returns at most limit symptoms from the trailing window,
// newest first. Used for the shared read.
func (c *CycleProfile) RecentSymptoms(now time.Time, window time.Duration, limit int) []Symptom {
	cutoff := now.Add(-window)
	out := make([]Symptom, 0, limit)
	for _, s := range c.Symptoms {
		if s.Date.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DateOnly truncates a timestamp to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
