package cycle

import (
	"math"
	"time"

	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
)

// Fixed fertile-window offsets in days from the last period start. These are
// deliberately not rescaled by the cycle length estimate; see DESIGN.md.
const (
	fertileStartOffset = 10
	ovulationOffset    = 14
	fertileEndOffset   = 16
)

// FertileWindow is the inferred fertile span around ovulation.
type FertileWindow struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Ovulation time.Time `json:"ovulation"`
}

// PeriodForecast is the next-period prediction, either calculated or the
// user's manual override.
type PeriodForecast struct {
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	ManuallySet bool       `json:"manually_set"`
}

// CycleView is the derived read model returned to the owner and, in a
// restricted form, to shared viewers.
type CycleView struct {
	UserID          string             `json:"user_id"`
	CycleLength     int                `json:"cycle_length"`
	PeriodLength    int                `json:"period_length"`
	IsTracking      bool               `json:"is_tracking"`
	Periods         []entity.Period    `json:"periods"`
	LastPeriodStart *time.Time         `json:"last_period_start,omitempty"`
	LastPeriodEnd   *time.Time         `json:"last_period_end,omitempty"`
	CurrentCycleDay *int               `json:"current_cycle_day,omitempty"`
	CurrentPhase    *entity.Phase      `json:"current_phase,omitempty"`
	FertileWindow   *FertileWindow     `json:"fertile_window,omitempty"`
	NextPeriod      *PeriodForecast    `json:"next_period,omitempty"`
	ShareWith       []string           `json:"share_with,omitempty"`
	RecentSymptoms  []entity.Symptom   `json:"recent_symptoms,omitempty"`
}

// CurrentCycleDay returns the 1-indexed day within the current cycle, or nil
// when no period has been recorded. Day numbers wrap modulo the cycle length
// and are never zero.
func CurrentCycleDay(p *entity.CycleProfile, now time.Time) *int {
	if p.LastPeriodStart == nil || p.CycleLength <= 0 {
		return nil
	}
	diff := now.Sub(*p.LastPeriodStart)
	if diff < 0 {
		diff = -diff
	}
	diffDays := int(math.Ceil(diff.Hours() / 24))
	day := diffDays % p.CycleLength
	if day == 0 {
		day = p.CycleLength
	}
	return &day
}

// CurrentPhase maps the cycle day onto fixed phase boundaries: the period
// length bounds the menstrual phase, follicular runs through day 14, and the
// ovulation phase spans days 15 to 17 around the day-15 ovulation estimate.
func CurrentPhase(p *entity.CycleProfile, now time.Time) *entity.Phase {
	day := CurrentCycleDay(p, now)
	if day == nil {
		return nil
	}
	var phase entity.Phase
	switch {
	case *day <= p.PeriodLength:
		phase = entity.PhaseMenstrual
	case *day <= 14:
		phase = entity.PhaseFollicular
	case *day <= 17:
		phase = entity.PhaseOvulation
	default:
		phase = entity.PhaseLuteal
	}
	return &phase
}

// NextFertileWindow returns the fertile span at fixed offsets from the last
// period start, or nil when no period has been recorded.
func NextFertileWindow(p *entity.CycleProfile) *FertileWindow {
	if p.LastPeriodStart == nil {
		return nil
	}
	start := *p.LastPeriodStart
	return &FertileWindow{
		Start:     start.AddDate(0, 0, fertileStartOffset),
		End:       start.AddDate(0, 0, fertileEndOffset),
		Ovulation: start.AddDate(0, 0, ovulationOffset),
	}
}

// NextPeriod returns the forecast for the next period. A manual override with
// a start date wins verbatim over the calculated prediction.
func NextPeriod(p *entity.CycleProfile) *PeriodForecast {
	if p.ExpectedNextPeriod.ManuallySet && p.ExpectedNextPeriod.StartDate != nil {
		return &PeriodForecast{
			StartDate:   *p.ExpectedNextPeriod.StartDate,
			EndDate:     p.ExpectedNextPeriod.EndDate,
			ManuallySet: true,
		}
	}
	if p.LastPeriodStart == nil {
		return nil
	}
	start := p.LastPeriodStart.AddDate(0, 0, p.CycleLength)
	end := start.AddDate(0, 0, p.PeriodLength-1)
	return &PeriodForecast{StartDate: start, EndDate: &end, ManuallySet: false}
}

// BuildView assembles the full derived read model for the owner.
func BuildView(p *entity.CycleProfile, now time.Time) CycleView {
	return CycleView{
		UserID:          p.UserID,
		CycleLength:     p.CycleLength,
		PeriodLength:    p.PeriodLength,
		IsTracking:      p.IsTracking,
		Periods:         p.Periods,
		LastPeriodStart: p.LastPeriodStart,
		LastPeriodEnd:   p.LastPeriodEnd,
		CurrentCycleDay: CurrentCycleDay(p, now),
		CurrentPhase:    CurrentPhase(p, now),
		FertileWindow:   NextFertileWindow(p),
		NextPeriod:      NextPeriod(p),
		ShareWith:       p.ShareWith,
	}
}

// daysBetween rounds the span between two instants to whole days.
func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
