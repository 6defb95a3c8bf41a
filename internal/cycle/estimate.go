package cycle

import (
	"math"

	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
)

// The length estimates follow observations with exponential smoothing; an
// observation outside the sane domain is treated as an outlier and ignored.
const (
	smoothingKeep  = 0.7
	smoothingBlend = 0.3
)

func smooth(current, observed int) int {
	return int(math.Round(smoothingKeep*float64(current) + smoothingBlend*float64(observed)))
}

// SmoothedCycleLength blends an observed start-to-start gap into the current
// cycle length estimate. Gaps outside [21,45] days leave it unchanged.
func SmoothedCycleLength(current, observedDays int) int {
	if observedDays < entity.MinCycleLength || observedDays > entity.MaxCycleLength {
		return current
	}
	return smooth(current, observedDays)
}

// SmoothedPeriodLength blends an observed period duration into the current
// period length estimate. Durations outside [1,10] days leave it unchanged.
func SmoothedPeriodLength(current, observedDays int) int {
	if observedDays < entity.MinPeriodLength || observedDays > entity.MaxPeriodLength {
		return current
	}
	return smooth(current, observedDays)
}

// RebuiltCycleLength re-estimates the cycle length from the gaps between the
// three most recent periods. Historical entries can arrive out of order, so
// this is a batch mean over valid gaps rather than an incremental blend.
// With no valid gap the current estimate is kept.
func RebuiltCycleLength(periods []entity.Period, current int) int {
	n := len(periods)
	if n < 2 {
		return current
	}
	recent := periods
	if n > 3 {
		recent = periods[n-3:]
	}
	var sum, count int
	for i := 1; i < len(recent); i++ {
		gap := daysBetween(recent[i-1].StartDate, recent[i].StartDate)
		if gap < entity.MinCycleLength || gap > entity.MaxCycleLength {
			continue
		}
		sum += gap
		count++
	}
	if count == 0 {
		return current
	}
	return int(math.Round(float64(sum) / float64(count)))
}
