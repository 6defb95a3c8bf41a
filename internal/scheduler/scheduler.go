package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lunara-app/service-cycle-go/internal/cycle"
	"github.com/lunara-app/service-cycle-go/internal/cycle/entity"
	"github.com/lunara-app/service-cycle-go/internal/notification"
)

// Service sends daily prediction-based reminders to profile owners. It is
// read-only with respect to profiles; all writes stay with the orchestrator.
type Service struct {
	store    cycle.Store
	notifier notification.Notifier
	logger   *zap.SugaredLogger

	now func() time.Time
}

func New(store cycle.Store, notifier notification.Notifier, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Start schedules RunDaily on the given cron spec and starts the runner.
func (s *Service) Start(spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.RunDaily); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// RunDaily walks every stored profile and nudges owners whose calculated
// prediction lands on today: fertile window opening, ovulation day, or a
// period expected in two days.
func (s *Service) RunDaily() {
	ctx := context.Background()
	ids, err := s.store.UserIDs(ctx)
	if err != nil {
		s.logger.Warnw("reminder scan failed", "err", err)
		return
	}
	today := entity.DateOnly(s.now())

	for _, userID := range ids {
		p, _, err := s.store.Get(ctx, userID)
		if err != nil {
			s.logger.Debugw("reminder skip", "user_id", userID, "err", err)
			continue
		}
		if !p.IsTracking {
			continue
		}

		window := cycle.NextFertileWindow(p)
		forecast := cycle.NextPeriod(p)

		switch {
		case window != nil && sameDay(today, window.Start):
			s.send(ctx, userID, "fertile_window_open", "Fertile window", "The fertile window opens today.")
		case window != nil && sameDay(today, window.Ovulation):
			s.send(ctx, userID, "ovulation_day", "Ovulation", "Today is the predicted ovulation day.")
		case forecast != nil && sameDay(today, entity.DateOnly(forecast.StartDate.AddDate(0, 0, -2))):
			s.send(ctx, userID, "period_due_soon", "Period reminder", "The next period is expected in two days.")
		}
	}
}

func (s *Service) send(ctx context.Context, userID, evType, title, message string) {
	ev := notification.NewEvent(evType, title, message, nil)
	if err := s.notifier.Notify(ctx, userID, ev); err != nil {
		s.logger.Warnw("reminder delivery failed", "user_id", userID, "event", evType, "err", err)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
