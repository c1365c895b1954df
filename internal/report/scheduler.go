package report

import (
	"context"
	"errors"
	"time"

	internalsettings "github.com/rasidhq/recharge/internal/settings"
	log "github.com/sirupsen/logrus"
)

const defaultRecheckInterval = time.Hour

// ErrNoGenerator is returned by a Scheduler built without a generator.
var ErrNoGenerator = errors.New("report: no generator")

// Scheduler runs the generator once a month at the configured day and hour.
type Scheduler struct {
	gen      *Generator
	schedule func() (day, hour int)
	now      func() time.Time
	recheck  time.Duration
}

// NewScheduler constructs a Scheduler reading its day and hour from the settings snapshot.
func NewScheduler(gen *Generator) *Scheduler {
	if gen == nil {
		return nil
	}
	return &Scheduler{
		gen:      gen,
		schedule: internalsettings.ReportSchedule,
		now:      time.Now,
		recheck:  defaultRecheckInterval,
	}
}

// Start launches the schedule loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	day, hour := s.schedule()
	log.Infof("monthly report scheduler started (day=%d hour=%d tz=%s)", day, hour, s.gen.loc)
}

// RunNow generates the report for the month before now.
func (s *Scheduler) RunNow(ctx context.Context) (*Summary, error) {
	if s == nil || s.gen == nil {
		return nil, ErrNoGenerator
	}
	return s.gen.Run(ctx, s.now())
}

func (s *Scheduler) run(ctx context.Context) {
	next := NextRun(s.now(), s.schedule, s.gen.loc)
	for {
		if ctx.Err() != nil {
			return
		}
		wait := next.Sub(s.now())
		if wait > s.recheck {
			wait = s.recheck
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}

		now := s.now()
		if now.Before(next) {
			// Settings may have moved the slot while waiting.
			next = NextRun(now, s.schedule, s.gen.loc)
			continue
		}
		if _, errRun := s.gen.Run(ctx, now); errRun != nil {
			log.WithError(errRun).Warn("monthly report scheduler: run failed")
		}
		next = NextRun(now.Add(time.Minute), s.schedule, s.gen.loc)
	}
}

// NextRun returns the first slot at or after now on the scheduled day and hour in loc.
func NextRun(now time.Time, schedule func() (day, hour int), loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	day, hour := schedule()
	local := now.In(loc)
	slot := time.Date(local.Year(), local.Month(), day, hour, 0, 0, 0, loc)
	if slot.Before(local) {
		slot = time.Date(local.Year(), local.Month()+1, day, hour, 0, 0, 0, loc)
	}
	return slot
}
