// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartAuditScheduler replays every ledger on a fixed interval and logs mismatches.
// The caller shuts the returned scheduler down.
func (s *LedgerService) StartAuditScheduler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			runCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()

			bad, err := s.AuditAll(runCtx)
			if err != nil {
				s.log.Error("[Scheduler] ledger audit aborted", zap.Error(err))
				return
			}
			if len(bad) > 0 {
				s.log.Warn("[Scheduler] ledger audit found inconsistent balances", zap.Int("count", len(bad)))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	s.log.Info("[Scheduler] ledger audit scheduled", zap.Duration("interval", interval))
	return sched, nil
}
