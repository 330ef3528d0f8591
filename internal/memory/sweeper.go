package memory

import (
	"context"

	"github.com/adhocore/gronx/pkg/tasker"

	"github.com/mirabackend/mira/internal/logging"
)

// defaultSweepSchedule runs the TTL sweeper every 10 minutes, per
// SPEC_FULL.md §4.B.
const defaultSweepSchedule = "*/10 * * * *"

// StartSweeper runs SweepExpired on a cron schedule until ctx is canceled.
// Pass an empty schedule to use the default every-10-minutes cadence.
func (s *Store) StartSweeper(ctx context.Context, schedule string) {
	if schedule == "" {
		schedule = defaultSweepSchedule
	}

	taskr := tasker.New(tasker.Option{Verbose: false})
	taskr.Task(schedule, func() (int, error) {
		s.SweepExpired(ctx)
		return 0, nil
	})

	logging.Info().Str("schedule", schedule).Msg("observation TTL sweeper started")
	go taskr.Run()
	go func() {
		<-ctx.Done()
		taskr.Stop()
	}()
}
