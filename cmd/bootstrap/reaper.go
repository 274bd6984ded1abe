package bootstrap

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reaper is what the scheduler prunes.
type Reaper interface {
	Reap(grace time.Duration) []string
}

// StartReaper runs target.Reap(grace) on schedule (standard cron or @every
// descriptors). Stop the returned cron on shutdown.
func StartReaper(schedule string, grace time.Duration, target Reaper, log *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(schedule, func() {
		if removed := target.Reap(grace); len(removed) > 0 {
			log.Debug("reaper pass", zap.Int("removed", len(removed)))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Info("failed-peer reaper scheduled", zap.String("schedule", schedule), zap.Duration("grace", grace))
	return c, nil
}
