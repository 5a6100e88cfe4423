package cache

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StartSweeper schedules Sweep on the given cron spec. An empty spec
// disables the sweeper and returns a nil scheduler.
func StartSweeper(s *Store, spec string, log *zap.Logger) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		purged, err := s.Sweep(context.Background())
		if err != nil {
			log.Error("cache sweep failed", zap.Error(err))
			return
		}
		if purged > 0 {
			log.Info("cache sweep purged expired entries", zap.Int("purged", purged))
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid sweep schedule %q", spec)
	}

	c.Start()
	log.Info("cache sweeper scheduled", zap.String("schedule", spec))
	return c, nil
}
