package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Closer periodically sweeps due disputes and freezes their verdicts. It is
// safe to run several closers against the same database: the verdict write
// is a compare-and-set, so only one of them applies each verdict.
type Closer struct {
	service  *Service
	interval time.Duration
	workers  int
}

func NewCloser(service *Service, interval time.Duration) *Closer {
	return &Closer{service: service, interval: interval, workers: 4}
}

// Run blocks until ctx is done, closing due disputes every interval.
func (c *Closer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	zap.L().Info("dispute closer started", zap.Duration("interval", c.interval))
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("dispute closer stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.sweep(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("closer sweep", zap.Error(err))
			}
		}
	}
}

func (c *Closer) sweep(ctx context.Context) error {
	ids, err := c.service.disputes.ListDue(ctx, c.service.votingWindow)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			verdict, err := c.service.CloseIfDue(ctx, id)
			if err != nil {
				zap.L().Error("close dispute",
					zap.String("dispute_id", id),
					zap.Error(err))
				return nil
			}
			zap.L().Info("dispute closed",
				zap.String("dispute_id", id),
				zap.String("verdict", string(verdict)))
			return nil
		})
	}
	return g.Wait()
}
