package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"assignbot/internal/storage"
	logx "assignbot/pkg/logx"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// pruner drops error-log entries older than the retention window on a
// cron schedule.
type pruner struct {
	store     storage.Store
	retention time.Duration
	log       logx.Logger
	now       func() time.Time

	c *cron.Cron
}

func newPruner(store storage.Store, retention time.Duration, spec string, log logx.Logger) (*pruner, error) {
	p := &pruner{store: store, retention: retention, log: log, now: time.Now}
	p.c = cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := p.c.AddFunc(spec, func() { p.runOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("storage.prune_schedule: %w", err)
	}
	return p, nil
}

func (p *pruner) runOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	before := p.now().Add(-p.retention)
	n, err := p.store.PruneErrors(ctx, before)
	if err != nil {
		p.log.Warn("error-log prune failed", logx.Err(err))
		return 0
	}
	if n > 0 {
		p.log.Info("error log pruned", logx.Int64("removed", n), logx.Duration("retention", p.retention))
	}
	return n
}

// run starts the schedule and blocks until ctx is done.
func (p *pruner) run(ctx context.Context) error {
	p.c.Start()
	<-ctx.Done()
	<-p.c.Stop().Done()
	return nil
}
