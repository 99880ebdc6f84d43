package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes rows older than a cutoff and reports how many were removed.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob removes processed calls and processing events older than the
// retention window. It runs on a configurable interval (default: 1 hour).
type RetentionJob struct {
	pruners   map[string]Pruner
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewRetentionJob creates a job that prunes every named Pruner.
func NewRetentionJob(pruners map[string]Pruner, retention, interval time.Duration, logger *zap.Logger) *RetentionJob {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionJob{
		pruners:   pruners,
		retention: retention,
		interval:  interval,
		logger:    logger.Named("retention"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background job.
func (j *RetentionJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Info("started", zap.Duration("interval", j.interval), zap.Duration("retention", j.retention))
}

// Stop gracefully stops the background job.
func (j *RetentionJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("stopped")
}

func (j *RetentionJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.RunOnce(context.Background())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// RunOnce prunes every table once. Errors are logged and do not stop the
// remaining pruners.
func (j *RetentionJob) RunOnce(ctx context.Context) map[string]int64 {
	cutoff := j.now().Add(-j.retention)
	removed := make(map[string]int64, len(j.pruners))

	for name, p := range j.pruners {
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := p.PruneBefore(pctx, cutoff)
		cancel()
		if err != nil {
			j.logger.Warn("prune failed", zap.String("table", name), zap.Error(err))
			continue
		}
		removed[name] = n
		if n > 0 {
			j.logger.Info("pruned rows", zap.String("table", name), zap.Int64("rows", n), zap.Time("cutoff", cutoff))
		}
	}
	return removed
}
