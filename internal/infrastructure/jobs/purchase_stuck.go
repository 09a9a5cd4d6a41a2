package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	"metamarket.backend/pkg/logger"
)

const stuckBatchSize = 100

type inFlightAttemptStore interface {
	GetInFlightBefore(ctx context.Context, before time.Time, limit int) ([]*entities.PurchaseAttempt, error)
	MarkStuck(ctx context.Context, ids []uuid.UUID) error
}

// PurchaseStuckJob marks attempts that stopped advancing as STUCK so that
// operators can reconcile them against the chain
type PurchaseStuckJob struct {
	repo       inFlightAttemptStore
	interval   time.Duration
	stuckAfter time.Duration
	now        func() time.Time
	stop       chan struct{}
}

func NewPurchaseStuckJob(repo inFlightAttemptStore, interval, stuckAfter time.Duration) *PurchaseStuckJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PurchaseStuckJob{
		repo:       repo,
		interval:   interval,
		stuckAfter: stuckAfter,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

func (j *PurchaseStuckJob) Start(ctx context.Context) {
	logger.Info(ctx, "Starting purchase stuck job",
		zap.Duration("interval", j.interval),
		zap.Duration("stuck_after", j.stuckAfter),
	)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Purchase stuck job stopped (context cancelled)")
			return
		case <-j.stop:
			logger.Info(ctx, "Purchase stuck job stopped")
			return
		case <-ticker.C:
			j.processStuckAttempts(ctx)
		}
	}
}

func (j *PurchaseStuckJob) Stop() {
	close(j.stop)
}

func (j *PurchaseStuckJob) processStuckAttempts(ctx context.Context) {
	cutoff := j.now().Add(-j.stuckAfter)
	stale, err := j.repo.GetInFlightBefore(ctx, cutoff, stuckBatchSize)
	if err != nil {
		logger.Error(ctx, "Failed to fetch in-flight purchase attempts", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(stale))
	for _, attempt := range stale {
		ids = append(ids, attempt.ID)
	}
	if err := j.repo.MarkStuck(ctx, ids); err != nil {
		logger.Error(ctx, "Failed to mark purchase attempts stuck", zap.Error(err))
		return
	}

	logger.Warn(ctx, "Marked purchase attempts stuck",
		zap.Int("count", len(ids)),
		zap.Time("cutoff", cutoff),
	)
}
