// Package storage durably commits finalized series. Commit failures are
// retried with backoff: a completed series must never be silently lost.
package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gomokuhub/match-backend/internal/match"
)

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SeriesRecord{}, &GameRecord{}, &RankDeltaRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// SaveSeriesResult writes the series, its games and both rank deltas in one
// transaction. Idempotent on the series id, so a retry after a half-seen
// failure cannot double-apply.
func (s *Store) SaveSeriesResult(ctx context.Context, res match.Result) error {
	rec := RecordFor(res)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

// SaveSeriesResultWithRetry keeps trying with doubling backoff until the
// commit lands or ctx expires.
func (s *Store) SaveSeriesResultWithRetry(ctx context.Context, res match.Result) error {
	backoff := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := s.SaveSeriesResult(ctx, res)
		if err == nil {
			if attempt > 1 {
				s.log.Info("series committed after retry",
					zap.String("series_id", res.Series.ID),
					zap.Int("attempts", attempt))
			}
			return nil
		}
		s.log.Warn("series commit failed",
			zap.String("series_id", res.Series.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
