package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/logger"
)

// dailyKeyTTL outlives a calendar day so a replica with a skewed clock cannot
// claim the same date twice.
const dailyKeyTTL = 25 * time.Hour

// StockReconciler runs the full stock reconciliation once a day at a
// configured local time. With a locker, at most one replica runs per day.
type StockReconciler struct {
	reconciler *ReconciliationService
	locker     Locker
	hour       int
	minute     int
	location   *time.Location
	interval   time.Duration
	logger     *logger.Logger
	now        func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStockReconciler creates a new daily reconciliation scheduler
func NewStockReconciler(reconciler *ReconciliationService, locker Locker, cfg *config.ReconciliationConfig, log *logger.Logger) *StockReconciler {
	s := &StockReconciler{
		reconciler: reconciler,
		locker:     locker,
		hour:       cfg.Hour,
		minute:     cfg.Minute,
		location:   cfg.Location(),
		interval:   cfg.CheckInterval,
		logger:     log.WithComponent("stock-reconciler"),
		now:        time.Now,
	}
	// A replica started after today's slot waits for tomorrow.
	s.lastRun = s.now()
	return s
}

// Start starts the scheduler in a background goroutine
func (s *StockReconciler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().
			Str("time", fmt.Sprintf("%02d:%02d", s.hour, s.minute)).
			Str("timezone", s.location.String()).
			Dur("check_interval", s.interval).
			Msg("stock reconciler started")

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("stock reconciler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop stops the scheduler and waits for an in-flight run to finish
func (s *StockReconciler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// slot returns today's scheduled time in the configured timezone
func (s *StockReconciler) slot(now time.Time) time.Time {
	local := now.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.location)
}

// due reports whether today's slot has passed without a run
func (s *StockReconciler) due(now time.Time) bool {
	slot := s.slot(now)
	s.mu.Lock()
	defer s.mu.Unlock()
	return !now.Before(slot) && s.lastRun.Before(slot)
}

// tick runs the reconciliation if it is due. It reports whether a run happened.
// A failed run gives the day back so a later tick, on this or another
// replica, tries again.
func (s *StockReconciler) tick(ctx context.Context) bool {
	now := s.now()
	if !s.due(now) {
		return false
	}

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	slot := s.slot(now)
	key := "stock-reconciliation:daily:" + slot.Format("2006-01-02")
	owner := slot.Format(time.RFC3339)
	if s.locker != nil {
		claimed, err := s.locker.AcquireLock(ctx, key, owner, dailyKeyTTL)
		if err != nil {
			// Retry on the next tick rather than skip the day.
			s.resetLastRun()
			s.logger.Error().Err(err).Msg("failed to claim daily reconciliation")
			return false
		}
		if !claimed {
			s.logger.Debug().Str("date", slot.Format("2006-01-02")).Msg("daily reconciliation already claimed by another replica")
			return false
		}
	}

	s.logger.Info().Time("slot", slot).Msg("starting scheduled stock reconciliation")
	if _, err := s.reconciler.RunExclusive(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Info().Msg("skipping scheduled reconciliation, a run is already in progress")
			return false
		}
		s.logger.Error().Err(err).Msg("scheduled stock reconciliation failed, will retry")
		s.resetLastRun()
		if s.locker != nil {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.locker.ReleaseLock(releaseCtx, key, owner); err != nil {
				s.logger.Error().Err(err).Str("date", slot.Format("2006-01-02")).Msg("failed to release daily reconciliation claim")
			}
		}
		return false
	}
	return true
}

func (s *StockReconciler) resetLastRun() {
	s.mu.Lock()
	s.lastRun = time.Time{}
	s.mu.Unlock()
}
