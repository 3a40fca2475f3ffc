package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReservationSweeper periodically releases reservations stuck in
// pending_payment past the reservation TTL, so abandoned payment flows
// can never permanently consume seats.
type ReservationSweeper struct {
	enrollments *EnrollmentService
	interval    time.Duration
	logger      *zap.Logger
	stopChan    chan struct{}
}

func NewReservationSweeper(enrollments *EnrollmentService, interval time.Duration, logger *zap.Logger) *ReservationSweeper {
	return &ReservationSweeper{
		enrollments: enrollments,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

func (s *ReservationSweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *ReservationSweeper) Stop() {
	close(s.stopChan)
}

func (s *ReservationSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("reservation sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("reservation sweeper cancelled")
			return
		}
	}
}

func (s *ReservationSweeper) sweep(ctx context.Context) {
	released, err := s.enrollments.ReleaseExpired(ctx)
	if err != nil {
		s.logger.Error("sweep expired reservations", zap.Error(err))
		return
	}
	if released > 0 {
		s.logger.Info("released expired reservations", zap.Int("count", released))
	}
}
