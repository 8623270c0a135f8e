/**
 * @description
 * Scheduled job implementations for the settlement-service.
 */
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"go.uber.org/zap"
)

// LinkExpiryRepository is the store surface the expiry sweep needs.
type LinkExpiryRepository interface {
	ExpireOverduePaymentLinks(ctx context.Context, now time.Time, limit int) ([]domain.PaymentLink, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      LinkExpiryRepository
	logger    *zap.Logger
	batchSize int
	timeout   time.Duration
	now       func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo LinkExpiryRepository, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		repo:      repo,
		logger:    logger,
		batchSize: 200,
		timeout:   2 * time.Minute,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ExpireOverdueLinks marks every pending link past its expiry as expired, batch by batch.
func (j *Jobs) ExpireOverdueLinks(ctx context.Context) (int, error) {
	now := j.now()
	total := 0
	for {
		expired, err := j.repo.ExpireOverduePaymentLinks(ctx, now, j.batchSize)
		if err != nil {
			return total, fmt.Errorf("expire overdue payment links: %w", err)
		}
		total += len(expired)
		for _, link := range expired {
			j.logger.Info("payment link expired",
				zap.String("component", "jobs"),
				zap.String("booking_id", link.BookingID.String()),
				zap.String("provider", link.Provider),
				zap.String("installment_type", link.InstallmentType),
			)
		}
		if len(expired) < j.batchSize {
			return total, nil
		}
	}
}

// ProcessLinkExpiry is the cron entry point for ExpireOverdueLinks.
func (j *Jobs) ProcessLinkExpiry() {
	j.logger.Info("starting payment link expiry job", zap.String("component", "jobs"))
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	count, err := j.ExpireOverdueLinks(ctx)
	if err != nil {
		j.logger.Error("payment link expiry job failed", zap.String("component", "jobs"), zap.Int("expired", count), zap.Error(err))
		return
	}
	j.logger.Info("payment link expiry job finished", zap.String("component", "jobs"), zap.Int("expired", count))
}
