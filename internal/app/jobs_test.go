package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type batchExpiryRepo struct {
	batches [][]domain.PaymentLink
	err     error
	calls   int
	limits  []int
}

func (r *batchExpiryRepo) ExpireOverduePaymentLinks(ctx context.Context, now time.Time, limit int) ([]domain.PaymentLink, error) {
	r.calls++
	r.limits = append(r.limits, limit)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.batches) == 0 {
		return nil, nil
	}
	batch := r.batches[0]
	r.batches = r.batches[1:]
	return batch, nil
}

func links(n int) []domain.PaymentLink {
	out := make([]domain.PaymentLink, n)
	for i := range out {
		out[i] = domain.PaymentLink{ID: uuid.New(), BookingID: uuid.New(), InstallmentType: domain.InstallmentDeposit}
	}
	return out
}

func TestExpireOverdueLinksBatches(t *testing.T) {
	tests := []struct {
		name      string
		batches   [][]domain.PaymentLink
		wantTotal int
		wantCalls int
	}{
		{"nothing due", nil, 0, 1},
		{"partial batch", [][]domain.PaymentLink{links(1)}, 1, 1},
		{"full then partial", [][]domain.PaymentLink{links(2), links(2), links(1)}, 5, 3},
		{"exact multiple", [][]domain.PaymentLink{links(2), links(2)}, 4, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &batchExpiryRepo{batches: tt.batches}
			jobs := NewJobs(repo, zap.NewNop())
			jobs.batchSize = 2

			total, err := jobs.ExpireOverdueLinks(context.Background())
			if err != nil {
				t.Fatalf("ExpireOverdueLinks returned error: %v", err)
			}
			if total != tt.wantTotal {
				t.Fatalf("expected total=%d, got %d", tt.wantTotal, total)
			}
			if repo.calls != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, repo.calls)
			}
		})
	}
}

func TestExpireOverdueLinksError(t *testing.T) {
	repo := &batchExpiryRepo{err: errors.New("db down")}
	jobs := NewJobs(repo, nil)

	if _, err := jobs.ExpireOverdueLinks(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	jobs.ProcessLinkExpiry()
	if repo.calls != 2 {
		t.Fatalf("expected the cron entry to run the sweep, got %d calls", repo.calls)
	}
}

func TestExpireOverdueLinksAgainstStore(t *testing.T) {
	repo := newMemoryRepo()
	booking := repo.addBooking(domain.Booking{Reference: "BQ-400", Status: domain.StatusPendingPayment})
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)
	repo.addLink(domain.PaymentLink{BookingID: booking.ID, InstallmentType: domain.InstallmentDeposit, ProviderLinkID: "old", Status: domain.LinkStatusPending, ExpiresAt: &past})
	repo.addLink(domain.PaymentLink{BookingID: booking.ID, InstallmentType: domain.InstallmentBalance, ProviderLinkID: "live", Status: domain.LinkStatusPending, ExpiresAt: &future})

	jobs := NewJobs(repo, nil)
	jobs.now = func() time.Time { return testNow }

	total, err := jobs.ExpireOverdueLinks(context.Background())
	if err != nil {
		t.Fatalf("ExpireOverdueLinks returned error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one expired link, got %d", total)
	}
	if repo.linkByProviderID("old").Status != domain.LinkStatusExpired {
		t.Fatalf("overdue link should be expired")
	}
	if repo.linkByProviderID("live").Status != domain.LinkStatusPending {
		t.Fatalf("live link must stay pending")
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(NewJobs(&batchExpiryRepo{}, nil), zap.NewNop(), "not a schedule")
	if err := s.Start(); err == nil {
		t.Fatalf("expected invalid schedule error")
	}

	ok := NewScheduler(NewJobs(&batchExpiryRepo{}, nil), zap.NewNop(), "@every 1h")
	if err := ok.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-ok.Stop().Done()
}

func TestSchedulerWithoutLogger(t *testing.T) {
	s := NewScheduler(NewJobs(&batchExpiryRepo{}, nil), nil, "@every 1h")
	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-s.Stop().Done()

	if err := NewScheduler(NewJobs(&batchExpiryRepo{}, nil), nil, "bogus").Start(); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}
