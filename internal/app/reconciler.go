/**
 * @description
 * This file implements the shared webhook reconciliation pipeline:
 *
 *   authenticate -> parse -> resolve booking -> deduplicate -> apply
 *
 * Provider specifics live behind ProviderAdapter; everything after Parse works on the
 * provider-neutral domain.PaymentEvent. Precedence between conflicting events on the same
 * link is "paid wins": failures and expiries only ever touch links that are still pending,
 * while a success closes the link whatever its previous state.
 *
 * @dependencies
 * - internal/store: Idempotent payment recording.
 * - go.uber.org/zap: Structured logging.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/busquote/settlement-service/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProviderAdapter authenticates and normalizes one provider's webhook calls.
type ProviderAdapter interface {
	Name() string
	Authenticate(body []byte, header http.Header) bool
	// Parse returns an error wrapping domain.ErrMalformedPayload when the body cannot be read.
	Parse(ctx context.Context, body []byte, header http.Header) (domain.PaymentEvent, error)
}

// Reconciliation outcomes reported back to the webhook handler.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeNotFound  = "not_found"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Outcome describes what a webhook delivery did. Err is set for logged failures that are
// still acknowledged to the provider.
type Outcome struct {
	Status string
	Event  domain.PaymentEvent
	Err    error
}

// Reconciler applies provider payment events to bookings exactly once.
type Reconciler struct {
	repo       store.Repository
	dispatcher EventDispatcher
	currency   string
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconciler creates a new reconciler.
func NewReconciler(repo store.Repository, dispatcher EventDispatcher, currency string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		repo:       repo,
		dispatcher: dispatcher,
		currency:   strings.ToUpper(currency),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle runs one delivery through the pipeline. The returned error is non-nil only for
// domain.ErrSignatureInvalid and for a body the adapter cannot parse; every other failure
// is logged and reported in the Outcome so the provider is acknowledged.
func (r *Reconciler) Handle(ctx context.Context, adapter ProviderAdapter, body []byte, header http.Header) (Outcome, error) {
	provider := adapter.Name()
	log := r.logger.With(zap.String("component", "reconciler"), zap.String("provider", provider))

	if !adapter.Authenticate(body, header) {
		log.Warn("webhook signature rejected")
		return Outcome{Status: OutcomeRejected}, domain.ErrSignatureInvalid
	}

	event, err := adapter.Parse(ctx, body, header)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			log.Warn("malformed webhook payload", zap.Error(err))
			return Outcome{Status: OutcomeRejected}, err
		}
		log.Error("webhook could not be resolved", zap.Error(err))
		return Outcome{Status: OutcomeError, Err: err}, nil
	}
	log = log.With(zap.String("provider_payment_id", event.ExternalID), zap.String("kind", event.Kind))

	if event.Kind == domain.EventUnknown || event.Kind == "" {
		log.Info("ignoring webhook event", zap.String("raw_status", event.RawStatus))
		return Outcome{Status: OutcomeIgnored, Event: event}, nil
	}

	// The body itself parsed; an unusable event is acknowledged so the provider stops retrying.
	if err := validateEvent(event); err != nil {
		log.Warn("webhook event cannot be applied", zap.Error(err))
		return Outcome{Status: OutcomeRejected, Event: event, Err: err}, nil
	}
	bookingID, err := uuid.Parse(event.BookingID)
	if err != nil {
		log.Warn("webhook carries an invalid dossier_id", zap.String("dossier_id", event.BookingID))
		return Outcome{Status: OutcomeRejected, Event: event, Err: fmt.Errorf("dossier_id %q: %w", event.BookingID, domain.ErrMalformedPayload)}, nil
	}
	log = log.With(zap.String("booking_id", bookingID.String()), zap.String("installment_type", event.InstallmentType))

	booking, err := r.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("webhook references an unknown booking")
			return Outcome{Status: OutcomeNotFound, Event: event, Err: err}, nil
		}
		log.Error("failed to load booking", zap.Error(err))
		return Outcome{Status: OutcomeError, Event: event, Err: err}, nil
	}

	if ref := strings.TrimSpace(event.Reference); ref != "" && ref != strings.TrimSpace(booking.Reference) {
		log.Warn("webhook reference does not match booking",
			zap.String("event_reference", event.Reference),
			zap.String("booking_reference", booking.Reference),
		)
		return Outcome{Status: OutcomeRejected, Event: event, Err: domain.ErrForbidden}, nil
	}

	if event.ExternalID != "" {
		exists, err := r.repo.PaymentExists(ctx, event.ExternalID)
		if err != nil {
			log.Error("payment dedupe lookup failed", zap.Error(err))
			return Outcome{Status: OutcomeError, Event: event, Err: err}, nil
		}
		if exists {
			log.Info("duplicate webhook delivery")
			return Outcome{Status: OutcomeDuplicate, Event: event}, nil
		}
	}

	switch event.Kind {
	case domain.EventSucceeded:
		return r.applySuccess(ctx, log, booking, event), nil
	default:
		return r.applyFailure(ctx, log, booking, event), nil
	}
}

func validateEvent(event domain.PaymentEvent) error {
	if strings.TrimSpace(event.BookingID) == "" {
		return fmt.Errorf("missing dossier_id: %w", domain.ErrMalformedPayload)
	}
	if _, err := uuid.Parse(event.BookingID); err != nil {
		return fmt.Errorf("dossier_id %q: %w", event.BookingID, domain.ErrMalformedPayload)
	}
	if event.Kind == domain.EventSucceeded {
		if event.ExternalID == "" {
			return fmt.Errorf("missing payment id: %w", domain.ErrMalformedPayload)
		}
		if event.AmountMinor <= 0 {
			return fmt.Errorf("missing or non-positive amount: %w", domain.ErrMalformedPayload)
		}
	}
	if event.ExternalID == "" && event.LinkID == "" && event.InstallmentType == "" {
		return fmt.Errorf("event identifies no payment or link: %w", domain.ErrMalformedPayload)
	}
	if event.InstallmentType != "" && !domain.IsValidInstallmentType(event.InstallmentType) {
		return fmt.Errorf("unknown installment type %q: %w", event.InstallmentType, domain.ErrMalformedPayload)
	}
	if event.Kind == domain.EventSucceeded && event.InstallmentType == "" {
		return fmt.Errorf("missing installment type: %w", domain.ErrMalformedPayload)
	}
	return nil
}

func (r *Reconciler) applySuccess(ctx context.Context, log *zap.Logger, booking *domain.Booking, event domain.PaymentEvent) Outcome {
	if event.Currency != "" && r.currency != "" && !strings.EqualFold(event.Currency, r.currency) {
		log.Error("payment currency does not match booking currency", zap.String("currency", event.Currency))
		return Outcome{Status: OutcomeRejected, Event: event, Err: fmt.Errorf("currency %s: %w", event.Currency, domain.ErrForbidden)}
	}

	paidAt := r.now()
	res, err := r.repo.RecordPayment(ctx, store.RecordPaymentParams{
		BookingID:         booking.ID,
		Amount:            event.AmountMinor,
		PaymentType:       domain.PaymentTypeCard,
		InstallmentType:   event.InstallmentType,
		Provider:          event.Provider,
		ProviderPaymentID: event.ExternalID,
		ProviderLinkID:    event.LinkID,
		PaidAt:            paidAt,
		TimelineMessage: fmt.Sprintf("Payment received (%s): %s %s via %s, payment id %s",
			event.InstallmentType, domain.FormatMinor(event.AmountMinor), r.currency, event.Provider, event.ExternalID),
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			log.Info("concurrent delivery already recorded this payment")
			return Outcome{Status: OutcomeDuplicate, Event: event}
		}
		log.Error("failed to record payment", zap.Error(err))
		return Outcome{Status: OutcomeError, Event: event, Err: err}
	}

	log.Info("payment recorded",
		zap.Int64("amount", event.AmountMinor),
		zap.Int64("total_paid", res.TotalPaid),
		zap.String("previous_status", res.PreviousStatus),
		zap.String("status", res.Status),
		zap.Bool("link_updated", res.LinkUpdated),
	)

	if r.dispatcher != nil {
		r.dispatcher.Dispatch(RoutingPaymentConfirmed, PaymentConfirmedEvent{
			BookingID:         booking.ID,
			BookingReference:  booking.Reference,
			Email:             booking.Email,
			Provider:          event.Provider,
			ProviderPaymentID: event.ExternalID,
			InstallmentType:   event.InstallmentType,
			Amount:            event.AmountMinor,
			TotalPaid:         res.TotalPaid,
			PriceTTC:          res.PriceTTC,
			PreviousStatus:    res.PreviousStatus,
			Status:            res.Status,
			Currency:          r.currency,
			PaidAt:            paidAt,
		})
	}
	return Outcome{Status: OutcomeProcessed, Event: event}
}

func (r *Reconciler) applyFailure(ctx context.Context, log *zap.Logger, booking *domain.Booking, event domain.PaymentEvent) Outcome {
	params := store.RecordLinkFailureParams{
		BookingID:       booking.ID,
		InstallmentType: event.InstallmentType,
		Provider:        event.Provider,
		ProviderLinkID:  event.LinkID,
	}
	if event.Kind == domain.EventFailed {
		params.Status = domain.LinkStatusFailed
		params.TimelineKind = domain.TimelinePaymentFailed
		params.TimelineMessage = fmt.Sprintf("Payment failed (%s) via %s, status %s", event.InstallmentType, event.Provider, event.RawStatus)
		bookingID := booking.ID
		params.Notification = &domain.AdminNotification{
			BookingID: &bookingID,
			Kind:      "payment_failed",
			Title:     "Payment failed for " + booking.Reference,
			Body: fmt.Sprintf("%s payment via %s failed (%s). Contact %s <%s>.",
				event.InstallmentType, event.Provider, event.RawStatus, booking.CustomerName, booking.Email),
		}
	} else {
		params.Status = domain.LinkStatusExpired
		params.TimelineKind = domain.TimelineLinkExpired
		params.TimelineMessage = fmt.Sprintf("Payment link expired (%s) via %s", event.InstallmentType, event.Provider)
	}

	changed, err := r.repo.RecordPaymentLinkFailure(ctx, params)
	if err != nil {
		log.Error("failed to record payment failure", zap.Error(err))
		return Outcome{Status: OutcomeError, Event: event, Err: err}
	}
	if !changed {
		log.Info("no pending link to update; event has no effect")
		return Outcome{Status: OutcomeDuplicate, Event: event}
	}

	log.Info("payment link closed", zap.String("link_status", params.Status))
	if event.Kind == domain.EventFailed && r.dispatcher != nil {
		r.dispatcher.Dispatch(RoutingPaymentFailed, PaymentFailedEvent{
			BookingID:         booking.ID,
			BookingReference:  booking.Reference,
			Provider:          event.Provider,
			ProviderPaymentID: event.ExternalID,
			ProviderLinkID:    event.LinkID,
			InstallmentType:   event.InstallmentType,
			RawStatus:         event.RawStatus,
			OccurredAt:        r.now(),
		})
	}
	return Outcome{Status: OutcomeProcessed, Event: event}
}
