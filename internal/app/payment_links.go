/**
 * @description
 * This file implements the payment link broker. It opens at most one pending hosted
 * checkout per (booking, installment type): it validates and authorizes every request
 * against the stored booking, reuses a live pending link, collapses concurrent identical
 * requests in-process and relies on the partial unique index for cross-instance races.
 *
 * @dependencies
 * - golang.org/x/sync/singleflight: Collapses duplicate in-flight creations.
 * - internal/store: Pending link lookup and persistence.
 * - go.uber.org/zap: Structured logging.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/busquote/settlement-service/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CheckoutProvider opens hosted checkout sessions with one payment provider.
type CheckoutProvider interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// CheckoutRequest is the provider-neutral checkout creation payload.
type CheckoutRequest struct {
	BookingID       uuid.UUID
	Reference       string
	InstallmentType string
	AmountMinor     int64
	Currency        string
	Description     string
	CustomerEmail   string
	CustomerName    string
	SuccessURL      string
	CancelURL       string
	WebhookURL      string
	ExpiresAt       time.Time
	IdempotencyKey  string
}

// Checkout is a session returned by the provider.
type Checkout struct {
	ID        string
	URL       string
	ExpiresAt *time.Time
}

// CreateLinkRequest carries the client's request to pay an installment.
type CreateLinkRequest struct {
	BookingID        string
	AmountMinor      int64
	InstallmentType  string
	CustomerEmail    string
	CustomerName     string
	BookingReference string
}

// CreateLinkResult is the link to redirect the client to.
type CreateLinkResult struct {
	Link   domain.PaymentLink
	Reused bool
}

// PaymentLinkServiceConfig groups the settings PaymentLinkService reads.
type PaymentLinkServiceConfig struct {
	Currency          string
	MaxAmountMinor    int64
	LinkTTL           time.Duration
	PublicBaseURL     string
	APIBaseURL        string
	RateLimitPerMin   int
	RateLimitDisabled bool
}

// PaymentLinkService is the payment link broker.
type PaymentLinkService struct {
	repo     store.Repository
	provider CheckoutProvider
	limiter  RateLimiter
	cfg      PaymentLinkServiceConfig
	logger   *zap.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewPaymentLinkService creates a new broker. limiter may be nil.
func NewPaymentLinkService(repo store.Repository, provider CheckoutProvider, limiter RateLimiter, cfg PaymentLinkServiceConfig, logger *zap.Logger) *PaymentLinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAmountMinor <= 0 {
		cfg.MaxAmountMinor = 100000 * domain.MinorPerUnit
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 48 * time.Hour
	}
	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	return &PaymentLinkService{
		repo:     repo,
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *PaymentLinkService) validate(req *CreateLinkRequest) (uuid.UUID, error) {
	req.InstallmentType = strings.ToLower(strings.TrimSpace(req.InstallmentType))
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.BookingReference = strings.TrimSpace(req.BookingReference)
	req.CustomerName = strings.TrimSpace(req.CustomerName)

	if req.AmountMinor <= 0 {
		return uuid.Nil, domain.Invalid("amount", "must be positive")
	}
	if req.AmountMinor > s.cfg.MaxAmountMinor {
		return uuid.Nil, domain.Invalid("amount", "exceeds the maximum of "+domain.FormatMinor(s.cfg.MaxAmountMinor))
	}
	if !domain.IsValidInstallmentType(req.InstallmentType) {
		return uuid.Nil, domain.Invalid("type", "must be acompte or solde")
	}
	bookingID, err := uuid.Parse(strings.TrimSpace(req.BookingID))
	if err != nil {
		return uuid.Nil, domain.Invalid("dossier_id", "must be a valid identifier")
	}
	if !strings.Contains(req.CustomerEmail, "@") {
		return uuid.Nil, domain.Invalid("email", "must be a valid email address")
	}
	return bookingID, nil
}

// CreateLink returns the pending checkout for the installment, creating it if needed.
func (s *PaymentLinkService) CreateLink(ctx context.Context, req CreateLinkRequest) (*CreateLinkResult, error) {
	bookingID, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	if err := s.throttle(ctx, bookingID); err != nil {
		return nil, err
	}

	// Every caller-supplied field is part of the key so a shared result was authorized
	// with exactly the same inputs.
	key := strings.Join([]string{
		bookingID.String(), req.InstallmentType, strings.ToLower(req.CustomerEmail),
		req.BookingReference, fmt.Sprint(req.AmountMinor),
	}, "|")
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.createLink(context.WithoutCancel(ctx), bookingID, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CreateLinkResult), nil
}

func (s *PaymentLinkService) throttle(ctx context.Context, bookingID uuid.UUID) error {
	if s.limiter == nil || s.cfg.RateLimitDisabled || s.cfg.RateLimitPerMin <= 0 {
		return nil
	}
	quota, err := s.limiter.ReserveLinkCreation(ctx, bookingID, s.cfg.RateLimitPerMin, time.Minute)
	if err != nil {
		s.logger.Warn("rate limiter unavailable; allowing request",
			zap.String("component", "payment_links"),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
		return nil
	}
	if !quota.Allowed {
		s.logger.Info("payment link creation throttled",
			zap.String("component", "payment_links"),
			zap.String("booking_id", bookingID.String()),
			zap.Int("used", quota.Used),
		)
		return &domain.RateLimitError{RetryAfterSeconds: quota.RetryAfterSeconds()}
	}
	return nil
}

func (s *PaymentLinkService) createLink(ctx context.Context, bookingID uuid.UUID, req CreateLinkRequest) (*CreateLinkResult, error) {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(booking.Email), req.CustomerEmail) ||
		strings.TrimSpace(booking.Reference) != req.BookingReference ||
		req.AmountMinor > booking.PriceTTC {
		s.logger.Warn("payment link request does not match booking",
			zap.String("component", "payment_links"),
			zap.String("booking_id", bookingID.String()),
		)
		return nil, domain.ErrForbidden
	}

	now := s.now()
	existing, err := s.repo.FindPendingPaymentLink(ctx, bookingID, req.InstallmentType)
	switch {
	case err == nil && !existing.IsExpiredAt(now):
		return &CreateLinkResult{Link: *existing, Reused: true}, nil
	case err == nil:
		if _, err := s.repo.RecordPaymentLinkFailure(ctx, store.RecordLinkFailureParams{
			BookingID:       bookingID,
			InstallmentType: existing.InstallmentType,
			Provider:        existing.Provider,
			ProviderLinkID:  existing.ProviderLinkID,
			Status:          domain.LinkStatusExpired,
			TimelineKind:    domain.TimelineLinkExpired,
			TimelineMessage: fmt.Sprintf("Payment link %s (%s) expired and was replaced", existing.ProviderLinkID, existing.InstallmentType),
		}); err != nil {
			return nil, fmt.Errorf("expire stale payment link: %w", err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find pending payment link: %w", err)
	}

	linkID := uuid.New()
	expiresAt := now.Add(s.cfg.LinkTTL)
	checkout, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		BookingID:       bookingID,
		Reference:       booking.Reference,
		InstallmentType: req.InstallmentType,
		AmountMinor:     req.AmountMinor,
		Currency:        s.cfg.Currency,
		Description:     checkoutDescription(req.InstallmentType, booking.Reference),
		CustomerEmail:   booking.Email,
		CustomerName:    firstNonEmpty(req.CustomerName, booking.CustomerName),
		SuccessURL:      s.portalURL(bookingID, "success", req.InstallmentType),
		CancelURL:       s.portalURL(bookingID, "cancel", req.InstallmentType),
		WebhookURL:      s.cfg.APIBaseURL + "/webhooks/" + s.provider.Name(),
		ExpiresAt:       expiresAt,
		IdempotencyKey:  linkID.String(),
	})
	if err != nil {
		s.logger.Error("checkout creation failed",
			zap.String("component", "payment_links"),
			zap.String("booking_id", bookingID.String()),
			zap.String("provider", s.provider.Name()),
			zap.String("installment_type", req.InstallmentType),
			zap.Error(err),
		)
		var providerErr *domain.ProviderError
		if errors.As(err, &providerErr) {
			return nil, err
		}
		return nil, &domain.ProviderError{Provider: s.provider.Name(), Message: err.Error(), Temporary: true}
	}
	if checkout.ExpiresAt != nil && checkout.ExpiresAt.Before(expiresAt) {
		expiresAt = *checkout.ExpiresAt
	}

	link := domain.PaymentLink{
		ID:              linkID,
		BookingID:       bookingID,
		InstallmentType: req.InstallmentType,
		Provider:        s.provider.Name(),
		ProviderLinkID:  checkout.ID,
		URL:             checkout.URL,
		Amount:          req.AmountMinor,
		Status:          domain.LinkStatusPending,
		CreatedAt:       now,
		ExpiresAt:       &expiresAt,
	}
	message := fmt.Sprintf("Payment link created for %s: %s %s via %s", req.InstallmentType, domain.FormatMinor(req.AmountMinor), s.cfg.Currency, s.provider.Name())
	saved, created, err := s.repo.CreatePaymentLink(ctx, link, message)
	if err != nil {
		return nil, fmt.Errorf("persist payment link: %w", err)
	}
	if !created {
		s.logger.Info("concurrent payment link won; returning existing",
			zap.String("component", "payment_links"),
			zap.String("booking_id", bookingID.String()),
			zap.String("installment_type", req.InstallmentType),
			zap.String("orphan_provider_link_id", checkout.ID),
		)
		return &CreateLinkResult{Link: *saved, Reused: true}, nil
	}

	s.logger.Info("payment link created",
		zap.String("component", "payment_links"),
		zap.String("booking_id", bookingID.String()),
		zap.String("provider", saved.Provider),
		zap.String("installment_type", saved.InstallmentType),
		zap.Int64("amount", saved.Amount),
	)
	return &CreateLinkResult{Link: *saved}, nil
}

func (s *PaymentLinkService) portalURL(bookingID uuid.UUID, outcome, installmentType string) string {
	return fmt.Sprintf("%s/bookings/%s/payment/%s?type=%s", s.cfg.PublicBaseURL, bookingID, outcome, url.QueryEscape(installmentType))
}

func checkoutDescription(installmentType, reference string) string {
	if installmentType == domain.InstallmentBalance {
		return "Solde " + reference
	}
	return "Acompte " + reference
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
