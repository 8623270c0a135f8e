/**
 * @description
 * This file implements contract issuance. Signing prices the accepted quote, persists the
 * contract together with the quote, booking and timeline writes in one repository call,
 * and only then hands the confirmation email to the dispatcher.
 *
 * @dependencies
 * - internal/pricing: Final price and deposit/balance split.
 * - internal/store: Transactional contract issuance.
 * - go.uber.org/zap: Structured logging.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/busquote/settlement-service/internal/pricing"
	"github.com/busquote/settlement-service/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignRequest carries the client's acceptance of a quote.
type SignRequest struct {
	BookingID       string          `json:"booking_id"`
	QuoteID         string          `json:"quote_id"`
	SignerName      string          `json:"signer_name"`
	Billing         domain.Billing  `json:"billing"`
	PaymentMethod   string          `json:"payment_method"`
	SelectedOptions map[string]bool `json:"selected_options"`
	ClientIP        string          `json:"-"`
	UserAgent       string          `json:"-"`

	// RequesterEmail is the authenticated client's email, empty when sessions are not enforced.
	RequesterEmail string `json:"-"`
}

// BookingSummary is echoed back for the client-side receipt.
type BookingSummary struct {
	ID            uuid.UUID  `json:"id"`
	Reference     string     `json:"reference"`
	CustomerName  string     `json:"customer_name"`
	Email         string     `json:"email"`
	Origin        string     `json:"origin"`
	Destination   string     `json:"destination"`
	DepartureDate time.Time  `json:"departure_date"`
	ReturnDate    *time.Time `json:"return_date,omitempty"`
	Passengers    int        `json:"passengers"`
	Status        string     `json:"status"`
}

// SignResult is the computed breakdown plus the contract reference.
type SignResult struct {
	ContractReference string         `json:"contract_reference"`
	SignedAt          time.Time      `json:"signed_at"`
	PaymentMethod     string         `json:"payment_method"`
	Currency          string         `json:"currency"`
	Pricing           pricing.Result `json:"pricing"`
	Booking           BookingSummary `json:"booking"`
}

// ContractService issues contracts.
type ContractService struct {
	repo          store.Repository
	dispatcher    EventDispatcher
	policy        pricing.Policy
	location      *time.Location
	currency      string
	publicBaseURL string
	logger        *zap.Logger
	now           func() time.Time
}

// ContractServiceConfig groups the settings ContractService reads.
type ContractServiceConfig struct {
	Policy        pricing.Policy
	Location      *time.Location
	Currency      string
	PublicBaseURL string
}

// NewContractService creates a new contract service instance.
func NewContractService(repo store.Repository, dispatcher EventDispatcher, cfg ContractServiceConfig, logger *zap.Logger) *ContractService {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &ContractService{
		repo:          repo,
		dispatcher:    dispatcher,
		policy:        cfg.Policy,
		location:      loc,
		currency:      cfg.Currency,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func validateSignRequest(req *SignRequest) (bookingID, quoteID uuid.UUID, err error) {
	bookingID, err = uuid.Parse(strings.TrimSpace(req.BookingID))
	if err != nil {
		return uuid.Nil, uuid.Nil, domain.Invalid("booking_id", "must be a valid identifier")
	}
	quoteID, err = uuid.Parse(strings.TrimSpace(req.QuoteID))
	if err != nil {
		return uuid.Nil, uuid.Nil, domain.Invalid("quote_id", "must be a valid identifier")
	}

	req.SignerName = strings.TrimSpace(req.SignerName)
	if req.SignerName == "" {
		return uuid.Nil, uuid.Nil, domain.Invalid("signer_name", "is required")
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !domain.IsValidPaymentType(req.PaymentMethod) {
		return uuid.Nil, uuid.Nil, domain.Invalid("payment_method", "must be one of cb, virement, especes, cheque")
	}

	b := &req.Billing
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		b.Name = req.SignerName
	}
	b.Address = strings.TrimSpace(b.Address)
	b.PostalCode = strings.TrimSpace(b.PostalCode)
	b.City = strings.TrimSpace(b.City)
	b.Country = strings.TrimSpace(b.Country)
	if b.Address == "" {
		return uuid.Nil, uuid.Nil, domain.Invalid("billing.address", "is required")
	}
	if b.City == "" {
		return uuid.Nil, uuid.Nil, domain.Invalid("billing.city", "is required")
	}
	if b.Country == "" {
		b.Country = "FR"
	}
	return bookingID, quoteID, nil
}

// Sign accepts a quote on behalf of the client and issues the contract.
func (s *ContractService) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	bookingID, quoteID, err := validateSignRequest(&req)
	if err != nil {
		return nil, err
	}

	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	quote, err := s.repo.FindQuoteByID(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("load quote: %w", err)
	}
	if quote.BookingID != booking.ID {
		return nil, fmt.Errorf("quote %s on booking %s: %w", quoteID, bookingID, store.ErrQuoteNotFound)
	}
	if req.RequesterEmail != "" && !strings.EqualFold(strings.TrimSpace(req.RequesterEmail), strings.TrimSpace(booking.Email)) {
		return nil, domain.ErrForbidden
	}
	if !domain.AcceptsSignature(booking.Status) {
		return nil, store.ErrBookingLocked
	}

	now := s.now()
	result := pricing.Calculate(pricing.Input{
		Quote:           *quote,
		DepartureDate:   booking.DepartureDate,
		SelectedOptions: req.SelectedOptions,
		Policy:          s.policy,
		Now:             now,
		Location:        s.location,
	})
	if result.PriceTTC <= 0 {
		return nil, domain.Invalid("quote_id", "quote has no price")
	}

	optionsJSON, err := json.Marshal(result.Options)
	if err != nil {
		return nil, fmt.Errorf("encode option lines: %w", err)
	}

	carrierID := quote.CarrierID
	if carrierID == nil {
		carrierID = booking.CarrierID
	}
	contract, err := s.repo.IssueContract(ctx, store.IssueContractParams{
		BookingID:      booking.ID,
		QuoteID:        quote.ID,
		CarrierID:      carrierID,
		PriceTTC:       result.PriceTTC,
		PriceHT:        result.PriceHT,
		DepositAmount:  result.DepositAmount,
		BalanceAmount:  result.BalanceAmount,
		DepositPercent: result.DepositPercent,
		SignerName:     req.SignerName,
		SignerIP:       req.ClientIP,
		SignerAgent:    req.UserAgent,
		Billing:        req.Billing,
		PaymentMethod:  req.PaymentMethod,
		OptionsJSON:    optionsJSON,
		SignedAt:       now,
		TimelineMessage: func(reference string) string {
			return contractTimelineMessage(reference, req.SignerName, req.PaymentMethod, s.currency, result)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("issue contract: %w", err)
	}

	s.logger.Info("contract signed",
		zap.String("component", "contracts"),
		zap.String("booking_id", booking.ID.String()),
		zap.String("contract_reference", contract.Reference),
		zap.Int64("price_ttc", result.PriceTTC),
		zap.Int("deposit_percent", result.DepositPercent),
	)

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(RoutingContractSigned, ContractSignedEvent{
			BookingID:         booking.ID,
			BookingReference:  booking.Reference,
			ContractReference: contract.Reference,
			Email:             booking.Email,
			CustomerName:      booking.CustomerName,
			SignerName:        req.SignerName,
			PriceTTC:          result.PriceTTC,
			DepositAmount:     result.DepositAmount,
			BalanceAmount:     result.BalanceAmount,
			DepositPercent:    result.DepositPercent,
			PaymentMethod:     req.PaymentMethod,
			PaymentURL:        s.paymentPageURL(booking.ID, domain.InstallmentDeposit),
			Currency:          s.currency,
			SignedAt:          now,
		})
	}

	status, _ := domain.Advance(booking.Status, domain.StatusPendingPayment)
	return &SignResult{
		ContractReference: contract.Reference,
		SignedAt:          now,
		PaymentMethod:     req.PaymentMethod,
		Currency:          s.currency,
		Pricing:           result,
		Booking: BookingSummary{
			ID:            booking.ID,
			Reference:     booking.Reference,
			CustomerName:  booking.CustomerName,
			Email:         booking.Email,
			Origin:        booking.Origin,
			Destination:   booking.Destination,
			DepartureDate: booking.DepartureDate,
			ReturnDate:    booking.ReturnDate,
			Passengers:    booking.Passengers,
			Status:        status,
		},
	}, nil
}

func (s *ContractService) paymentPageURL(bookingID uuid.UUID, installmentType string) string {
	return fmt.Sprintf("%s/bookings/%s/pay?type=%s", s.publicBaseURL, bookingID, url.QueryEscape(installmentType))
}

func contractTimelineMessage(reference, signer, paymentMethod, currency string, r pricing.Result) string {
	return fmt.Sprintf("Contract %s signed by %s: total %s %s, deposit %s (%d%%), balance %s, payment %s",
		reference, signer, domain.FormatMinor(r.PriceTTC), currency,
		domain.FormatMinor(r.DepositAmount), r.DepositPercent, domain.FormatMinor(r.BalanceAmount), paymentMethod)
}

// ContractDocument loads a signed contract together with its booking for rendering.
func (s *ContractService) ContractDocument(ctx context.Context, bookingID uuid.UUID, reference string) (*domain.Contract, *domain.Booking, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil, domain.Invalid("reference", "is required")
	}
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, nil, fmt.Errorf("load booking: %w", err)
	}
	contract, err := s.repo.FindContractByReference(ctx, bookingID, reference)
	if err != nil {
		return nil, nil, fmt.Errorf("load contract: %w", err)
	}
	return contract, booking, nil
}

// Location is the zone contract dates are printed in.
func (s *ContractService) Location() *time.Location { return s.location }

// Currency is the ISO code amounts are expressed in.
func (s *ContractService) Currency() string { return s.currency }
