package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/busquote/settlement-service/internal/store"
	"github.com/google/uuid"
)

// memoryRepo is an in-memory store.Repository with the same write rules as the
// PostgreSQL implementation: one pending link per (booking, type), unique provider
// payment ids, paid-wins link precedence and forward-only booking status.
type memoryRepo struct {
	store.Repository

	mu            sync.Mutex
	bookings      map[uuid.UUID]*domain.Booking
	quotes        map[uuid.UUID]*domain.Quote
	contracts     []domain.Contract
	links         []*domain.PaymentLink
	payments      []domain.Payment
	timeline      []domain.TimelineEntry
	notifications []domain.AdminNotification
	invoicesPaid  []string

	recordPaymentErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		bookings: map[uuid.UUID]*domain.Booking{},
		quotes:   map[uuid.UUID]*domain.Quote{},
	}
}

func (m *memoryRepo) addBooking(b domain.Booking) *domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	m.bookings[b.ID] = &b
	return &b
}

func (m *memoryRepo) addQuote(q domain.Quote) *domain.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	m.quotes[q.ID] = &q
	return &q
}

func (m *memoryRepo) addLink(l domain.PaymentLink) *domain.PaymentLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	m.links = append(m.links, &l)
	return &l
}

func (m *memoryRepo) booking(id uuid.UUID) domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memoryRepo) linkByProviderID(id string) domain.PaymentLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ProviderLinkID == id {
			return *l
		}
	}
	return domain.PaymentLink{}
}

func (m *memoryRepo) counts() (payments, timeline, notifications, links int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments), len(m.timeline), len(m.notifications), len(m.links)
}

func (m *memoryRepo) appendTimeline(bookingID uuid.UUID, kind, message string, at time.Time) {
	m.timeline = append(m.timeline, domain.TimelineEntry{ID: uuid.New(), BookingID: bookingID, Kind: kind, Message: message, CreatedAt: at})
}

func (m *memoryRepo) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, store.ErrBookingNotFound
	}
	clone := *b
	return &clone, nil
}

func (m *memoryRepo) FindQuoteByID(ctx context.Context, quoteID uuid.UUID) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[quoteID]
	if !ok {
		return nil, store.ErrQuoteNotFound
	}
	clone := *q
	return &clone, nil
}

func (m *memoryRepo) IssueContract(ctx context.Context, p store.IssueContractParams) (*domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[p.BookingID]
	if !ok {
		return nil, store.ErrBookingNotFound
	}
	if !domain.AcceptsSignature(b.Status) {
		return nil, store.ErrBookingLocked
	}
	q, ok := m.quotes[p.QuoteID]
	if !ok || q.BookingID != b.ID {
		return nil, store.ErrQuoteNotFound
	}
	n := 1
	for _, c := range m.contracts {
		if c.BookingID == b.ID {
			n++
		}
	}
	ref := domain.ProformaReference(b.Reference, n)

	q.Status = domain.QuoteStatusAccepted
	if q.AcceptedAt == nil {
		at := p.SignedAt
		q.AcceptedAt = &at
	}
	c := domain.Contract{
		ID: uuid.New(), BookingID: b.ID, QuoteID: q.ID, Reference: ref,
		PriceTTC: p.PriceTTC, PriceHT: p.PriceHT, DepositAmount: p.DepositAmount, BalanceAmount: p.BalanceAmount,
		DepositPercent: p.DepositPercent, SignerName: p.SignerName, SignerIP: p.SignerIP, SignerAgent: p.SignerAgent,
		Billing: p.Billing, PaymentMethod: p.PaymentMethod, SignedAt: p.SignedAt, Status: domain.ContractStatusActive,
	}
	m.contracts = append(m.contracts, c)

	b.PriceTTC, b.PriceHT = p.PriceTTC, p.PriceHT
	b.DepositAmount, b.BalanceAmount = p.DepositAmount, p.BalanceAmount
	b.Status, _ = domain.Advance(b.Status, domain.StatusPendingPayment)
	billing := p.Billing
	b.Billing = &billing
	signer, method := p.SignerName, p.PaymentMethod
	b.SignerName, b.PaymentMethod = &signer, &method

	m.appendTimeline(b.ID, domain.TimelineContractSigned, p.TimelineMessage(ref), p.SignedAt)
	return &c, nil
}

func (m *memoryRepo) FindContractByReference(ctx context.Context, bookingID uuid.UUID, reference string) (*domain.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contracts {
		if c.BookingID == bookingID && c.Reference == reference {
			clone := c
			return &clone, nil
		}
	}
	return nil, store.ErrContractNotFound
}

func (m *memoryRepo) FindPendingPaymentLink(ctx context.Context, bookingID uuid.UUID, installmentType string) (*domain.PaymentLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.BookingID == bookingID && l.InstallmentType == installmentType && l.Status == domain.LinkStatusPending {
			clone := *l
			return &clone, nil
		}
	}
	return nil, store.ErrPaymentLinkNotFound
}

func (m *memoryRepo) CreatePaymentLink(ctx context.Context, link domain.PaymentLink, timelineMessage string) (*domain.PaymentLink, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.BookingID == link.BookingID && l.InstallmentType == link.InstallmentType && l.Status == domain.LinkStatusPending {
			clone := *l
			return &clone, false, nil
		}
	}
	link.Status = domain.LinkStatusPending
	stored := link
	m.links = append(m.links, &stored)
	m.appendTimeline(link.BookingID, domain.TimelineLinkCreated, timelineMessage, link.CreatedAt)
	return &link, true, nil
}

func (m *memoryRepo) RecordPaymentLinkFailure(ctx context.Context, p store.RecordLinkFailureParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, l := range m.links {
		if l.BookingID != p.BookingID || l.Status != domain.LinkStatusPending {
			continue
		}
		if p.ProviderLinkID != "" {
			if l.Provider != p.Provider || l.ProviderLinkID != p.ProviderLinkID {
				continue
			}
		} else if l.InstallmentType != p.InstallmentType {
			continue
		}
		l.Status = p.Status
		changed = true
	}
	if !changed {
		return false, nil
	}
	now := time.Now().UTC()
	m.appendTimeline(p.BookingID, p.TimelineKind, p.TimelineMessage, now)
	if p.Notification != nil {
		n := *p.Notification
		n.ID, n.CreatedAt = uuid.New(), now
		m.notifications = append(m.notifications, n)
	}
	return true, nil
}

func (m *memoryRepo) ExpireOverduePaymentLinks(ctx context.Context, now time.Time, limit int) ([]domain.PaymentLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []domain.PaymentLink
	for _, l := range m.links {
		if len(expired) == limit {
			break
		}
		if l.Status == domain.LinkStatusPending && l.IsExpiredAt(now) {
			l.Status = domain.LinkStatusExpired
			expired = append(expired, *l)
			m.appendTimeline(l.BookingID, domain.TimelineLinkExpired, "expired", now)
		}
	}
	return expired, nil
}

func (m *memoryRepo) PaymentExists(ctx context.Context, providerPaymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) RecordPayment(ctx context.Context, p store.RecordPaymentParams) (*store.RecordPaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordPaymentErr != nil {
		return nil, m.recordPaymentErr
	}
	b, ok := m.bookings[p.BookingID]
	if !ok {
		return nil, store.ErrBookingNotFound
	}
	for _, existing := range m.payments {
		if existing.ProviderPaymentID != nil && *existing.ProviderPaymentID == p.ProviderPaymentID {
			return nil, domain.ErrAlreadyProcessed
		}
	}
	providerID := p.ProviderPaymentID
	m.payments = append(m.payments, domain.Payment{
		ID: uuid.New(), BookingID: b.ID, Amount: p.Amount, Type: p.PaymentType, InstallmentType: p.InstallmentType,
		Provider: p.Provider, ProviderPaymentID: &providerID, Status: domain.PaymentStatusCompleted, PaidAt: p.PaidAt,
	})

	res := &store.RecordPaymentResult{PreviousStatus: b.Status, PriceTTC: b.PriceTTC}
	for _, l := range m.links {
		if l.BookingID != b.ID {
			continue
		}
		match := false
		if p.ProviderLinkID != "" {
			match = l.Provider == p.Provider && l.ProviderLinkID == p.ProviderLinkID && l.Status != domain.LinkStatusPaid
		} else {
			match = l.InstallmentType == p.InstallmentType && l.Status == domain.LinkStatusPending
		}
		if match {
			l.Status = domain.LinkStatusPaid
			at := p.PaidAt
			l.PaidAt = &at
			res.LinkUpdated = true
		}
	}
	m.invoicesPaid = append(m.invoicesPaid, p.InstallmentType)

	for _, pay := range m.payments {
		if pay.BookingID == b.ID && pay.Status == domain.PaymentStatusCompleted {
			res.TotalPaid += pay.Amount
		}
	}
	res.Status = b.Status
	if target := domain.StatusAfterPayment(res.TotalPaid, b.PriceTTC, p.InstallmentType); target != "" {
		res.Status, res.StatusChanged = domain.Advance(b.Status, target)
	}
	b.Status = res.Status
	m.appendTimeline(b.ID, domain.TimelinePaymentPaid, p.TimelineMessage, p.PaidAt)
	return res, nil
}

// recordingDispatcher captures dispatched events.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatchedEvent
}

type dispatchedEvent struct {
	routingKey string
	payload    interface{}
}

func (d *recordingDispatcher) Dispatch(routingKey string, payload interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatchedEvent{routingKey: routingKey, payload: payload})
}

func (d *recordingDispatcher) keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.events))
	for _, e := range d.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

// publisherFunc adapts a function to rabbitmq.Publisher.
type publisherFunc func(ctx context.Context, exchange, routingKey string, body interface{}) error

func (f publisherFunc) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return f(ctx, exchange, routingKey, body)
}

func (f publisherFunc) Close() {}

var errBrokerDown = fmt.Errorf("broker down")
