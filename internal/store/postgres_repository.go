/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Money columns are NUMERIC(12,2) in the database and int64 minor units in Go; every
 * query converts at the SQL boundary (`ROUND(col * 100)::bigint` on read,
 * `$n::numeric / 100` on write).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrBookingNotFound     = fmt.Errorf("booking %w", domain.ErrNotFound)
	ErrQuoteNotFound       = fmt.Errorf("quote %w", domain.ErrNotFound)
	ErrContractNotFound    = fmt.Errorf("contract %w", domain.ErrNotFound)
	ErrPaymentLinkNotFound = fmt.Errorf("payment link %w", domain.ErrNotFound)
	ErrBookingLocked       = fmt.Errorf("booking already has collected payments: %w", domain.ErrConflict)
)

const uniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// FindBookingByID retrieves a booking by its ID.
func (r *PostgresRepository) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	query := `
		SELECT id, reference, customer_name, email, phone, origin, destination,
			departure_date, return_date, passengers,
			ROUND(price_ttc * 100)::bigint, ROUND(price_ht * 100)::bigint,
			ROUND(deposit_amount * 100)::bigint, ROUND(balance_amount * 100)::bigint,
			status, carrier_id, signer_name, payment_method, billing, created_at, updated_at
		FROM bookings
		WHERE id = $1
	`
	var b domain.Booking
	var billing []byte
	err := r.db.QueryRow(ctx, query, bookingID).Scan(
		&b.ID, &b.Reference, &b.CustomerName, &b.Email, &b.Phone, &b.Origin, &b.Destination,
		&b.DepartureDate, &b.ReturnDate, &b.Passengers,
		&b.PriceTTC, &b.PriceHT, &b.DepositAmount, &b.BalanceAmount,
		&b.Status, &b.CarrierID, &b.SignerName, &b.PaymentMethod, &billing, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if len(billing) > 0 {
		var info domain.Billing
		if err := json.Unmarshal(billing, &info); err != nil {
			return nil, fmt.Errorf("decode billing for booking %s: %w", bookingID, err)
		}
		b.Billing = &info
	}
	return &b, nil
}

// quoteOptionRow is the jsonb shape written by the CRM: unit costs are decimal currency units.
type quoteOptionRow struct {
	Code     string  `json:"code"`
	Label    string  `json:"label"`
	Status   string  `json:"status"`
	UnitCost float64 `json:"unit_cost"`
	Unit     string  `json:"unit"`
}

func decodeQuoteOptions(raw []byte) ([]domain.QuoteOption, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []quoteOptionRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	options := make([]domain.QuoteOption, 0, len(rows))
	for _, row := range rows {
		unit := row.Unit
		if unit == "" {
			unit = domain.UnitFlat
		}
		options = append(options, domain.QuoteOption{
			Code:     row.Code,
			Label:    row.Label,
			Status:   row.Status,
			UnitCost: domain.ToMinor(row.UnitCost),
			Unit:     unit,
		})
	}
	return options, nil
}

// FindQuoteByID retrieves a quote by its ID.
func (r *PostgresRepository) FindQuoteByID(ctx context.Context, quoteID uuid.UUID) (*domain.Quote, error) {
	query := `
		SELECT id, booking_id, carrier_id, ROUND(price * 100)::bigint,
			CASE WHEN original_price IS NULL THEN NULL ELSE ROUND(original_price * 100)::bigint END,
			promo_expires_at, vat_rate::float8, vehicle, duration_days, nights, driver_count,
			options, status, accepted_at
		FROM quotes
		WHERE id = $1
	`
	var q domain.Quote
	var options []byte
	err := r.db.QueryRow(ctx, query, quoteID).Scan(
		&q.ID, &q.BookingID, &q.CarrierID, &q.Price, &q.OriginalPrice,
		&q.PromoExpiresAt, &q.VATRate, &q.Vehicle, &q.DurationDays, &q.Nights, &q.DriverCount,
		&options, &q.Status, &q.AcceptedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuoteNotFound
		}
		return nil, err
	}
	if q.Options, err = decodeQuoteOptions(options); err != nil {
		return nil, fmt.Errorf("decode options for quote %s: %w", quoteID, err)
	}
	return &q, nil
}

// IssueContract accepts the quote, inserts the contract, reprices the booking and writes the
// timeline entry in one transaction. The booking row is locked so concurrent signatures get
// distinct contract references.
func (r *PostgresRepository) IssueContract(ctx context.Context, params IssueContractParams) (*domain.Contract, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var bookingRef, status string
	err = tx.QueryRow(ctx, `SELECT reference, status FROM bookings WHERE id = $1 FOR UPDATE`, params.BookingID).Scan(&bookingRef, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("lock booking: %w", err)
	}
	if !domain.AcceptsSignature(status) {
		return nil, ErrBookingLocked
	}

	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM contracts WHERE booking_id = $1`, params.BookingID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count contracts: %w", err)
	}
	reference := domain.ProformaReference(bookingRef, existing+1)

	result, err := tx.Exec(ctx, `
		UPDATE quotes
		SET status = $3, accepted_at = COALESCE(accepted_at, $4)
		WHERE id = $1 AND booking_id = $2
	`, params.QuoteID, params.BookingID, domain.QuoteStatusAccepted, params.SignedAt)
	if err != nil {
		return nil, fmt.Errorf("accept quote: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrQuoteNotFound
	}

	billing, err := json.Marshal(params.Billing)
	if err != nil {
		return nil, err
	}
	options := params.OptionsJSON
	if len(options) == 0 {
		options = []byte("[]")
	}

	contract := &domain.Contract{
		ID:             uuid.New(),
		BookingID:      params.BookingID,
		QuoteID:        params.QuoteID,
		Reference:      reference,
		PriceTTC:       params.PriceTTC,
		PriceHT:        params.PriceHT,
		DepositAmount:  params.DepositAmount,
		BalanceAmount:  params.BalanceAmount,
		DepositPercent: params.DepositPercent,
		SignerName:     params.SignerName,
		SignerIP:       params.SignerIP,
		SignerAgent:    params.SignerAgent,
		Billing:        params.Billing,
		PaymentMethod:  params.PaymentMethod,
		SignedAt:       params.SignedAt,
		Status:         domain.ContractStatusActive,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO contracts (
			id, booking_id, quote_id, reference, price_ttc, price_ht, deposit_amount, balance_amount,
			deposit_percent, signer_name, signer_ip, signer_user_agent, billing, payment_method,
			options, signed_at, status
		)
		VALUES ($1, $2, $3, $4, $5::numeric / 100, $6::numeric / 100, $7::numeric / 100, $8::numeric / 100,
			$9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		contract.ID, contract.BookingID, contract.QuoteID, contract.Reference,
		contract.PriceTTC, contract.PriceHT, contract.DepositAmount, contract.BalanceAmount,
		contract.DepositPercent, contract.SignerName, contract.SignerIP, contract.SignerAgent,
		billing, contract.PaymentMethod, options, contract.SignedAt, contract.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert contract: %w", err)
	}

	nextStatus, _ := domain.Advance(status, domain.StatusPendingPayment)
	_, err = tx.Exec(ctx, `
		UPDATE bookings
		SET price_ttc = $2::numeric / 100, price_ht = $3::numeric / 100,
			deposit_amount = $4::numeric / 100, balance_amount = $5::numeric / 100,
			status = $6, billing = $7, payment_method = $8, signer_name = $9,
			carrier_id = COALESCE($10, carrier_id), updated_at = NOW()
		WHERE id = $1
	`,
		params.BookingID, params.PriceTTC, params.PriceHT, params.DepositAmount, params.BalanceAmount,
		nextStatus, billing, params.PaymentMethod, params.SignerName, params.CarrierID,
	)
	if err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}

	message := "Contract " + reference + " signed"
	if params.TimelineMessage != nil {
		message = params.TimelineMessage(reference)
	}
	if err := insertTimelineTx(ctx, tx, params.BookingID, domain.TimelineContractSigned, message, params.SignedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return contract, nil
}

// FindContractByReference retrieves a contract of a booking by its proforma reference.
func (r *PostgresRepository) FindContractByReference(ctx context.Context, bookingID uuid.UUID, reference string) (*domain.Contract, error) {
	query := `
		SELECT id, booking_id, quote_id, reference,
			ROUND(price_ttc * 100)::bigint, ROUND(price_ht * 100)::bigint,
			ROUND(deposit_amount * 100)::bigint, ROUND(balance_amount * 100)::bigint,
			deposit_percent, signer_name, signer_ip, signer_user_agent, billing, payment_method,
			signed_at, status
		FROM contracts
		WHERE booking_id = $1 AND reference = $2
	`
	var c domain.Contract
	var billing []byte
	err := r.db.QueryRow(ctx, query, bookingID, reference).Scan(
		&c.ID, &c.BookingID, &c.QuoteID, &c.Reference,
		&c.PriceTTC, &c.PriceHT, &c.DepositAmount, &c.BalanceAmount,
		&c.DepositPercent, &c.SignerName, &c.SignerIP, &c.SignerAgent, &billing, &c.PaymentMethod,
		&c.SignedAt, &c.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(billing, &c.Billing); err != nil {
		return nil, fmt.Errorf("decode billing for contract %s: %w", reference, err)
	}
	return &c, nil
}

const paymentLinkColumns = `
	id, booking_id, installment_type, provider, provider_link_id, url,
	ROUND(amount * 100)::bigint, status, created_at, expires_at, paid_at
`

func scanPaymentLink(row pgx.Row) (*domain.PaymentLink, error) {
	var l domain.PaymentLink
	err := row.Scan(
		&l.ID, &l.BookingID, &l.InstallmentType, &l.Provider, &l.ProviderLinkID, &l.URL,
		&l.Amount, &l.Status, &l.CreatedAt, &l.ExpiresAt, &l.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// FindPendingPaymentLink returns the pending link for a (booking, installment type) pair.
func (r *PostgresRepository) FindPendingPaymentLink(ctx context.Context, bookingID uuid.UUID, installmentType string) (*domain.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + `
		FROM payment_links
		WHERE booking_id = $1 AND installment_type = $2 AND status = $3
	`
	link, err := scanPaymentLink(r.db.QueryRow(ctx, query, bookingID, installmentType, domain.LinkStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

// CreatePaymentLink inserts a pending link with its timeline entry. When another request won
// the race for the same (booking, installment type), the existing pending link is returned
// with created=false and nothing is written.
func (r *PostgresRepository) CreatePaymentLink(ctx context.Context, link domain.PaymentLink, timelineMessage string) (*domain.PaymentLink, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO payment_links (
			id, booking_id, installment_type, provider, provider_link_id, url, amount, status,
			created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric / 100, $8, $9, $10)
		RETURNING ` + paymentLinkColumns
	created, err := scanPaymentLink(tx.QueryRow(ctx, query,
		link.ID, link.BookingID, link.InstallmentType, link.Provider, link.ProviderLinkID, link.URL,
		link.Amount, domain.LinkStatusPending, link.CreatedAt, link.ExpiresAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			tx.Rollback(ctx)
			existing, findErr := r.FindPendingPaymentLink(ctx, link.BookingID, link.InstallmentType)
			if findErr != nil {
				return nil, false, fmt.Errorf("load concurrent pending link: %w", findErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert payment link: %w", err)
	}

	if err := insertTimelineTx(ctx, tx, link.BookingID, domain.TimelineLinkCreated, timelineMessage, link.CreatedAt); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// RecordPaymentLinkFailure moves a pending link to failed or expired. Links that are no
// longer pending (paid wins) are left alone and nothing else is written; the returned bool
// reports whether a link changed.
func (r *PostgresRepository) RecordPaymentLinkFailure(ctx context.Context, params RecordLinkFailureParams) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var result pgconn.CommandTag
	if params.ProviderLinkID != "" {
		result, err = tx.Exec(ctx, `
			UPDATE payment_links SET status = $3, updated_at = NOW()
			WHERE provider = $1 AND provider_link_id = $2 AND booking_id = $4 AND status = 'pending'
		`, params.Provider, params.ProviderLinkID, params.Status, params.BookingID)
	} else {
		result, err = tx.Exec(ctx, `
			UPDATE payment_links SET status = $3, updated_at = NOW()
			WHERE booking_id = $1 AND installment_type = $2 AND status = 'pending'
		`, params.BookingID, params.InstallmentType, params.Status)
	}
	if err != nil {
		return false, fmt.Errorf("update payment link status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	now := time.Now().UTC()
	if err := insertTimelineTx(ctx, tx, params.BookingID, params.TimelineKind, params.TimelineMessage, now); err != nil {
		return false, err
	}
	if n := params.Notification; n != nil {
		id := n.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO admin_notifications (id, booking_id, kind, title, body, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, n.BookingID, n.Kind, n.Title, n.Body, now)
		if err != nil {
			return false, fmt.Errorf("insert admin notification: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireOverduePaymentLinks marks pending links past their expiry as expired and writes one
// timeline entry per link. Rows locked by a concurrent payment are skipped.
func (r *PostgresRepository) ExpireOverduePaymentLinks(ctx context.Context, now time.Time, limit int) ([]domain.PaymentLink, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE payment_links SET status = 'expired', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM payment_links
			WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + paymentLinkColumns
	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("expire payment links: %w", err)
	}
	var expired []domain.PaymentLink
	for rows.Next() {
		link, err := scanPaymentLink(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, *link)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, link := range expired {
		message := fmt.Sprintf("Payment link %s (%s, %s) expired without payment", link.ProviderLinkID, link.InstallmentType, domain.FormatMinor(link.Amount))
		if err := insertTimelineTx(ctx, tx, link.BookingID, domain.TimelineLinkExpired, message, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

// PaymentExists reports whether a payment with this provider payment id was already recorded.
func (r *PostgresRepository) PaymentExists(ctx context.Context, providerPaymentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE provider_payment_id = $1)`, providerPaymentID).Scan(&exists)
	return exists, err
}

// RecordPayment applies a confirmed provider payment: it inserts the payment, closes the
// matching link and invoice, recomputes the amount paid and advances the booking. A unique
// violation on the provider payment id means a concurrent delivery already did all of it.
func (r *PostgresRepository) RecordPayment(ctx context.Context, params RecordPaymentParams) (*RecordPaymentResult, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	res := &RecordPaymentResult{PaymentID: uuid.New()}
	err = tx.QueryRow(ctx, `
		SELECT status, ROUND(price_ttc * 100)::bigint FROM bookings WHERE id = $1 FOR UPDATE
	`, params.BookingID).Scan(&res.PreviousStatus, &res.PriceTTC)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("lock booking: %w", err)
	}

	var providerPaymentID *string
	if params.ProviderPaymentID != "" {
		providerPaymentID = &params.ProviderPaymentID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, booking_id, amount, type, installment_type, provider, provider_payment_id, status, paid_at)
		VALUES ($1, $2, $3::numeric / 100, $4, $5, $6, $7, $8, $9)
	`, res.PaymentID, params.BookingID, params.Amount, params.PaymentType, params.InstallmentType,
		params.Provider, providerPaymentID, domain.PaymentStatusCompleted, params.PaidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	var linkResult pgconn.CommandTag
	if params.ProviderLinkID != "" {
		// paid always wins: a late success also closes a link already marked failed or expired.
		linkResult, err = tx.Exec(ctx, `
			UPDATE payment_links SET status = 'paid', paid_at = $4, updated_at = NOW()
			WHERE provider = $1 AND provider_link_id = $2 AND booking_id = $3 AND status <> 'paid'
		`, params.Provider, params.ProviderLinkID, params.BookingID, params.PaidAt)
	} else {
		linkResult, err = tx.Exec(ctx, `
			UPDATE payment_links SET status = 'paid', paid_at = $3, updated_at = NOW()
			WHERE booking_id = $1 AND installment_type = $2 AND status = 'pending'
		`, params.BookingID, params.InstallmentType, params.PaidAt)
	}
	if err != nil {
		return nil, fmt.Errorf("mark payment link paid: %w", err)
	}
	res.LinkUpdated = linkResult.RowsAffected() > 0

	_, err = tx.Exec(ctx, `
		UPDATE invoices SET status = 'paid', paid_at = $3
		WHERE booking_id = $1 AND installment_type = $2 AND status = 'open'
	`, params.BookingID, params.InstallmentType, params.PaidAt)
	if err != nil {
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(ROUND(SUM(amount) * 100), 0)::bigint FROM payments WHERE booking_id = $1 AND status = $2
	`, params.BookingID, domain.PaymentStatusCompleted).Scan(&res.TotalPaid)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}

	res.Status = res.PreviousStatus
	if target := domain.StatusAfterPayment(res.TotalPaid, res.PriceTTC, params.InstallmentType); target != "" {
		res.Status, res.StatusChanged = domain.Advance(res.PreviousStatus, target)
	}
	if res.StatusChanged {
		if _, err := tx.Exec(ctx, `UPDATE bookings SET status = $2, updated_at = NOW() WHERE id = $1`, params.BookingID, res.Status); err != nil {
			return nil, fmt.Errorf("advance booking status: %w", err)
		}
	}

	if err := insertTimelineTx(ctx, tx, params.BookingID, domain.TimelinePaymentPaid, params.TimelineMessage, params.PaidAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyProcessed
		}
		return nil, err
	}
	return res, nil
}

func insertTimelineTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, kind, message string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO timeline_entries (id, booking_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), bookingID, kind, message, at)
	if err != nil {
		return fmt.Errorf("append timeline entry: %w", err)
	}
	return nil
}
