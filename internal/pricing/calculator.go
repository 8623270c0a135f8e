// Package pricing turns an accepted quote and the client's option choices into the final
// VAT-inclusive price and its deposit/balance split. It has no side effects.
package pricing

import (
	"math"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
)

// Policy is the payment-policy configuration applied at signature time.
type Policy struct {
	DepositPercent           int
	FullPaymentThresholdDays int
}

// Input bundles everything the calculator needs. Now and Location are explicit so results
// are reproducible in tests.
type Input struct {
	Quote           domain.Quote
	DepartureDate   time.Time
	SelectedOptions map[string]bool
	Policy          Policy
	Now             time.Time
	Location        *time.Location
}

// OptionLine is one itemized add-on, kept for the receipt and the audit trail.
type OptionLine struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Unit     string `json:"unit"`
	UnitCost int64  `json:"unit_cost"`
	Quantity int    `json:"quantity"`
	Total    int64  `json:"total"`
}

// Result is the computed breakdown. All amounts are minor units.
type Result struct {
	BasePrice          int64        `json:"base_price"`
	PromoExpired       bool         `json:"promo_expired"`
	OptionsTotal       int64        `json:"options_total"`
	PriceTTC           int64        `json:"price_ttc"`
	PriceHT            int64        `json:"price_ht"`
	VATRate            float64      `json:"vat_rate"`
	DaysUntilDeparture int          `json:"days_until_departure"`
	DepositPercent     int          `json:"deposit_percent"`
	DepositAmount      int64        `json:"deposit_amount"`
	BalanceAmount      int64        `json:"balance_amount"`
	Options            []OptionLine `json:"options"`
}

// Calculate computes the final price and installment split.
func Calculate(in Input) Result {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	base, promoExpired := basePrice(in.Quote, in.Now)

	lines := optionLines(in.Quote, in.SelectedOptions)
	var optionsTotal int64
	for _, line := range lines {
		optionsTotal += line.Total
	}

	final := base + optionsTotal
	days := CalendarDaysBetween(in.Now, in.DepartureDate, loc)

	percent := in.Policy.DepositPercent
	if days <= in.Policy.FullPaymentThresholdDays {
		percent = 100
	}
	deposit := depositAmount(final, percent)

	return Result{
		BasePrice:          base,
		PromoExpired:       promoExpired,
		OptionsTotal:       optionsTotal,
		PriceTTC:           final,
		PriceHT:            excludeVAT(final, in.Quote.VATRate),
		VATRate:            in.Quote.VATRate,
		DaysUntilDeparture: days,
		DepositPercent:     percent,
		DepositAmount:      deposit,
		BalanceAmount:      final - deposit,
		Options:            lines,
	}
}

func basePrice(q domain.Quote, now time.Time) (int64, bool) {
	if q.PromoExpiresAt == nil || q.OriginalPrice == nil || *q.OriginalPrice <= 0 {
		return q.Price, false
	}
	if now.Before(*q.PromoExpiresAt) {
		return q.Price, false
	}
	return *q.OriginalPrice, true
}

func optionLines(q domain.Quote, selected map[string]bool) []OptionLine {
	drivers := q.DriverCount
	if drivers < 1 {
		drivers = 1
	}
	days := q.DurationDays
	if days < 1 {
		days = 1
	}
	nights := q.Nights
	if nights < 0 {
		nights = 0
	}

	lines := make([]OptionLine, 0, len(q.Options))
	for _, opt := range q.Options {
		if opt.Status != domain.OptionNotIncluded || !selected[opt.Code] {
			continue
		}
		qty := 1
		switch opt.Unit {
		case domain.UnitPerDriver:
			qty = drivers
		case domain.UnitPerNight:
			qty = nights * drivers
		case domain.UnitMeal:
			qty = days * 2 * drivers
		}
		lines = append(lines, OptionLine{
			Code:     opt.Code,
			Label:    opt.Label,
			Unit:     opt.Unit,
			UnitCost: opt.UnitCost,
			Quantity: qty,
			Total:    opt.UnitCost * int64(qty),
		})
	}
	return lines
}

// excludeVAT returns final / (1 + rate/100) rounded to the cent.
func excludeVAT(final int64, rate float64) int64 {
	if rate <= 0 {
		return final
	}
	return int64(math.Round(float64(final) / (1 + rate/100)))
}

// depositAmount rounds half up to the cent; the balance is derived from it, never rounded
// on its own.
func depositAmount(final int64, percent int) int64 {
	if percent >= 100 {
		return final
	}
	if percent <= 0 || final <= 0 {
		return 0
	}
	return (final*int64(percent) + 50) / 100
}

// CalendarDaysBetween counts calendar days from today (now read in loc) to the calendar
// date of target. Departure dates are stored as plain dates, so target is not shifted.
// Negative when the departure is in the past.
func CalendarDaysBetween(now, target time.Time, loc *time.Location) int {
	ny, nm, nd := now.In(loc).Date()
	ty, tm, td := target.Date()
	from := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
