// Package documents renders customer-facing documents for signed contracts.
package documents

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/phpdave11/gofpdf"
)

// Company identifies the issuer printed in the document header.
type Company struct {
	Name    string
	Address string
}

// Proforma is everything printed on a proforma invoice.
type Proforma struct {
	Company  Company
	Contract domain.Contract
	Booking  domain.Booking
	Currency string
	Location *time.Location
}

// Filename returns the download name for the document.
func (p Proforma) Filename() string {
	return safeFilenamePart(p.Contract.Reference) + ".pdf"
}

// RenderProforma builds the A4 proforma PDF for a signed contract.
func RenderProforma(p Proforma) ([]byte, error) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	c := p.Contract
	b := p.Booking

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr("Proforma "+c.Reference), false)
	pdf.SetAuthor(tr(p.Company.Name), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 8, tr(safe(p.Company.Name, "-")))
	pdf.Ln(7)
	if p.Company.Address != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(p.Company.Address), "", "", false)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "PROFORMA")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	line(pdf, tr, "Reference", c.Reference)
	line(pdf, tr, "Dossier", b.Reference)
	line(pdf, tr, "Date", c.SignedAt.In(loc).Format("02/01/2006 15:04"))
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, tr("Client"))
	pdf.Ln(7)
	pdf.SetFont("Helvetica", "", 11)
	billing := c.Billing
	if billing.Company != "" {
		pdf.Cell(0, 6, tr(billing.Company))
		pdf.Ln(6)
	}
	pdf.Cell(0, 6, tr(safe(billing.Name, c.SignerName)))
	pdf.Ln(6)
	pdf.Cell(0, 6, tr(billing.Address))
	pdf.Ln(6)
	pdf.Cell(0, 6, tr(strings.TrimSpace(billing.PostalCode+" "+billing.City+" "+billing.Country)))
	pdf.Ln(6)
	if billing.VATNumber != "" {
		line(pdf, tr, "TVA", billing.VATNumber)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, tr("Trajet"))
	pdf.Ln(7)
	pdf.SetFont("Helvetica", "", 11)
	line(pdf, tr, "Départ", fmt.Sprintf("%s -> %s", b.Origin, b.Destination))
	dates := b.DepartureDate.Format("02/01/2006")
	if b.ReturnDate != nil {
		dates += " - " + b.ReturnDate.Format("02/01/2006")
	}
	line(pdf, tr, "Dates", dates)
	line(pdf, tr, "Passagers", fmt.Sprint(b.Passengers))
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, tr("Montants"))
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	amountRow(pdf, tr, "Total HT", c.PriceHT, p.Currency)
	amountRow(pdf, tr, "TVA", c.PriceTTC-c.PriceHT, p.Currency)
	pdf.SetFont("Helvetica", "B", 11)
	amountRow(pdf, tr, "Total TTC", c.PriceTTC, p.Currency)
	pdf.SetFont("Helvetica", "", 11)
	amountRow(pdf, tr, fmt.Sprintf("Acompte (%d%%)", c.DepositPercent), c.DepositAmount, p.Currency)
	amountRow(pdf, tr, "Solde", c.BalanceAmount, p.Currency)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, tr(fmt.Sprintf("Signé électroniquement par %s le %s. Mode de paiement : %s.",
		c.SignerName, c.SignedAt.In(loc).Format("02/01/2006 à 15:04"), c.PaymentMethod)), "", "", false)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render proforma %s: %w", c.Reference, err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write proforma %s: %w", c.Reference, err)
	}
	return buf.Bytes(), nil
}

func line(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.Cell(40, 6, tr(label))
	pdf.Cell(0, 6, tr(": "+safe(value, "-")))
	pdf.Ln(6)
}

func amountRow(pdf *gofpdf.Fpdf, tr func(string) string, label string, amount int64, currency string) {
	pdf.CellFormat(120, 7, tr(label), "B", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, domain.FormatMinor(amount)+" "+currency, "B", 1, "R", false, 0, "")
}

func safe(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "proforma"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
