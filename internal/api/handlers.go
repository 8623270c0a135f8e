/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API endpoints.
 * Handlers decode requests, call the application services and write the response; the
 * mapping from domain errors to status codes lives in writeServiceError only.
 *
 * @dependencies
 * - internal/app: Contract issuance, payment links, webhook reconciliation, jobs.
 * - internal/documents: Proforma PDF rendering.
 * - go.uber.org/zap: Structured logging.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/busquote/settlement-service/internal/app"
	"github.com/busquote/settlement-service/internal/documents"
	"github.com/busquote/settlement-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// ContractSigner issues contracts and loads them back for rendering.
type ContractSigner interface {
	Sign(ctx context.Context, req app.SignRequest) (*app.SignResult, error)
	ContractDocument(ctx context.Context, bookingID uuid.UUID, reference string) (*domain.Contract, *domain.Booking, error)
	Location() *time.Location
	Currency() string
}

// LinkCreator opens payment links.
type LinkCreator interface {
	CreateLink(ctx context.Context, req app.CreateLinkRequest) (*app.CreateLinkResult, error)
}

// WebhookReconciler applies provider webhooks.
type WebhookReconciler interface {
	Handle(ctx context.Context, adapter app.ProviderAdapter, body []byte, header http.Header) (app.Outcome, error)
}

// LinkExpirer runs the overdue link sweep.
type LinkExpirer interface {
	ExpireOverdueLinks(ctx context.Context) (int, error)
}

// Handlers holds the application services the handlers use.
type Handlers struct {
	contracts  ContractSigner
	links      LinkCreator
	reconciler WebhookReconciler
	adapters   map[string]app.ProviderAdapter
	expirer    LinkExpirer
	company    documents.Company
	logger     *zap.Logger
}

// HandlersDeps groups the Handlers dependencies.
type HandlersDeps struct {
	Contracts  ContractSigner
	Links      LinkCreator
	Reconciler WebhookReconciler
	Adapters   []app.ProviderAdapter
	Expirer    LinkExpirer
	Company    documents.Company
	Logger     *zap.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(deps HandlersDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	adapters := make(map[string]app.ProviderAdapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		adapters[a.Name()] = a
	}
	return &Handlers{
		contracts:  deps.Contracts,
		links:      deps.Links,
		reconciler: deps.Reconciler,
		adapters:   adapters,
		expirer:    deps.Expirer,
		company:    deps.Company,
		logger:     logger.With(zap.String("component", "api")),
	}
}

// SignContractHandler accepts a quote and issues the contract.
func (h *Handlers) SignContractHandler(w http.ResponseWriter, r *http.Request) {
	var req app.SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ClientIP = clientIP(r)
	req.UserAgent = r.UserAgent()
	if email, ok := GetClientEmail(r.Context()); ok {
		req.RequesterEmail = email
	}

	result, err := h.contracts.Sign(r.Context(), req)
	if err != nil {
		h.logger.Warn("contract signature rejected", zap.String("booking_id", req.BookingID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type createLinkPayload struct {
	DossierID string      `json:"dossier_id"`
	Amount    json.Number `json:"amount"`
	Type      string      `json:"type"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Reference string      `json:"reference"`
}

type paymentLinkResponse struct {
	URL             string     `json:"url"`
	ProviderLinkID  string     `json:"provider_link_id"`
	Provider        string     `json:"provider"`
	InstallmentType string     `json:"type"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Reused          bool       `json:"reused"`
}

// CreatePaymentLinkHandler returns the hosted checkout for one installment. Amounts are
// decimal currency units on the wire.
func (h *Handlers) CreatePaymentLinkHandler(w http.ResponseWriter, r *http.Request) {
	var payload createLinkPayload
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, err := domain.ParseDecimalMinor(payload.Amount.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: must be a decimal with at most 2 places")
		return
	}
	if email, ok := GetClientEmail(r.Context()); ok && !strings.EqualFold(email, strings.TrimSpace(payload.Email)) {
		writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return
	}

	result, err := h.links.CreateLink(r.Context(), app.CreateLinkRequest{
		BookingID:        payload.DossierID,
		AmountMinor:      amount,
		InstallmentType:  payload.Type,
		CustomerEmail:    payload.Email,
		CustomerName:     payload.Name,
		BookingReference: payload.Reference,
	})
	if err != nil {
		h.logger.Warn("payment link request failed", zap.String("booking_id", payload.DossierID), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	link := result.Link
	writeJSON(w, status, paymentLinkResponse{
		URL:             link.URL,
		ProviderLinkID:  link.ProviderLinkID,
		Provider:        link.Provider,
		InstallmentType: link.InstallmentType,
		Amount:          domain.MinorToFloat(link.Amount),
		Status:          link.Status,
		ExpiresAt:       link.ExpiresAt,
		Reused:          result.Reused,
	})
}

// WebhookHandler runs a provider callback through the reconciler. Only authentication and
// malformed payload failures are reported as non-2xx so providers stop retrying
// deliveries that were handled or can never succeed.
func (h *Handlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	adapter, ok := h.adapters[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("cannot read webhook body", zap.String("provider", provider), zap.Error(err))
		writeError(w, http.StatusBadRequest, "Cannot read request body")
		return
	}

	outcome, err := h.reconciler.Handle(r.Context(), adapter, body, r.Header)
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, domain.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "Invalid payload")
	case err != nil:
		h.logger.Error("webhook handling failed", zap.String("provider", provider), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": outcome.Status})
	}
}

// ContractPDFHandler renders the proforma for a signed contract.
func (h *Handlers) ContractPDFHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	reference := chi.URLParam(r, "reference")

	contract, booking, err := h.contracts.ContractDocument(r.Context(), bookingID, reference)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if email, ok := GetClientEmail(r.Context()); ok && !strings.EqualFold(email, strings.TrimSpace(booking.Email)) {
		writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return
	}

	doc := documents.Proforma{
		Company:  h.company,
		Contract: *contract,
		Booking:  *booking,
		Currency: h.contracts.Currency(),
		Location: h.contracts.Location(),
	}
	pdf, err := documents.RenderProforma(doc)
	if err != nil {
		h.logger.Error("proforma rendering failed", zap.String("booking_id", bookingID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// ExpirePaymentLinksHandler runs the overdue link sweep on demand.
func (h *Handlers) ExpirePaymentLinksHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.expirer.ExpireOverdueLinks(r.Context())
	if err != nil {
		h.logger.Error("manual payment link expiry failed", zap.Int("expired", count), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": count})
}

// writeServiceError maps domain error kinds to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var rateLimitErr *domain.RateLimitError
	var providerErr *domain.ProviderError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "booking can no longer be signed")
	case errors.As(err, &rateLimitErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitErr.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.As(err, &providerErr):
		writeError(w, http.StatusBadGateway, "payment provider unavailable, please retry")
	case errors.Is(err, domain.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, "Invalid signature")
	default:
		h.logger.Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
