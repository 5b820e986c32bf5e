// Package httpapi exposes billing sessions over a JSON REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"retailpos/backend/internal/billing"
	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/checkout"
	"retailpos/backend/internal/customer"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/store"
)

var errBadRequest = errors.New("bad request")

type API struct {
	billing       *billing.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	metrics       http.Handler
	log           *logger.Logger
	validate      *validator.Validate
}

type Option func(*API)

func WithLogger(log *logger.Logger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) {
		a.metrics = h
	}
}

func New(svc *billing.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		billing:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		log:           logger.Nop(),
		validate:      newValidator(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.recoverer, a.requestID, a.logging, a.securityHeaders)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Post("/sessions", a.handleOpenSession)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", a.handleGetSession)
				r.Post("/scan", a.handleScan)
				r.Post("/items", a.handleAddItem)
				r.Post("/confirmation", a.handleConfirmation)
				r.Patch("/lines/{lineID}/quantity", a.handleChangeQuantity)
				r.Patch("/lines/{lineID}/price", a.handleOverridePrice)
				r.Delete("/products/{productID}", a.handleRemoveProduct)
				r.Delete("/lines", a.handleClear)
				r.Put("/customer", a.handleSetCustomer)
				r.Put("/payment-method", a.handleSetPaymentMethod)
				r.Post("/checkout", a.handleCheckout)
				r.Get("/receipt", a.handleReceipt)
				r.Post("/refresh", a.handleRefresh)
				r.Get("/search", a.handleSearch)
			})
			r.Get("/inventory/value-at-risk", a.handleValueAtRisk)
		})

		r.With(a.requireAuth(domain.RoleAdmin)).Get("/audit-logs", a.handleAuditLogs)
	})

	return r
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, billing.ErrInvalidTerminal),
		errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrPaymentFailed):
		return http.StatusBadGateway
	case errors.Is(err, cart.ErrOutOfStock),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, cart.ErrExpiredStock),
		errors.Is(err, cart.ErrNoValidBatches),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, checkout.ErrCheckoutInProgress),
		errors.Is(err, billing.ErrConfirmationPending),
		errors.Is(err, billing.ErrNoPendingConfirmation),
		errors.Is(err, billing.ErrSessionSettled),
		errors.Is(err, billing.ErrSearchSuperseded):
		return http.StatusConflict
	case errors.Is(err, cart.ErrInvalidPrice),
		errors.Is(err, checkout.ErrInsufficientAmountReceived),
		errors.Is(err, checkout.ErrInvalidPaymentMethod),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, customer.ErrInvalidPhone):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, billing.ErrSessionNotFound),
		errors.Is(err, billing.ErrNoReceipt),
		errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs and hides the detail of 5xx responses. 4xx messages are
// user-facing and returned as is.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.log.Error(r.Context(), "request failed", err)
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	writeJSONError(w, status, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads one JSON object into dest and validates it. An empty
// body is treated as {}.
func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}
	if err := a.validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fe.Field()+" "+validationMessage(fe))
	}
	return fmt.Errorf("%w: %s", errBadRequest, strings.Join(parts, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	return "is invalid"
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
