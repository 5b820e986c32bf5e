package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"retailpos/backend/internal/billing"
	"retailpos/backend/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeJSONError(w, http.StatusTooManyRequests, errTooManyAttempts.Error())
		return
	}

	var req domain.LoginRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenSessionRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := a.billing.Open(r.Context(), req.TerminalID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": view})
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*billing.Session, bool) {
	sess, err := a.billing.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

// respond writes the session view returned by a cart operation.
func (a *API) respond(w http.ResponseWriter, r *http.Request, view billing.View, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": view})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess.View()})
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.ScanRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := sess.ScanBarcode(r.Context(), req.Barcode)
	a.respond(w, r, view, err)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.AddItemRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := sess.AddProduct(r.Context(), req.ProductID)
	a.respond(w, r, view, err)
}

func (a *API) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.ConfirmationRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	var (
		view billing.View
		err  error
	)
	if req.Decision == "proceed" {
		view, err = sess.ConfirmPending(r.Context())
	} else {
		view, err = sess.CancelPending(r.Context())
	}
	a.respond(w, r, view, err)
}

func (a *API) handleChangeQuantity(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.QuantityChangeRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := sess.ChangeQuantity(r.Context(), chi.URLParam(r, "lineID"), req.Delta)
	a.respond(w, r, view, err)
}

func (a *API) handleOverridePrice(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.PriceOverrideRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := sess.SetUnitPrice(r.Context(), chi.URLParam(r, "lineID"), req.UnitPrice)
	a.respond(w, r, view, err)
}

func (a *API) handleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	view, err := sess.RemoveProduct(r.Context(), chi.URLParam(r, "productID"))
	a.respond(w, r, view, err)
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	view, err := sess.Clear(r.Context())
	a.respond(w, r, view, err)
}

func (a *API) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.SessionCustomerRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := sess.SetCustomer(r.Context(), req.Phone, req.Name)
	a.respond(w, r, view, err)
}

func (a *API) handleSetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.PaymentSelectionRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	view, err := sess.SetPaymentMethod(r.Context(), req.PaymentMethod)
	a.respond(w, r, view, err)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	var req domain.CheckoutRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	receipt, err := sess.Checkout(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	receipt, err := sess.LastReceipt(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	view, err := sess.RefreshBatches(r.Context())
	a.respond(w, r, view, err)
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	if len(query.Get("q")) > 120 {
		a.writeError(w, r, fmt.Errorf("%w: q must be at most 120 characters", errBadRequest))
		return
	}
	products, err := sess.SearchProducts(r.Context(), query.Get("q"), parsePositiveLimit(query.Get("limit"), 20, 100))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleValueAtRisk(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: days must be a whole number", errBadRequest))
			return
		}
		days = parsed
	}
	report, err := a.billing.ValueAtRisk(r.Context(), days)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	logs, err := a.billing.ListAuditLogs(r.Context(),
		strings.TrimSpace(query.Get("terminal_id")),
		strings.TrimSpace(query.Get("date")),
		parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
