package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/billing"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store/memory"
)

const (
	testAdminPassword   = "admin-test-pass"
	testCashierPassword = "cashier-test-pass"
)

type testAPI struct {
	api     *API
	handler http.Handler
	store   *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", testAdminPassword)
	t.Setenv("SEED_CASHIER_PASSWORD", testCashierPassword)

	repo, err := memory.NewSeeded()
	require.NoError(t, err)

	svc := billing.New(repo, billing.Config{
		ResetDelay:          time.Hour,
		CollaboratorTimeout: 5 * time.Second,
		ExpiryWarningDays:   3,
		Location:            time.UTC,
	})
	auth := NewAuthManager(context.Background(), "test-secret", time.Hour, repo)
	api := New(svc, auth, "http://127.0.0.1:3000",
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})))
	return &testAPI{api: api, handler: api.Handler(), store: repo}
}

func (ta *testAPI) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	ta.handler.ServeHTTP(res, req)
	return res
}

func (ta *testAPI) login(t *testing.T, username string, password string) string {
	t.Helper()
	res := ta.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

type sessionEnvelope struct {
	Session struct {
		ID         string `json:"id"`
		TerminalID string `json:"terminal_id"`
		Lines      []struct {
			ID          string `json:"id"`
			ProductID   string `json:"product_id"`
			BatchNumber string `json:"batch_number"`
			Quantity    int    `json:"quantity"`
			UnitPrice   decimal.Decimal `json:"unit_price"`
		} `json:"lines"`
		TotalItems int    `json:"total_items"`
		Total      decimal.Decimal `json:"total"`
		Pending    *struct {
			Reason      string `json:"reason"`
			BatchNumber string `json:"batch_number"`
		} `json:"pending_confirmation"`
		Settled bool `json:"settled"`
	} `json:"session"`
}

func decodeSession(t *testing.T, res *httptest.ResponseRecorder) sessionEnvelope {
	t.Helper()
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var env sessionEnvelope
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &env))
	return env
}

func errorMessage(t *testing.T, res *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	return body["error"]
}
