package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"boutiquepos/backend/internal/cache"
	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/service"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/store/memory"
)

type testEnv struct {
	api  *API
	repo *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.New(store.LegacyFirst)
	svc := service.New(repo, cache.NoopSummaryCache{}, time.Second, zerolog.Nop())
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour)
	api := New(svc, auth, "http://127.0.0.1:3000", zerolog.Nop())

	for _, user := range []struct {
		name, role, password string
	}{
		{"owner", service.RoleAdmin, "ownerpass123"},
		{"kasi", service.RoleCashier, "kasipass1234"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(user.password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if err := repo.CreateUser(context.Background(), domain.UserAccount{
			Username:     user.name,
			PasswordHash: string(hash),
			Role:         user.role,
			Active:       true,
		}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return &testEnv{api: api, repo: repo}
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	e.api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "wrong"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	env.api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/containers", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestSaleFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(t, "owner", "ownerpass123")
	cashierToken := env.login(t, "kasi", "kasipass1234")

	rec := env.do(t, http.MethodPost, "/api/v1/containers", adminToken, domain.ContainerCreateRequest{Name: "Bag A"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create container returned %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.ContainerCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode container: %v", err)
	}

	itemsPath := fmt.Sprintf("/api/v1/containers/%d/items", created.Container.ID)
	rec = env.do(t, http.MethodPost, itemsPath, adminToken, domain.ContainerItemAddRequest{
		Name:       "Rose Veil",
		Amount:     10,
		PriceCents: 5000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add item returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sales", cashierToken, domain.SaleCreateRequest{
		CartItems:     []domain.CartLine{{ItemName: "Rose Veil", Quantity: 3, UnitPriceCents: 5000}},
		PaymentMethod: domain.PaymentMethodCash,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale returned %d: %s", rec.Code, rec.Body.String())
	}
	var saleResp domain.SaleCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &saleResp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if saleResp.TotalCents != 15000 || saleResp.TransactionID == "" {
		t.Fatalf("unexpected sale response: %+v", saleResp)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sales/"+saleResp.TransactionID, cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup returned %d", rec.Code)
	}

	// Cashiers may not void; the owner may.
	rec = env.do(t, http.MethodPost, "/api/v1/sales/"+saleResp.TransactionID+"/void", cashierToken, domain.VoidSaleRequest{Reason: "oops"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier void, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/sales/"+saleResp.TransactionID+"/void", adminToken, domain.VoidSaleRequest{Reason: "customer return"})
	if rec.Code != http.StatusOK {
		t.Fatalf("void returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/v1/sales/"+saleResp.TransactionID+"/void", adminToken, domain.VoidSaleRequest{Reason: "again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double void, got %d", rec.Code)
	}
}

func TestInsufficientStockResponseCarriesFigures(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(t, "owner", "ownerpass123")

	rec := env.do(t, http.MethodPost, "/api/v1/containers", adminToken, domain.ContainerCreateRequest{Name: "Bag A"})
	var created domain.ContainerCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode container: %v", err)
	}
	env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/containers/%d/items", created.Container.ID), adminToken, domain.ContainerItemAddRequest{
		Name: "Rose Veil", Amount: 2, PriceCents: 5000,
	})

	rec = env.do(t, http.MethodPost, "/api/v1/sales", adminToken, domain.SaleCreateRequest{
		CartItems: []domain.CartLine{{ItemName: "Rose Veil", Quantity: 5, UnitPriceCents: 5000}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Available int `json:"available"`
		Requested int `json:"requested"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Available != 2 || body.Requested != 5 {
		t.Fatalf("unexpected shortfall figures: %+v", body)
	}
}

func TestLossWorkflowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(t, "owner", "ownerpass123")

	rec := env.do(t, http.MethodPost, "/api/v1/containers", adminToken, domain.ContainerCreateRequest{Name: "Bag A"})
	var created domain.ContainerCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode container: %v", err)
	}
	env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/containers/%d/items", created.Container.ID), adminToken, domain.ContainerItemAddRequest{
		Name: "Rose Veil", Amount: 7, PriceCents: 5000,
	})

	rec = env.do(t, http.MethodPost, "/api/v1/losses", adminToken, domain.LossReportRequest{
		ItemName: "Rose Veil",
		Quantity: 1,
		Reason:   "damaged",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("report loss returned %d: %s", rec.Code, rec.Body.String())
	}
	var event domain.LossEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/losses/%d/reject", event.ID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/inventory/availability?item=Rose+Veil", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("availability returned %d", rec.Code)
	}
	var avail domain.Availability
	if err := json.Unmarshal(rec.Body.Bytes(), &avail); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if avail.Total != 7 {
		t.Fatalf("expected stock restored to 7, got %d", avail.Total)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/losses/%d/approve", event.ID), adminToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 approving a rejected event, got %d", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t)

	var last int
	for i := 0; i < 7; i++ {
		body, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "wrong"})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.RemoteAddr = "10.1.2.3:4000"
		env.api.Handler().ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}
