package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/service"
	"boutiquepos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log zerolog.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		log:           log,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions))

	mux.HandleFunc("/api/v1/containers", a.requireAuth(a.handleContainers))
	mux.HandleFunc("/api/v1/containers/", a.requireAuth(a.handleContainerActions))
	mux.HandleFunc("/api/v1/items/", a.requireAuth(a.handleItemActions))

	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory))
	mux.HandleFunc("/api/v1/inventory/combined", a.requireAuth(a.handleCombinedStock))
	mux.HandleFunc("/api/v1/inventory/availability", a.requireAuth(a.handleAvailability))
	mux.HandleFunc("/api/v1/inventory/categories", a.requireAuth(a.handleCategories))
	mux.HandleFunc("/api/v1/inventory/restock", a.requireAuth(a.handleRestock))
	mux.HandleFunc("/api/v1/inventory/items/", a.requireAuth(a.handleInventoryItemActions))

	mux.HandleFunc("/api/v1/stock-history", a.requireAuth(a.handleStockHistory))
	mux.HandleFunc("/api/v1/stock-history/summary", a.requireAuth(a.handleStockSummary))

	mux.HandleFunc("/api/v1/reconciliation", a.requireAuth(a.handleReconciliation))
	mux.HandleFunc("/api/v1/reconciliation/apply", a.requireAuth(a.handleReconciliationApply))
	mux.HandleFunc("/api/v1/reconciliation/loss", a.requireAuth(a.handleReconciliationLoss))

	mux.HandleFunc("/api/v1/losses", a.requireAuth(a.handleLosses))
	mux.HandleFunc("/api/v1/losses/", a.requireAuth(a.handleLossActions))

	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport))
	mux.HandleFunc("/api/v1/reports/weekly", a.requireAuth(a.handleWeeklyReport))
	mux.HandleFunc("/api/v1/reports/total", a.requireAuth(a.handleTotalReport))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers))
	mux.HandleFunc("/api/v1/users/", a.requireAuth(a.handleUserActions))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.service.Authenticate(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	token, expiresAt, err := a.auth.Issue(user.Username, user.Role)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
		sales, err := a.service.ListRecentSales(r.Context(), limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusCreated, domain.SaleCreateResponse{
			SaleID:        sale.ID,
			TransactionID: sale.TransactionID,
			TotalCents:    sale.TotalCents,
			Timestamp:     sale.Timestamp.Format(time.RFC3339),
		})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleSaleActions serves /api/v1/sales/{txid} and /api/v1/sales/{txid}/void.
func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sales/")
	if rest == "" {
		a.writeError(w, http.StatusNotFound, errors.New("missing transaction id"))
		return
	}

	if txid, ok := strings.CutSuffix(rest, "/void"); ok {
		if r.Method != http.MethodPost {
			a.writeMethodNotAllowed(w)
			return
		}
		var req domain.VoidSaleRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.VoidSale(r.Context(), txid, req.Reason)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, sale)
		return
	}

	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	sale, err := a.service.GetSaleByTransactionID(r.Context(), rest)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleContainers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		containers, err := a.service.ListContainers(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"containers": containers})
	case http.MethodPost:
		var req domain.ContainerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := a.service.CreateContainer(r.Context(), req.Name)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		status := http.StatusOK
		if resp.Created {
			status = http.StatusCreated
		}
		a.writeJSON(w, status, resp)
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleContainerActions serves /api/v1/containers/{id} and
// /api/v1/containers/{id}/items.
func (a *API) handleContainerActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/containers/")
	idPart, tail, _ := strings.Cut(rest, "/")
	containerID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid container id"))
		return
	}

	switch tail {
	case "":
		switch r.Method {
		case http.MethodPatch:
			var req domain.ContainerRenameRequest
			if err := decodeJSON(r, &req); err != nil {
				a.writeError(w, http.StatusBadRequest, err)
				return
			}
			if err := a.service.RenameContainer(r.Context(), containerID, req.Name); err != nil {
				a.writeServiceError(w, err)
				return
			}
			a.writeJSON(w, http.StatusOK, map[string]any{"renamed": true})
		case http.MethodDelete:
			if err := a.service.DeleteContainer(r.Context(), containerID); err != nil {
				a.writeServiceError(w, err)
				return
			}
			a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		default:
			a.writeMethodNotAllowed(w)
		}
	case "items":
		switch r.Method {
		case http.MethodGet:
			items, err := a.service.ListContainerItems(r.Context(), containerID, r.URL.Query().Get("search"))
			if err != nil {
				a.writeServiceError(w, err)
				return
			}
			a.writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			var req domain.ContainerItemAddRequest
			if err := decodeJSON(r, &req); err != nil {
				a.writeError(w, http.StatusBadRequest, err)
				return
			}
			item, err := a.service.AddContainerItem(r.Context(), containerID, req)
			if err != nil {
				a.writeServiceError(w, err)
				return
			}
			a.writeJSON(w, http.StatusCreated, item)
		default:
			a.writeMethodNotAllowed(w)
		}
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown container action"))
	}
}

// handleItemActions serves /api/v1/items/{id}.
func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/items/")
	itemID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid item id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := a.service.GetContainerItem(r.Context(), itemID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		var req domain.ContainerItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.UpdateContainerItem(r.Context(), itemID, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := a.service.DeleteContainerItem(r.Context(), itemID); err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	items, err := a.service.ListInventoryItems(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCombinedStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	rows, err := a.service.ListCombinedStock(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"stock": rows})
}

func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	avail, err := a.service.GetAvailability(r.Context(), r.URL.Query().Get("item"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, avail)
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.Restock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, item)
}

type inventoryItemPatch struct {
	CostPriceCents    *int64  `json:"cost_price_cents,omitempty"`
	SellingPriceCents *int64  `json:"selling_price_cents,omitempty"`
	Category          *string `json:"category,omitempty"`
}

// handleInventoryItemActions serves /api/v1/inventory/items/{name}.
func (a *API) handleInventoryItemActions(w http.ResponseWriter, r *http.Request) {
	itemName := strings.TrimPrefix(r.URL.Path, "/api/v1/inventory/items/")
	if itemName == "" {
		a.writeError(w, http.StatusNotFound, errors.New("missing item name"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := a.service.GetInventoryItem(r.Context(), itemName)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		var req inventoryItemPatch
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.CostPriceCents != nil || req.SellingPriceCents != nil {
			if err := a.service.SetItemPrices(r.Context(), itemName, req.CostPriceCents, req.SellingPriceCents); err != nil {
				a.writeServiceError(w, err)
				return
			}
		}
		if req.Category != nil {
			if err := a.service.SetItemCategory(r.Context(), itemName, *req.Category); err != nil {
				a.writeServiceError(w, err)
				return
			}
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"updated": true})
	case http.MethodDelete:
		if err := a.service.DeleteInventoryItem(r.Context(), itemName); err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	query := domain.StockHistoryQuery{
		ChangeType: r.URL.Query().Get("change_type"),
		SinceDays:  parsePositiveLimit(r.URL.Query().Get("since_days"), 0, 365),
	}
	if raw := r.URL.Query().Get("item_id"); raw != "" {
		itemID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("invalid item_id"))
			return
		}
		query.ItemID = &itemID
	}

	entries, err := a.service.ListStockHistory(r.Context(), query)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (a *API) handleStockSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	sinceDays := parsePositiveLimit(r.URL.Query().Get("since_days"), 30, 365)
	summaries, err := a.service.SummarizeStockHistory(r.Context(), sinceDays)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"summary": summaries})
}

func (a *API) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	date := r.URL.Query().Get("date")
	if item := r.URL.Query().Get("item"); item != "" {
		record, err := a.service.GetReconciliation(r.Context(), item, date)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, record)
		return
	}
	records, err := a.service.ListReconciliation(r.Context(), date)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleReconciliationApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.ReconciliationApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := a.service.ApplyReconciliation(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"item_name": req.ItemName,
		"balance":   balance,
	})
}

type reconciliationLossRequest struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

func (a *API) handleReconciliationLoss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req reconciliationLossRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.RecordLoss(r.Context(), req.ItemName, req.Quantity); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

func (a *API) handleLosses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		events, err := a.service.ListLossEvents(r.Context(), r.URL.Query().Get("status"), limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"events": events})
	case http.MethodPost:
		var req domain.LossReportRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		event, err := a.service.ReportLoss(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusCreated, event)
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleLossActions serves /api/v1/losses/{id}, {id}/approve, {id}/reject.
func (a *API) handleLossActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/losses/")
	idPart, action, _ := strings.Cut(rest, "/")
	eventID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid loss event id"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		event, err := a.service.GetLossEvent(r.Context(), eventID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, event)
	case "approve", "reject":
		if r.Method != http.MethodPost {
			a.writeMethodNotAllowed(w)
			return
		}
		var event *domain.LossEvent
		if action == "approve" {
			event, err = a.service.ApproveLossEvent(r.Context(), eventID)
		} else {
			event, err = a.service.RejectLossEvent(r.Context(), eventID)
		}
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, event)
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown loss action"))
	}
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	summary, err := a.service.DailySummary(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleWeeklyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	until := time.Now().UTC()
	if raw := r.URL.Query().Get("until"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("until must be YYYY-MM-DD"))
			return
		}
		until = parsed
	}
	summary, err := a.service.WeeklySummary(r.Context(), until)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleTotalReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	total, err := a.service.TotalSales(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"total_cents": total})
}

type userView struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.service.ListUsers(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		views := make([]userView, 0, len(users))
		for _, user := range users {
			views = append(views, userView{
				Username:  user.Username,
				Role:      user.Role,
				Active:    user.Active,
				CreatedAt: user.CreatedAt.Format(time.RFC3339),
			})
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"users": views})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.CreateUser(r.Context(), req); err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusCreated, map[string]any{"created": true})
	default:
		a.writeMethodNotAllowed(w)
	}
}

type passwordChangeRequest struct {
	NewPassword string `json:"new_password"`
}

// handleUserActions serves /api/v1/users/{name}/password.
func (a *API) handleUserActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	username, ok := strings.CutSuffix(rest, "/password")
	if !ok || username == "" {
		a.writeError(w, http.StatusNotFound, errors.New("unknown user action"))
		return
	}
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.ChangePassword(r.Context(), username, req.NewPassword); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"changed": true})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("from must be YYYY-MM-DD"))
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("to must be YYYY-MM-DD"))
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 1000)

	logs, err := a.service.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
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

// writeServiceError maps the error taxonomy onto HTTP statuses. Stock
// shortfalls keep their figures in the message so the till can show them.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *store.InsufficientStockError
	if errors.As(err, &insufficient) {
		a.writeJSON(w, http.StatusConflict, map[string]any{
			"error":     insufficient.Error(),
			"item_name": insufficient.ItemName,
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrValidation):
		a.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrUnauthenticated):
		a.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, service.ErrForbidden):
		a.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrDuplicateName), errors.Is(err, store.ErrStateConflict):
		a.writeError(w, http.StatusConflict, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.log.Error().Err(err).Int("status", status).Msg("request failed")
		msg = "internal server error"
	}
	a.writeJSON(w, status, map[string]any{"error": msg})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
