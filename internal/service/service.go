package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"boutiquepos/backend/internal/cache"
	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	summary  cache.SummaryCache
	cacheTTL time.Duration
	log      zerolog.Logger
}

func New(repo store.Repository, summary cache.SummaryCache, cacheTTL time.Duration, log zerolog.Logger) *Service {
	if summary == nil {
		summary = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &Service{repo: repo, summary: summary, cacheTTL: cacheTTL, log: log}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: requires one of %s", ErrForbidden, strings.Join(roles, ", "))
}

func (s *Service) logAudit(ctx context.Context, action, entityType, entityID, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		Actor:      actor.Username,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("audit log write failed")
	}
}

func (s *Service) invalidateSummary(ctx context.Context, date string) {
	if err := s.summary.Invalidate(ctx, date); err != nil {
		s.log.Warn().Err(err).Str("date", date).Msg("summary cache invalidation failed")
	}
}

func validPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodMobile, domain.PaymentMethodCard:
		return true
	}
	return false
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Sale, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.CartItems) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}
	if !validPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	if req.PaymentMethod == domain.PaymentMethodMobile && strings.TrimSpace(req.MobileRef) == "" {
		return nil, fmt.Errorf("%w: mobile money requires a reference", store.ErrValidation)
	}

	sale, err := s.repo.CreateSale(ctx, actor.Username, req.CartItems, req.PaymentMethod, req.MobileRef)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("transaction_id", sale.TransactionID).
		Str("cashier", sale.Cashier).
		Int64("total_cents", sale.TotalCents).
		Int("lines", len(sale.Items)).
		Msg("sale created")
	s.logAudit(ctx, "sale_create", "sale", sale.TransactionID,
		fmt.Sprintf("total=%d,lines=%d,payment=%s", sale.TotalCents, len(sale.Items), sale.PaymentMethod))
	s.invalidateSummary(ctx, sale.Timestamp.UTC().Format("2006-01-02"))
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetSale(ctx, saleID)
}

func (s *Service) GetSaleByTransactionID(ctx context.Context, transactionID string) (*domain.Sale, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetSaleByTransactionID(ctx, transactionID)
}

func (s *Service) ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListRecentSales(ctx, limit)
}

func (s *Service) VoidSale(ctx context.Context, transactionID, reason string) (*domain.Sale, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: void reason is required", store.ErrValidation)
	}

	sale, err := s.repo.VoidSale(ctx, transactionID, reason, actor.Username)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("transaction_id", transactionID).
		Str("authorized_by", actor.Username).
		Msg("sale voided")
	s.logAudit(ctx, "sale_void", "sale", transactionID, "reason="+reason)
	s.invalidateSummary(ctx, sale.Timestamp.UTC().Format("2006-01-02"))
	return sale, nil
}

func (s *Service) GetAvailability(ctx context.Context, itemName string) (domain.Availability, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.Availability{}, err
	}
	itemName = strings.TrimSpace(itemName)
	if itemName == "" {
		return domain.Availability{}, store.ErrValidation
	}
	return s.repo.GetAvailability(ctx, itemName)
}

func (s *Service) GetInventoryItem(ctx context.Context, itemName string) (*domain.InventoryItem, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	itemName = strings.TrimSpace(itemName)
	if itemName == "" {
		return nil, store.ErrValidation
	}
	return s.repo.GetInventoryItem(ctx, itemName)
}

func (s *Service) ListInventoryItems(ctx context.Context) ([]domain.InventoryItem, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListInventoryItems(ctx)
}

func (s *Service) ListCombinedStock(ctx context.Context) ([]domain.StockRow, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCombinedStock(ctx)
}

func (s *Service) SetItemPrices(ctx context.Context, itemName string, costCents, sellCents *int64) error {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleManager); err != nil {
		return err
	}
	if err := s.repo.SetItemPrices(ctx, itemName, costCents, sellCents); err != nil {
		return err
	}
	s.logAudit(ctx, "item_prices_update", "inventory_item", itemName, "")
	return nil
}

func (s *Service) SetItemCategory(ctx context.Context, itemName, category string) error {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleManager); err != nil {
		return err
	}
	if err := s.repo.SetItemCategory(ctx, itemName, category); err != nil {
		return err
	}
	s.logAudit(ctx, "item_category_update", "inventory_item", itemName, "category="+category)
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx)
}

func (s *Service) DeleteInventoryItem(ctx context.Context, itemName string) error {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteInventoryItem(ctx, itemName); err != nil {
		return err
	}
	s.logAudit(ctx, "item_delete", "inventory_item", itemName, "")
	return nil
}

func (s *Service) CreateContainer(ctx context.Context, name string) (*domain.ContainerCreateResponse, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleManager); err != nil {
		return nil, err
	}
	container, created, err := s.repo.CreateContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	if created {
		s.logAudit(ctx, "container_create", "container", container.Name, "")
	}
	return &domain.ContainerCreateResponse{Container: *container, Created: created}, nil
}

func (s *Service) ListContainers(ctx context.Context) ([]domain.Container, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListContainers(ctx)
}

func (s *Service) RenameContainer(ctx context.Context, id int64, newName string) error {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleManager); err != nil {
		return err
	}
	if err := s.repo.RenameContainer(ctx, id, newName); err != nil {
		return err
	}
	s.logAudit(ctx, "container_rename", "container", fmt.Sprintf("%d", id), "name="+newName)
	return nil
}

func (s *Service) DeleteContainer(ctx context.Context, id int64) error {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteContainer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "container_delete", "container", fmt.Sprintf("%d", id), "")
	return nil
}

func (s *Service) AddContainerItem(ctx context.Context, containerID int64, req domain.ContainerItemAddRequest) (*domain.ContainerItem, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.AddOrIncrementItem(ctx, containerID, req.Name, req.Amount, req.PriceCents, actor.Username)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "container_item_add", "container_item", fmt.Sprintf("%d", item.ID),
		fmt.Sprintf("name=%s,amount=%d,price=%d", item.Name, req.Amount, item.PriceCents))
	return item, nil
}

func (s *Service) ListContainerItems(ctx context.Context, containerID int64, search string) ([]domain.ContainerItem, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListContainerItems(ctx, containerID, search)
}

func (s *Service) GetContainerItem(ctx context.Context, itemID int64) (*domain.ContainerItem, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetContainerItem(ctx, itemID)
}

func (s *Service) UpdateContainerItem(ctx context.Context, itemID int64, req domain.ContainerItemUpdateRequest) (*domain.ContainerItem, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.UpdateContainerItem(ctx, itemID, req.PriceCents, req.Stock, actor.Username, req.Reason)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "container_item_update", "container_item", fmt.Sprintf("%d", itemID), "")
	return item, nil
}

func (s *Service) DeleteContainerItem(ctx context.Context, itemID int64) error {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteContainerItem(ctx, itemID, actor.Username); err != nil {
		return err
	}
	s.logAudit(ctx, "container_item_delete", "container_item", fmt.Sprintf("%d", itemID), "")
	return nil
}

func (s *Service) ListStockHistory(ctx context.Context, q domain.StockHistoryQuery) ([]domain.StockHistoryEntry, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListStockHistory(ctx, q)
}

func (s *Service) SummarizeStockHistory(ctx context.Context, sinceDays int) ([]domain.StockSummary, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.SummarizeStockHistory(ctx, sinceDays)
}

func (s *Service) Restock(ctx context.Context, req domain.RestockRequest) (*domain.InventoryItem, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.RecordRestock(ctx, req.ItemName, req.Quantity, actor.Username)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "restock", "inventory_item", req.ItemName, fmt.Sprintf("qty=%d", req.Quantity))
	return item, nil
}

func (s *Service) RecordLoss(ctx context.Context, itemName string, qty int) error {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return err
	}
	if err := s.repo.RecordLoss(ctx, itemName, qty, actor.Username); err != nil {
		return err
	}
	s.logAudit(ctx, "loss_record", "inventory_item", itemName, fmt.Sprintf("qty=%d", qty))
	return nil
}

func (s *Service) ApplyReconciliation(ctx context.Context, req domain.ReconciliationApplyRequest) (int, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return 0, err
	}
	balance, err := s.repo.ApplyReconciliation(ctx, req, actor.Username)
	if err != nil {
		return 0, err
	}
	s.log.Info().
		Str("item", req.ItemName).
		Int("balance", balance).
		Msg("reconciliation applied")
	s.logAudit(ctx, "reconciliation_apply", "inventory_item", req.ItemName,
		fmt.Sprintf("old=%d,received=%d,sold=%d,loss=%d,balance=%d", req.OldStock, req.NewReceived, req.Sold, req.LossDrawn, balance))
	return balance, nil
}

func (s *Service) GetReconciliation(ctx context.Context, itemName, date string) (*domain.ReconciliationRecord, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetReconciliation(ctx, itemName, date)
}

func (s *Service) ListReconciliation(ctx context.Context, date string) ([]domain.ReconciliationRecord, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListReconciliation(ctx, date)
}

func (s *Service) ReportLoss(ctx context.Context, req domain.LossReportRequest) (*domain.LossEvent, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	event, err := s.repo.ReportLoss(ctx, req, actor.Username)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "loss_report", "loss_event", fmt.Sprintf("%d", event.ID),
		fmt.Sprintf("item=%s,qty=%d,applied=%t", event.ItemName, event.Quantity, event.Applied))
	return event, nil
}

func (s *Service) ApproveLossEvent(ctx context.Context, eventID int64) (*domain.LossEvent, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return nil, err
	}
	event, err := s.repo.ApproveLossEvent(ctx, eventID, actor.Username)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "loss_approve", "loss_event", fmt.Sprintf("%d", eventID), "")
	return event, nil
}

func (s *Service) RejectLossEvent(ctx context.Context, eventID int64) (*domain.LossEvent, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleManager)
	if err != nil {
		return nil, err
	}
	event, err := s.repo.RejectLossEvent(ctx, eventID, actor.Username)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "loss_reject", "loss_event", fmt.Sprintf("%d", eventID), "")
	return event, nil
}

func (s *Service) GetLossEvent(ctx context.Context, eventID int64) (*domain.LossEvent, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetLossEvent(ctx, eventID)
}

func (s *Service) ListLossEvents(ctx context.Context, status string, limit int) ([]domain.LossEvent, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return nil, err
	}
	if status != "" && status != domain.LossStatusPending && status != domain.LossStatusApproved && status != domain.LossStatusRejected {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, status)
	}
	return s.repo.ListLossEvents(ctx, status, limit)
}

func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.DailySummary{}, err
	}
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	if cached, ok, err := s.summary.Get(ctx, date); err != nil {
		s.log.Warn().Err(err).Str("date", date).Msg("summary cache read failed")
	} else if ok {
		return *cached, nil
	}

	summary, err := s.repo.DailySummary(ctx, date)
	if err != nil {
		return domain.DailySummary{}, err
	}
	if err := s.summary.Set(ctx, date, &summary, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("date", date).Msg("summary cache write failed")
	}
	return summary, nil
}

func (s *Service) WeeklySummary(ctx context.Context, until time.Time) (domain.WeeklySummary, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.WeeklySummary{}, err
	}
	if until.IsZero() {
		until = time.Now().UTC()
	}
	return s.repo.WeeklySummary(ctx, until)
}

func (s *Service) TotalSales(ctx context.Context) (int64, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return 0, err
	}
	return s.repo.TotalSales(ctx)
}

func validRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleCashier:
		return true
	}
	return false
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) error {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return err
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 {
		return fmt.Errorf("%w: username and a password of at least 8 characters are required", store.ErrValidation)
	}
	if !validRole(req.Role) {
		return fmt.Errorf("%w: unknown role %q", store.ErrValidation, req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	err = s.repo.CreateUser(ctx, domain.UserAccount{
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, "user_create", "user", req.Username, "role="+req.Role)
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) ChangePassword(ctx context.Context, username, newPassword string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if actor.Username != username && actor.Role != RoleAdmin {
		return ErrForbidden
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", store.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return err
	}
	s.logAudit(ctx, "user_password_change", "user", username, "")
	return nil
}

// Authenticate checks credentials for the login endpoint. Failures collapse
// to ErrUnauthenticated so callers cannot tell a missing user from a bad
// password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.UserAccount, error) {
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}
