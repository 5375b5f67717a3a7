package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boutiquepos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrStateConflict     = errors.New("state conflict")
	ErrStorage           = errors.New("storage failure")
)

// InsufficientStockError carries the figures the till needs to show the
// cashier. It matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ItemName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ItemName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// DeductionOrder decides which inventory tier a sale or loss drains first.
// Legacy-first is the historical behavior and the default.
type DeductionOrder int

const (
	LegacyFirst DeductionOrder = iota
	ContainersFirst
)

// Repository is the storage contract behind the sale engine, container
// management, the stock history journal, the reconciliation ledger and the
// loss workflow. Implementations must run every multi-step operation inside
// one exclusive-write transaction: validation and mutation see the same
// snapshot, and any failure rolls the whole operation back.
type Repository interface {
	// Legacy inventory tier.
	GetAvailability(ctx context.Context, itemName string) (domain.Availability, error)
	GetInventoryItem(ctx context.Context, itemName string) (*domain.InventoryItem, error)
	ListInventoryItems(ctx context.Context) ([]domain.InventoryItem, error)
	ListCombinedStock(ctx context.Context) ([]domain.StockRow, error)
	SetItemPrices(ctx context.Context, itemName string, costCents, sellCents *int64) error
	SetItemCategory(ctx context.Context, itemName, category string) error
	ListCategories(ctx context.Context) ([]string, error)
	DeleteInventoryItem(ctx context.Context, itemName string) error

	// Containers and their items.
	CreateContainer(ctx context.Context, name string) (*domain.Container, bool, error)
	ListContainers(ctx context.Context) ([]domain.Container, error)
	RenameContainer(ctx context.Context, id int64, newName string) error
	DeleteContainer(ctx context.Context, id int64) error
	AddOrIncrementItem(ctx context.Context, containerID int64, itemName string, amount int, priceCents int64, actor string) (*domain.ContainerItem, error)
	ListContainerItems(ctx context.Context, containerID int64, search string) ([]domain.ContainerItem, error)
	GetContainerItem(ctx context.Context, itemID int64) (*domain.ContainerItem, error)
	UpdateContainerItem(ctx context.Context, itemID int64, priceCents *int64, stock *int, actor, reason string) (*domain.ContainerItem, error)
	DeleteContainerItem(ctx context.Context, itemID int64, actor string) error

	// Sales.
	CreateSale(ctx context.Context, cashier string, lines []domain.CartLine, paymentMethod, mobileRef string) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID int64) (*domain.Sale, error)
	GetSaleByTransactionID(ctx context.Context, transactionID string) (*domain.Sale, error)
	ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error)
	VoidSale(ctx context.Context, transactionID, reason, authorizedBy string) (*domain.Sale, error)

	// Stock history journal (append-only, read side).
	ListStockHistory(ctx context.Context, q domain.StockHistoryQuery) ([]domain.StockHistoryEntry, error)
	SummarizeStockHistory(ctx context.Context, sinceDays int) ([]domain.StockSummary, error)

	// Reconciliation ledger.
	RecordRestock(ctx context.Context, itemName string, qty int, actor string) (*domain.InventoryItem, error)
	RecordLoss(ctx context.Context, itemName string, qty int, actor string) error
	ApplyReconciliation(ctx context.Context, req domain.ReconciliationApplyRequest, actor string) (int, error)
	GetReconciliation(ctx context.Context, itemName, date string) (*domain.ReconciliationRecord, error)
	ListReconciliation(ctx context.Context, date string) ([]domain.ReconciliationRecord, error)

	// Loss/adjustment workflow.
	ReportLoss(ctx context.Context, req domain.LossReportRequest, reportedBy string) (*domain.LossEvent, error)
	ApproveLossEvent(ctx context.Context, eventID int64, approver string) (*domain.LossEvent, error)
	RejectLossEvent(ctx context.Context, eventID int64, approver string) (*domain.LossEvent, error)
	GetLossEvent(ctx context.Context, eventID int64) (*domain.LossEvent, error)
	ListLossEvents(ctx context.Context, status string, limit int) ([]domain.LossEvent, error)

	// Reporting.
	DailySummary(ctx context.Context, date string) (domain.DailySummary, error)
	WeeklySummary(ctx context.Context, until time.Time) (domain.WeeklySummary, error)
	TotalSales(ctx context.Context) (int64, error)

	// Users and audit trail.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)
}
