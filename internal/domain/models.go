package domain

import "time"

// InventoryItem is a row of the legacy flat inventory tier. The item name is
// the key; quantity is deducted by sales before any container stock is touched.
type InventoryItem struct {
	Name              string `json:"name"`
	Quantity          int    `json:"quantity"`
	CostPriceCents    int64  `json:"cost_price_cents"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	Category          string `json:"category,omitempty"`
}

// Container is a named grouping of priced, stocked line items (the newer
// inventory model, called a "bag" by operators).
type Container struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type ContainerItem struct {
	ID          int64  `json:"id"`
	ContainerID int64  `json:"container_id"`
	Name        string `json:"name"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

// Availability is the combined stock picture for one item name across both
// inventory tiers, read under the same snapshot a deduction would use.
type Availability struct {
	ItemName     string `json:"item_name"`
	LegacyQty    int    `json:"legacy_qty"`
	ContainerQty int    `json:"container_qty"`
	Total        int    `json:"total"`
}

// StockRow is one line of the flattened combined-stock view: container items
// carry their container name as the category, legacy rows keep their own.
type StockRow struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
	Category string `json:"category"`
}

type CartLine struct {
	ItemName       string `json:"item_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Sale struct {
	ID               int64      `json:"id"`
	TransactionID    string     `json:"transaction_id"`
	Cashier          string     `json:"cashier"`
	TotalCents       int64      `json:"total_cents"`
	Timestamp        time.Time  `json:"timestamp"`
	Status           string     `json:"status"`
	PaymentMethod    string     `json:"payment_method"`
	MobileRef        string     `json:"mobile_ref,omitempty"`
	VoidReason       string     `json:"void_reason,omitempty"`
	VoidAuthorizedBy string     `json:"void_authorized_by,omitempty"`
	VoidedAt         *time.Time `json:"voided_at,omitempty"`
	Items            []SaleItem `json:"items,omitempty"`
}

type SaleItem struct {
	ID             int64  `json:"id"`
	SaleID         int64  `json:"sale_id"`
	ItemName       string `json:"item_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

// StockHistoryEntry is one append-only record of a quantity change. SourceID
// is the container item id for container rows and zero for the legacy tier,
// which is identified by item name alone.
type StockHistoryEntry struct {
	ID            int64     `json:"id"`
	SourceID      int64     `json:"source_id"`
	ItemName      string    `json:"item_name"`
	ContainerName string    `json:"container_name,omitempty"`
	OldStock      int       `json:"old_stock"`
	NewStock      int       `json:"new_stock"`
	ChangeAmount  int       `json:"change_amount"`
	ChangeType    string    `json:"change_type"`
	Reason        string    `json:"reason,omitempty"`
	Actor         string    `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
	SaleID        *int64    `json:"sale_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

type StockHistoryQuery struct {
	ItemID     *int64 `json:"item_id,omitempty"`
	SinceDays  int    `json:"since_days"`
	ChangeType string `json:"change_type,omitempty"`
}

type StockSummary struct {
	SourceID      int64  `json:"source_id"`
	ItemName      string `json:"item_name"`
	ContainerName string `json:"container_name,omitempty"`
	MinStock      int    `json:"min_stock"`
	MaxStock      int    `json:"max_stock"`
	TotalAdded    int    `json:"total_added"`
	TotalRemoved  int    `json:"total_removed"`
	ChangeCount   int    `json:"change_count"`
}

// ReconciliationRecord tracks the per item/day identity
// balance = old_stock + new_stock_added - sold - loss_drawn.
// OldStock stays nil until the first movement of the day seeds it.
type ReconciliationRecord struct {
	ItemName      string `json:"item_name"`
	Date          string `json:"date"`
	OldStock      *int   `json:"old_stock,omitempty"`
	NewStockAdded int    `json:"new_stock_added"`
	LossDrawn     int    `json:"loss_drawn"`
}

type ReconciliationApplyRequest struct {
	ItemName    string `json:"item_name"`
	OldStock    int    `json:"old_stock"`
	NewReceived int    `json:"new_received"`
	Sold        int    `json:"sold"`
	LossDrawn   int    `json:"loss_drawn"`
}

type LossEvent struct {
	ID         int64      `json:"id"`
	ItemName   string     `json:"item_name"`
	Quantity   int        `json:"quantity"`
	OccurredAt time.Time  `json:"occurred_at"`
	ReportedBy string     `json:"reported_by"`
	Reason     string     `json:"reason,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Applied    bool       `json:"applied"`
}

type LossReportRequest struct {
	ItemName         string     `json:"item_name"`
	Quantity         int        `json:"quantity"`
	OccurredAt       *time.Time `json:"occurred_at,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	ApplyImmediately *bool      `json:"apply_immediately,omitempty"`
}

type SaleCreateRequest struct {
	CartItems     []CartLine `json:"cart_items"`
	PaymentMethod string     `json:"payment_method"`
	MobileRef     string     `json:"mobile_ref,omitempty"`
}

type SaleCreateResponse struct {
	SaleID        int64  `json:"sale_id"`
	TransactionID string `json:"transaction_id"`
	TotalCents    int64  `json:"total_cents"`
	Timestamp     string `json:"timestamp"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason"`
}

type ContainerCreateRequest struct {
	Name string `json:"name"`
}

type ContainerCreateResponse struct {
	Container Container `json:"container"`
	Created   bool      `json:"created"`
}

type ContainerRenameRequest struct {
	Name string `json:"name"`
}

type ContainerItemAddRequest struct {
	Name       string `json:"name"`
	Amount     int    `json:"amount"`
	PriceCents int64  `json:"price_cents"`
}

type ContainerItemUpdateRequest struct {
	PriceCents *int64 `json:"price_cents,omitempty"`
	Stock      *int   `json:"stock,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type RestockRequest struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

type DailySummaryPayment struct {
	PaymentMethod string `json:"payment_method"`
	Sales         int    `json:"sales"`
	TotalCents    int64  `json:"total_cents"`
}

type DailySummaryItem struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

type DailySummaryCashier struct {
	Cashier    string `json:"cashier"`
	TotalCents int64  `json:"total_cents"`
}

type DailySummary struct {
	Date       string                `json:"date"`
	TotalCents int64                 `json:"total_cents"`
	SaleCount  int                   `json:"sale_count"`
	TopItems   []DailySummaryItem    `json:"top_items"`
	Cashiers   []DailySummaryCashier `json:"cashiers"`
	ByPayment  []DailySummaryPayment `json:"by_payment"`
}

type WeeklyTotal struct {
	Date       string `json:"date"`
	TotalCents int64  `json:"total_cents"`
}

type WeeklySummary struct {
	From        string        `json:"from"`
	To          string        `json:"to"`
	DailyTotals []WeeklyTotal `json:"daily_totals"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username     string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}

type AuditLog struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	SaleStatusActive = "ACTIVE"
	SaleStatusVoided = "VOIDED"
)

const (
	ChangeTypeInitial    = "INITIAL"
	ChangeTypeRestock    = "RESTOCK"
	ChangeTypeSale       = "SALE"
	ChangeTypeAdjustment = "ADJUSTMENT"
	ChangeTypeCorrection = "CORRECTION"
)

const (
	LossStatusPending  = "PENDING"
	LossStatusApproved = "APPROVED"
	LossStatusRejected = "REJECTED"
)

const (
	PaymentMethodCash   = "Cash"
	PaymentMethodMobile = "Mobile Money"
	PaymentMethodCard   = "Card"
)
