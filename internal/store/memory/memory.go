// Package memory holds an in-memory Repository used by tests and by the
// server when no database is configured. Semantics mirror the postgres
// store: one mutex plays the role of the serializable transaction, and every
// multi-step operation validates fully before it mutates anything.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/xid"
)

type Store struct {
	mu    sync.Mutex
	order store.DeductionOrder

	inventory      map[string]*domain.InventoryItem
	containers     map[int64]*domain.Container
	containerItems map[int64]*domain.ContainerItem
	sales          map[int64]*domain.Sale
	saleIDByTx     map[string]int64
	history        []domain.StockHistoryEntry
	recon          map[string]*domain.ReconciliationRecord
	lossEvents     map[int64]*domain.LossEvent
	users          map[string]*domain.UserAccount
	audit          []domain.AuditLog

	nextContainerID int64
	nextItemID      int64
	nextSaleID      int64
	nextSaleItemID  int64
	nextHistoryID   int64
	nextLossID      int64
	nextAuditID     int64
}

func New(order store.DeductionOrder) *Store {
	return &Store{
		order:          order,
		inventory:      make(map[string]*domain.InventoryItem),
		containers:     make(map[int64]*domain.Container),
		containerItems: make(map[int64]*domain.ContainerItem),
		sales:          make(map[int64]*domain.Sale),
		saleIDByTx:     make(map[string]int64),
		recon:          make(map[string]*domain.ReconciliationRecord),
		lossEvents:     make(map[int64]*domain.LossEvent),
		users:          make(map[string]*domain.UserAccount),
	}
}

func (s *Store) Close() error { return nil }

func reconKey(itemName, date string) string { return itemName + "|" + date }

func today() string { return time.Now().UTC().Format("2006-01-02") }

func (s *Store) containerRowsFor(itemName string) []*domain.ContainerItem {
	rows := make([]*domain.ContainerItem, 0, 4)
	for _, item := range s.containerItems {
		if item.Name == itemName && item.Stock > 0 {
			rows = append(rows, item)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Stock != rows[j].Stock {
			return rows[i].Stock > rows[j].Stock
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func (s *Store) combinedTotal(itemName string) int {
	total := 0
	if item, ok := s.inventory[itemName]; ok {
		total = item.Quantity
	}
	for _, row := range s.containerRowsFor(itemName) {
		total += row.Stock
	}
	return total
}

func (s *Store) appendHistory(entry domain.StockHistoryEntry) {
	s.nextHistoryID++
	entry.ID = s.nextHistoryID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.history = append(s.history, entry)
}

// seedRecon records the opening balance for today, once per item per day.
func (s *Store) seedRecon(itemName string, combined int) {
	key := reconKey(itemName, today())
	record, ok := s.recon[key]
	if !ok {
		record = &domain.ReconciliationRecord{ItemName: itemName, Date: today()}
		s.recon[key] = record
	}
	if record.OldStock == nil {
		seeded := combined
		record.OldStock = &seeded
	}
}

func (s *Store) bumpReceived(itemName string, qty int) {
	key := reconKey(itemName, today())
	record, ok := s.recon[key]
	if !ok {
		record = &domain.ReconciliationRecord{ItemName: itemName, Date: today()}
		s.recon[key] = record
	}
	record.NewStockAdded += qty
}

func (s *Store) bumpLoss(itemName, date string, delta int) {
	if date == "" {
		date = today()
	}
	key := reconKey(itemName, date)
	record, ok := s.recon[key]
	if !ok {
		record = &domain.ReconciliationRecord{ItemName: itemName, Date: date}
		s.recon[key] = record
	}
	record.LossDrawn += delta
	if record.LossDrawn < 0 {
		record.LossDrawn = 0
	}
}

type deduction struct {
	sourceID      int64
	containerName string
	oldStock      int
	newStock      int
}

// deduct drains qty from the two tiers in the configured order, container
// rows largest stock first, id ascending on ties. Caller validated that
// qty fits the combined total.
func (s *Store) deduct(itemName string, qty int) []deduction {
	remaining := qty
	deductions := make([]deduction, 0, 2)

	takeLegacy := func() {
		item, ok := s.inventory[itemName]
		if !ok || item.Quantity <= 0 || remaining <= 0 {
			return
		}
		take := remaining
		if take > item.Quantity {
			take = item.Quantity
		}
		deductions = append(deductions, deduction{oldStock: item.Quantity, newStock: item.Quantity - take})
		item.Quantity -= take
		remaining -= take
	}
	takeContainers := func() {
		for _, row := range s.containerRowsFor(itemName) {
			if remaining <= 0 {
				return
			}
			take := remaining
			if take > row.Stock {
				take = row.Stock
			}
			containerName := ""
			if container, ok := s.containers[row.ContainerID]; ok {
				containerName = container.Name
			}
			deductions = append(deductions, deduction{
				sourceID:      row.ID,
				containerName: containerName,
				oldStock:      row.Stock,
				newStock:      row.Stock - take,
			})
			row.Stock -= take
			remaining -= take
		}
	}

	if s.order == store.ContainersFirst {
		takeContainers()
		takeLegacy()
	} else {
		takeLegacy()
		takeContainers()
	}
	return deductions
}

func (s *Store) journalDeductions(itemName string, deductions []deduction, changeType, reason, actor string, saleID *int64, transactionID string) {
	for _, d := range deductions {
		s.appendHistory(domain.StockHistoryEntry{
			SourceID:      d.sourceID,
			ItemName:      itemName,
			ContainerName: d.containerName,
			OldStock:      d.oldStock,
			NewStock:      d.newStock,
			ChangeAmount:  d.newStock - d.oldStock,
			ChangeType:    changeType,
			Reason:        reason,
			Actor:         actor,
			SaleID:        saleID,
			TransactionID: transactionID,
		})
	}
}

// restoreLegacy puts qty back on the legacy tier, creating the row when the
// item only ever lived in containers.
func (s *Store) restoreLegacy(itemName string, qty int) (oldQty, newQty int) {
	item, ok := s.inventory[itemName]
	if !ok {
		item = &domain.InventoryItem{Name: itemName}
		s.inventory[itemName] = item
	}
	oldQty = item.Quantity
	item.Quantity += qty
	return oldQty, item.Quantity
}

// SeedInventory installs a legacy-tier row directly, for tests and dev setup.
func (s *Store) SeedInventory(item domain.InventoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := item
	s.inventory[item.Name] = &copied
}

func (s *Store) GetAvailability(_ context.Context, itemName string) (domain.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	avail := domain.Availability{ItemName: itemName}
	if item, ok := s.inventory[itemName]; ok {
		avail.LegacyQty = item.Quantity
	}
	for _, row := range s.containerRowsFor(itemName) {
		avail.ContainerQty += row.Stock
	}
	avail.Total = avail.LegacyQty + avail.ContainerQty
	return avail, nil
}

func (s *Store) GetInventoryItem(_ context.Context, itemName string) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inventory[itemName]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *Store) ListInventoryItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.InventoryItem, 0, len(s.inventory))
	for _, item := range s.inventory {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) ListCombinedStock(_ context.Context) ([]domain.StockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	combined := make([]domain.StockRow, 0, len(s.inventory)+len(s.containerItems))
	for _, item := range s.containerItems {
		category := ""
		if container, ok := s.containers[item.ContainerID]; ok {
			category = container.Name
		}
		combined = append(combined, domain.StockRow{ItemName: item.Name, Quantity: item.Stock, Category: category})
	}
	for _, item := range s.inventory {
		combined = append(combined, domain.StockRow{ItemName: item.Name, Quantity: item.Quantity, Category: item.Category})
	}
	sort.Slice(combined, func(i, j int) bool {
		if combined[i].Category != combined[j].Category {
			return combined[i].Category < combined[j].Category
		}
		return combined[i].ItemName < combined[j].ItemName
	})
	return combined, nil
}

func (s *Store) SetItemPrices(_ context.Context, itemName string, costCents, sellCents *int64) error {
	if costCents == nil && sellCents == nil {
		return nil
	}
	if (costCents != nil && *costCents < 0) || (sellCents != nil && *sellCents < 0) {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inventory[itemName]
	if !ok {
		return store.ErrNotFound
	}
	if costCents != nil {
		item.CostPriceCents = *costCents
	}
	if sellCents != nil {
		item.SellingPriceCents = *sellCents
	}
	return nil
}

func (s *Store) SetItemCategory(_ context.Context, itemName, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inventory[itemName]
	if !ok {
		return store.ErrNotFound
	}
	item.Category = category
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	categories := make([]string, 0, 8)
	for _, item := range s.inventory {
		if item.Category != "" && !seen[item.Category] {
			seen[item.Category] = true
			categories = append(categories, item.Category)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

func (s *Store) DeleteInventoryItem(_ context.Context, itemName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inventory[itemName]; !ok {
		return store.ErrNotFound
	}
	delete(s.inventory, itemName)
	return nil
}

func (s *Store) CreateContainer(_ context.Context, name string) (*domain.Container, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, container := range s.containers {
		if container.Name == name {
			copied := *container
			return &copied, false, nil
		}
	}
	s.nextContainerID++
	container := &domain.Container{ID: s.nextContainerID, Name: name}
	s.containers[container.ID] = container
	copied := *container
	return &copied, true, nil
}

func (s *Store) ListContainers(_ context.Context) ([]domain.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	containers := make([]domain.Container, 0, len(s.containers))
	for _, container := range s.containers {
		containers = append(containers, *container)
	}
	sort.Slice(containers, func(i, j int) bool { return containers[i].Name < containers[j].Name })
	return containers, nil
}

func (s *Store) RenameContainer(_ context.Context, id int64, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	container, ok := s.containers[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, other := range s.containers {
		if other.ID != id && other.Name == newName {
			return store.ErrDuplicateName
		}
	}
	container.Name = newName
	return nil
}

func (s *Store) DeleteContainer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	container, ok := s.containers[id]
	if !ok {
		return store.ErrNotFound
	}

	for itemID, item := range s.containerItems {
		if item.ContainerID != id {
			continue
		}
		if item.Stock != 0 {
			s.appendHistory(domain.StockHistoryEntry{
				SourceID:      item.ID,
				ItemName:      item.Name,
				ContainerName: container.Name,
				OldStock:      item.Stock,
				NewStock:      0,
				ChangeAmount:  -item.Stock,
				ChangeType:    domain.ChangeTypeAdjustment,
				Reason:        "Container deleted",
				Actor:         "system",
			})
		}
		delete(s.containerItems, itemID)
	}
	delete(s.containers, id)
	return nil
}

func (s *Store) AddOrIncrementItem(_ context.Context, containerID int64, itemName string, amount int, priceCents int64, actor string) (*domain.ContainerItem, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" || amount <= 0 || priceCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	container, ok := s.containers[containerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	for _, item := range s.containerItems {
		if item.ContainerID == containerID && item.Name == itemName {
			oldStock := item.Stock
			item.Stock += amount
			item.PriceCents = priceCents
			s.appendHistory(domain.StockHistoryEntry{
				SourceID:      item.ID,
				ItemName:      itemName,
				ContainerName: container.Name,
				OldStock:      oldStock,
				NewStock:      item.Stock,
				ChangeAmount:  amount,
				ChangeType:    domain.ChangeTypeRestock,
				Reason:        "Stock added",
				Actor:         actor,
			})
			copied := *item
			return &copied, nil
		}
	}

	s.nextItemID++
	item := &domain.ContainerItem{
		ID:          s.nextItemID,
		ContainerID: containerID,
		Name:        itemName,
		PriceCents:  priceCents,
		Stock:       amount,
	}
	s.containerItems[item.ID] = item
	s.appendHistory(domain.StockHistoryEntry{
		SourceID:      item.ID,
		ItemName:      itemName,
		ContainerName: container.Name,
		OldStock:      0,
		NewStock:      amount,
		ChangeAmount:  amount,
		ChangeType:    domain.ChangeTypeInitial,
		Reason:        "Item added",
		Actor:         actor,
	})
	copied := *item
	return &copied, nil
}

func (s *Store) ListContainerItems(_ context.Context, containerID int64, search string) ([]domain.ContainerItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.containers[containerID]; !ok {
		return nil, store.ErrNotFound
	}

	search = strings.ToLower(search)
	items := make([]domain.ContainerItem, 0, 16)
	for _, item := range s.containerItems {
		if item.ContainerID != containerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Name), search) {
			continue
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) GetContainerItem(_ context.Context, itemID int64) (*domain.ContainerItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.containerItems[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *Store) UpdateContainerItem(_ context.Context, itemID int64, priceCents *int64, stock *int, actor, reason string) (*domain.ContainerItem, error) {
	if priceCents == nil && stock == nil {
		return nil, store.ErrValidation
	}
	if (priceCents != nil && *priceCents < 0) || (stock != nil && *stock < 0) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.containerItems[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}

	oldStock := item.Stock
	if priceCents != nil {
		item.PriceCents = *priceCents
	}
	if stock != nil {
		item.Stock = *stock
	}

	if stock != nil && item.Stock != oldStock {
		if reason == "" {
			reason = "Manual adjustment"
		}
		containerName := ""
		if container, ok := s.containers[item.ContainerID]; ok {
			containerName = container.Name
		}
		changeType := domain.ChangeTypeAdjustment
		if item.Stock > oldStock {
			changeType = domain.ChangeTypeRestock
		}
		s.appendHistory(domain.StockHistoryEntry{
			SourceID:      item.ID,
			ItemName:      item.Name,
			ContainerName: containerName,
			OldStock:      oldStock,
			NewStock:      item.Stock,
			ChangeAmount:  item.Stock - oldStock,
			ChangeType:    changeType,
			Reason:        reason,
			Actor:         actor,
		})
	}
	copied := *item
	return &copied, nil
}

func (s *Store) DeleteContainerItem(_ context.Context, itemID int64, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.containerItems[itemID]
	if !ok {
		return store.ErrNotFound
	}
	if item.Stock != 0 {
		containerName := ""
		if container, ok := s.containers[item.ContainerID]; ok {
			containerName = container.Name
		}
		s.appendHistory(domain.StockHistoryEntry{
			SourceID:      item.ID,
			ItemName:      item.Name,
			ContainerName: containerName,
			OldStock:      item.Stock,
			NewStock:      0,
			ChangeAmount:  -item.Stock,
			ChangeType:    domain.ChangeTypeAdjustment,
			Reason:        "Item removed",
			Actor:         actor,
		})
	}
	delete(s.containerItems, itemID)
	return nil
}

func (s *Store) CreateSale(_ context.Context, cashier string, lines []domain.CartLine, paymentMethod, mobileRef string) (*domain.Sale, error) {
	if cashier == "" || len(lines) == 0 {
		return nil, store.ErrValidation
	}
	requested := make(map[string]int, len(lines))
	var totalCents int64
	for _, line := range lines {
		name := strings.TrimSpace(line.ItemName)
		if name == "" || line.Quantity <= 0 || line.UnitPriceCents < 0 {
			return nil, store.ErrValidation
		}
		requested[name] += line.Quantity
		totalCents += int64(line.Quantity) * line.UnitPriceCents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, qty := range requested {
		if total := s.combinedTotal(name); qty > total {
			return nil, &store.InsufficientStockError{ItemName: name, Available: total, Requested: qty}
		}
	}
	for name := range requested {
		s.seedRecon(name, s.combinedTotal(name))
	}

	s.nextSaleID++
	sale := &domain.Sale{
		ID:            s.nextSaleID,
		TransactionID: xid.NewTransactionID(),
		Cashier:       cashier,
		TotalCents:    totalCents,
		Timestamp:     time.Now().UTC(),
		Status:        domain.SaleStatusActive,
		PaymentMethod: paymentMethod,
		MobileRef:     mobileRef,
	}

	for _, line := range lines {
		name := strings.TrimSpace(line.ItemName)
		s.nextSaleItemID++
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:             s.nextSaleItemID,
			SaleID:         sale.ID,
			ItemName:       name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			SubtotalCents:  int64(line.Quantity) * line.UnitPriceCents,
		})
		deductions := s.deduct(name, line.Quantity)
		s.journalDeductions(name, deductions, domain.ChangeTypeSale,
			fmt.Sprintf("Sale %s", sale.TransactionID), cashier, &sale.ID, sale.TransactionID)
	}

	s.sales[sale.ID] = sale
	s.saleIDByTx[sale.TransactionID] = sale.ID
	copied := cloneSale(sale)
	return copied, nil
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	copied := *sale
	copied.Items = append([]domain.SaleItem(nil), sale.Items...)
	if sale.VoidedAt != nil {
		voidedAt := *sale.VoidedAt
		copied.VoidedAt = &voidedAt
	}
	return &copied
}

func (s *Store) GetSale(_ context.Context, saleID int64) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByTransactionID(_ context.Context, transactionID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saleID, ok := s.saleIDByTx[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.sales[saleID]), nil
}

func (s *Store) ListRecentSales(_ context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sales := make([]*domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].Timestamp.Equal(sales[j].Timestamp) {
			return sales[i].Timestamp.After(sales[j].Timestamp)
		}
		return sales[i].ID > sales[j].ID
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}

	result := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		result = append(result, *cloneSale(sale))
	}
	return result, nil
}

func (s *Store) VoidSale(_ context.Context, transactionID, reason, authorizedBy string) (*domain.Sale, error) {
	if transactionID == "" || reason == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saleID, ok := s.saleIDByTx[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := s.sales[saleID]
	if sale.Status != domain.SaleStatusActive {
		return nil, fmt.Errorf("%w: sale %s is %s", store.ErrStateConflict, transactionID, sale.Status)
	}

	for _, item := range sale.Items {
		oldQty, newQty := s.restoreLegacy(item.ItemName, item.Quantity)
		s.appendHistory(domain.StockHistoryEntry{
			ItemName:      item.ItemName,
			OldStock:      oldQty,
			NewStock:      newQty,
			ChangeAmount:  item.Quantity,
			ChangeType:    domain.ChangeTypeCorrection,
			Reason:        fmt.Sprintf("Sale voided: %s", reason),
			Actor:         authorizedBy,
			SaleID:        &sale.ID,
			TransactionID: transactionID,
		})
	}

	now := time.Now().UTC()
	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	sale.VoidAuthorizedBy = authorizedBy
	sale.VoidedAt = &now
	return cloneSale(sale), nil
}

func (s *Store) ListStockHistory(_ context.Context, q domain.StockHistoryQuery) ([]domain.StockHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var since time.Time
	if q.SinceDays > 0 {
		since = time.Now().UTC().AddDate(0, 0, -q.SinceDays)
	}

	entries := make([]domain.StockHistoryEntry, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		entry := s.history[i]
		if q.ItemID != nil && entry.SourceID != *q.ItemID {
			continue
		}
		if q.ChangeType != "" && entry.ChangeType != q.ChangeType {
			continue
		}
		if !since.IsZero() && entry.Timestamp.Before(since) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) SummarizeStockHistory(_ context.Context, sinceDays int) ([]domain.StockSummary, error) {
	if sinceDays <= 0 {
		sinceDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -sinceDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		sourceID int64
		itemName string
	}
	grouped := make(map[key]*domain.StockSummary)
	for _, entry := range s.history {
		if entry.Timestamp.Before(since) {
			continue
		}
		k := key{entry.SourceID, entry.ItemName}
		summary, ok := grouped[k]
		if !ok {
			summary = &domain.StockSummary{
				SourceID:      entry.SourceID,
				ItemName:      entry.ItemName,
				ContainerName: entry.ContainerName,
				MinStock:      entry.OldStock,
				MaxStock:      entry.NewStock,
			}
			grouped[k] = summary
		}
		if entry.OldStock < summary.MinStock {
			summary.MinStock = entry.OldStock
		}
		if entry.NewStock > summary.MaxStock {
			summary.MaxStock = entry.NewStock
		}
		if entry.ChangeAmount > 0 {
			summary.TotalAdded += entry.ChangeAmount
		} else {
			summary.TotalRemoved += -entry.ChangeAmount
		}
		summary.ChangeCount++
	}

	summaries := make([]domain.StockSummary, 0, len(grouped))
	for _, summary := range grouped {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].ItemName != summaries[j].ItemName {
			return summaries[i].ItemName < summaries[j].ItemName
		}
		return summaries[i].SourceID < summaries[j].SourceID
	})
	return summaries, nil
}

func (s *Store) RecordRestock(_ context.Context, itemName string, qty int, actor string) (*domain.InventoryItem, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" || qty <= 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seedRecon(itemName, s.combinedTotal(itemName))
	oldQty, newQty := s.restoreLegacy(itemName, qty)
	s.appendHistory(domain.StockHistoryEntry{
		ItemName:     itemName,
		OldStock:     oldQty,
		NewStock:     newQty,
		ChangeAmount: qty,
		ChangeType:   domain.ChangeTypeRestock,
		Reason:       "Restock",
		Actor:        actor,
	})
	s.bumpReceived(itemName, qty)

	copied := *s.inventory[itemName]
	return &copied, nil
}

func (s *Store) RecordLoss(_ context.Context, itemName string, qty int, actor string) error {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" || qty <= 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLossLocked(itemName, qty, "", actor, "")
}

// applyLossLocked draws qty from combined stock and bumps loss_drawn for
// the given date (today when empty). Caller holds s.mu.
func (s *Store) applyLossLocked(itemName string, qty int, date, actor, reason string) error {
	if total := s.combinedTotal(itemName); qty > total {
		return &store.InsufficientStockError{ItemName: itemName, Available: total, Requested: qty}
	}
	s.seedRecon(itemName, s.combinedTotal(itemName))

	journalReason := "Loss"
	if reason != "" {
		journalReason = "Loss: " + reason
	}
	deductions := s.deduct(itemName, qty)
	s.journalDeductions(itemName, deductions, domain.ChangeTypeAdjustment, journalReason, actor, nil, "")
	s.bumpLoss(itemName, date, qty)
	return nil
}

func (s *Store) ApplyReconciliation(_ context.Context, req domain.ReconciliationApplyRequest, actor string) (int, error) {
	itemName := strings.TrimSpace(req.ItemName)
	if itemName == "" || req.OldStock < 0 || req.NewReceived < 0 || req.Sold < 0 || req.LossDrawn < 0 {
		return 0, store.ErrValidation
	}
	balance := req.OldStock + req.NewReceived - req.Sold - req.LossDrawn
	if balance < 0 {
		return 0, fmt.Errorf("%w: reconciliation balance is negative (%d)", store.ErrValidation, balance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	if item, ok := s.inventory[itemName]; ok {
		current = item.Quantity
		item.Quantity = balance
	} else {
		s.inventory[itemName] = &domain.InventoryItem{Name: itemName, Quantity: balance}
	}

	s.appendHistory(domain.StockHistoryEntry{
		ItemName:     itemName,
		OldStock:     current,
		NewStock:     balance,
		ChangeAmount: balance - current,
		ChangeType:   domain.ChangeTypeCorrection,
		Reason:       "Reconciliation applied",
		Actor:        actor,
	})

	oldStock := req.OldStock
	s.recon[reconKey(itemName, today())] = &domain.ReconciliationRecord{
		ItemName:      itemName,
		Date:          today(),
		OldStock:      &oldStock,
		NewStockAdded: req.NewReceived,
		LossDrawn:     req.LossDrawn,
	}
	return balance, nil
}

func (s *Store) GetReconciliation(_ context.Context, itemName, date string) (*domain.ReconciliationRecord, error) {
	if date == "" {
		date = today()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.recon[reconKey(itemName, date)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *record
	if record.OldStock != nil {
		oldStock := *record.OldStock
		copied.OldStock = &oldStock
	}
	return &copied, nil
}

func (s *Store) ListReconciliation(_ context.Context, date string) ([]domain.ReconciliationRecord, error) {
	if date == "" {
		date = today()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]domain.ReconciliationRecord, 0, 16)
	for _, record := range s.recon {
		if record.Date != date {
			continue
		}
		copied := *record
		if record.OldStock != nil {
			oldStock := *record.OldStock
			copied.OldStock = &oldStock
		}
		records = append(records, copied)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ItemName < records[j].ItemName })
	return records, nil
}

func (s *Store) ReportLoss(_ context.Context, req domain.LossReportRequest, reportedBy string) (*domain.LossEvent, error) {
	itemName := strings.TrimSpace(req.ItemName)
	if itemName == "" || req.Quantity <= 0 {
		return nil, store.ErrValidation
	}
	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	applyNow := true
	if req.ApplyImmediately != nil {
		applyNow = *req.ApplyImmediately
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if applyNow {
		if err := s.applyLossLocked(itemName, req.Quantity, occurredAt.Format("2006-01-02"), reportedBy, req.Reason); err != nil {
			return nil, err
		}
	}

	s.nextLossID++
	event := &domain.LossEvent{
		ID:         s.nextLossID,
		ItemName:   itemName,
		Quantity:   req.Quantity,
		OccurredAt: occurredAt,
		ReportedBy: reportedBy,
		Reason:     req.Reason,
		Notes:      req.Notes,
		Status:     domain.LossStatusPending,
		CreatedAt:  time.Now().UTC(),
		Applied:    applyNow,
	}
	s.lossEvents[event.ID] = event
	copied := *event
	return &copied, nil
}

func (s *Store) ApproveLossEvent(_ context.Context, eventID int64, approver string) (*domain.LossEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.lossEvents[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	switch event.Status {
	case domain.LossStatusApproved:
		copied := *event
		return &copied, nil
	case domain.LossStatusRejected:
		return nil, fmt.Errorf("%w: loss event %d already rejected", store.ErrStateConflict, eventID)
	}

	if !event.Applied {
		if err := s.applyLossLocked(event.ItemName, event.Quantity, event.OccurredAt.Format("2006-01-02"), approver, event.Reason); err != nil {
			return nil, err
		}
		event.Applied = true
	}

	now := time.Now().UTC()
	event.Status = domain.LossStatusApproved
	event.ApprovedBy = approver
	event.ApprovedAt = &now
	copied := *event
	return &copied, nil
}

func (s *Store) RejectLossEvent(_ context.Context, eventID int64, approver string) (*domain.LossEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.lossEvents[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	switch event.Status {
	case domain.LossStatusRejected:
		copied := *event
		return &copied, nil
	case domain.LossStatusApproved:
		return nil, fmt.Errorf("%w: loss event %d already approved", store.ErrStateConflict, eventID)
	}

	if event.Applied {
		oldQty, newQty := s.restoreLegacy(event.ItemName, event.Quantity)
		s.appendHistory(domain.StockHistoryEntry{
			ItemName:     event.ItemName,
			OldStock:     oldQty,
			NewStock:     newQty,
			ChangeAmount: event.Quantity,
			ChangeType:   domain.ChangeTypeCorrection,
			Reason:       "Loss report rejected",
			Actor:        approver,
		})
		s.bumpLoss(event.ItemName, event.OccurredAt.Format("2006-01-02"), -event.Quantity)
		event.Applied = false
	}

	now := time.Now().UTC()
	event.Status = domain.LossStatusRejected
	event.ApprovedBy = approver
	event.ApprovedAt = &now
	copied := *event
	return &copied, nil
}

func (s *Store) GetLossEvent(_ context.Context, eventID int64) (*domain.LossEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.lossEvents[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *Store) ListLossEvents(_ context.Context, status string, limit int) ([]domain.LossEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]domain.LossEvent, 0, len(s.lossEvents))
	for _, event := range s.lossEvents {
		if status != "" && event.Status != status {
			continue
		}
		events = append(events, *event)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID > events[j].ID
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) DailySummary(_ context.Context, date string) (domain.DailySummary, error) {
	if date == "" {
		date = today()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	summary := domain.DailySummary{Date: date}
	itemQty := make(map[string]int)
	cashierTotals := make(map[string]int64)
	paymentCounts := make(map[string]int)
	paymentTotals := make(map[string]int64)

	for _, sale := range s.sales {
		if sale.Status != domain.SaleStatusActive || sale.Timestamp.UTC().Format("2006-01-02") != date {
			continue
		}
		summary.TotalCents += sale.TotalCents
		summary.SaleCount++
		cashierTotals[sale.Cashier] += sale.TotalCents
		paymentCounts[sale.PaymentMethod]++
		paymentTotals[sale.PaymentMethod] += sale.TotalCents
		for _, item := range sale.Items {
			itemQty[item.ItemName] += item.Quantity
		}
	}

	for name, qty := range itemQty {
		summary.TopItems = append(summary.TopItems, domain.DailySummaryItem{ItemName: name, Quantity: qty})
	}
	sort.Slice(summary.TopItems, func(i, j int) bool {
		if summary.TopItems[i].Quantity != summary.TopItems[j].Quantity {
			return summary.TopItems[i].Quantity > summary.TopItems[j].Quantity
		}
		return summary.TopItems[i].ItemName < summary.TopItems[j].ItemName
	})
	if len(summary.TopItems) > 10 {
		summary.TopItems = summary.TopItems[:10]
	}

	for cashier, total := range cashierTotals {
		summary.Cashiers = append(summary.Cashiers, domain.DailySummaryCashier{Cashier: cashier, TotalCents: total})
	}
	sort.Slice(summary.Cashiers, func(i, j int) bool {
		if summary.Cashiers[i].TotalCents != summary.Cashiers[j].TotalCents {
			return summary.Cashiers[i].TotalCents > summary.Cashiers[j].TotalCents
		}
		return summary.Cashiers[i].Cashier < summary.Cashiers[j].Cashier
	})

	for method := range paymentCounts {
		summary.ByPayment = append(summary.ByPayment, domain.DailySummaryPayment{
			PaymentMethod: method,
			Sales:         paymentCounts[method],
			TotalCents:    paymentTotals[method],
		})
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})

	return summary, nil
}

func (s *Store) WeeklySummary(_ context.Context, until time.Time) (domain.WeeklySummary, error) {
	until = until.UTC().Truncate(24 * time.Hour)
	from := until.AddDate(0, 0, -6)

	s.mu.Lock()
	defer s.mu.Unlock()

	byDate := make(map[string]int64, 7)
	for _, sale := range s.sales {
		if sale.Status != domain.SaleStatusActive {
			continue
		}
		date := sale.Timestamp.UTC().Format("2006-01-02")
		byDate[date] += sale.TotalCents
	}

	summary := domain.WeeklySummary{
		From: from.Format("2006-01-02"),
		To:   until.Format("2006-01-02"),
	}
	for day := from; !day.After(until); day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		summary.DailyTotals = append(summary.DailyTotals, domain.WeeklyTotal{Date: date, TotalCents: byDate[date]})
	}
	return summary, nil
}

func (s *Store) TotalSales(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, sale := range s.sales {
		if sale.Status == domain.SaleStatusActive {
			total += sale.TotalCents
		}
	}
	return total, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.PasswordHash == "" || user.Role == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Username]; ok {
		return store.ErrDuplicateName
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	copied := user
	s.users[user.Username] = &copied
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	entry.ID = s.nextAuditID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.audit[i]
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}
