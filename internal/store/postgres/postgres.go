package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
)

const (
	maxTxAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

type Store struct {
	db    *sql.DB
	order store.DeductionOrder
}

func New(ctx context.Context, databaseURL string, order store.DeductionOrder) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, order: order}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside one serializable transaction, retrying serialization
// and lock-contention failures with linear backoff before surfacing
// ErrStorage. Business-rule errors abort immediately and are returned as-is;
// a retried attempt always re-validates from scratch because fn restarts.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if attempt < maxTxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * retryBaseDelay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", store.ErrStorage, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%w: %v", store.ErrStorage, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isRetryablePg(err) {
			return err
		}
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrDuplicateName) ||
		errors.Is(err, store.ErrStateConflict) {
		return false
	}
	return isRetryablePg(err)
}

func isRetryablePg(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03": // serialization failure, deadlock, lock not available
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) GetAvailability(ctx context.Context, itemName string) (domain.Availability, error) {
	avail := domain.Availability{ItemName: itemName}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT quantity FROM inventory WHERE item_name = $1), 0),
			COALESCE((SELECT SUM(stock) FROM container_items WHERE name = $1), 0)
	`, itemName).Scan(&avail.LegacyQty, &avail.ContainerQty)
	if err != nil {
		return domain.Availability{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	avail.Total = avail.LegacyQty + avail.ContainerQty
	return avail, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, itemName string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, `
		SELECT item_name, quantity, cost_price_cents, selling_price_cents, category
		FROM inventory
		WHERE item_name = $1
	`, itemName).Scan(&item.Name, &item.Quantity, &item.CostPriceCents, &item.SellingPriceCents, &item.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &item, nil
}

func (s *Store) ListInventoryItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_name, quantity, cost_price_cents, selling_price_cents, category
		FROM inventory
		ORDER BY item_name
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.Name, &item.Quantity, &item.CostPriceCents, &item.SellingPriceCents, &item.Category); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return items, nil
}

// ListCombinedStock flattens both tiers: container items come first with
// their container name as the category, then legacy rows.
func (s *Store) ListCombinedStock(ctx context.Context) ([]domain.StockRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.name, ci.stock, c.name
		FROM container_items ci
		JOIN containers c ON c.id = ci.container_id
		UNION ALL
		SELECT item_name, quantity, category FROM inventory
		ORDER BY 3, 1
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	combined := make([]domain.StockRow, 0, 128)
	for rows.Next() {
		var row domain.StockRow
		if err := rows.Scan(&row.ItemName, &row.Quantity, &row.Category); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		combined = append(combined, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return combined, nil
}

func (s *Store) SetItemPrices(ctx context.Context, itemName string, costCents, sellCents *int64) error {
	if costCents == nil && sellCents == nil {
		return nil
	}
	parts := make([]string, 0, 2)
	args := []any{itemName}
	if costCents != nil {
		if *costCents < 0 {
			return store.ErrValidation
		}
		args = append(args, *costCents)
		parts = append(parts, fmt.Sprintf("cost_price_cents = $%d", len(args)))
	}
	if sellCents != nil {
		if *sellCents < 0 {
			return store.ErrValidation
		}
		args = append(args, *sellCents)
		parts = append(parts, fmt.Sprintf("selling_price_cents = $%d", len(args)))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE inventory SET `+strings.Join(parts, ", ")+` WHERE item_name = $1`, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetItemCategory(ctx context.Context, itemName, category string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory SET category = $2 WHERE item_name = $1
	`, itemName, category)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category FROM inventory
		WHERE category IS NOT NULL AND category <> ''
		ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	categories := make([]string, 0, 16)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return categories, nil
}

// DeleteInventoryItem clears the legacy row. History entries referencing the
// item survive; they are the audit trail, not a foreign key.
func (s *Store) DeleteInventoryItem(ctx context.Context, itemName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory WHERE item_name = $1`, itemName)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// lockedStock is the snapshot of one item name across both tiers, read with
// row locks held so validation and deduction cannot race another writer.
type lockedStock struct {
	legacyQty     int
	legacyExists  bool
	containerRows []lockedContainerRow
}

type lockedContainerRow struct {
	id            int64
	containerName string
	stock         int
}

func (l *lockedStock) total() int {
	sum := l.legacyQty
	for _, row := range l.containerRows {
		sum += row.stock
	}
	return sum
}

// lockStock reads and locks every stock row for the given item name inside
// the current transaction. Container rows come back largest stock first,
// id ascending on ties, which fixes the deduction spread order.
func lockStock(tx *sql.Tx, ctx context.Context, itemName string) (*lockedStock, error) {
	locked := &lockedStock{}

	err := tx.QueryRowContext(ctx, `
		SELECT quantity FROM inventory WHERE item_name = $1 FOR UPDATE
	`, itemName).Scan(&locked.legacyQty)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	locked.legacyExists = err == nil

	rows, err := tx.QueryContext(ctx, `
		SELECT ci.id, ci.stock, c.name
		FROM container_items ci
		JOIN containers c ON c.id = ci.container_id
		WHERE ci.name = $1 AND ci.stock > 0
		ORDER BY ci.stock DESC, ci.id ASC
		FOR UPDATE OF ci
	`, itemName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var row lockedContainerRow
		if err := rows.Scan(&row.id, &row.stock, &row.containerName); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		locked.containerRows = append(locked.containerRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return locked, nil
}

// deduction describes one applied stock decrease, used to emit the paired
// history entry.
type deduction struct {
	sourceID      int64 // 0 for the legacy tier
	itemName      string
	containerName string
	oldStock      int
	newStock      int
}

// deduct drains amount from the locked snapshot, legacy tier first unless
// the store is configured containers-first, spreading across container rows
// as needed. The caller must have validated amount <= locked.total().
func (s *Store) deduct(tx *sql.Tx, ctx context.Context, itemName string, locked *lockedStock, amount int) ([]deduction, error) {
	remaining := amount
	deductions := make([]deduction, 0, 2)

	takeLegacy := func() error {
		if remaining <= 0 || locked.legacyQty <= 0 {
			return nil
		}
		take := remaining
		if take > locked.legacyQty {
			take = locked.legacyQty
		}
		newQty := locked.legacyQty - take
		if _, err := tx.ExecContext(ctx, `
			UPDATE inventory SET quantity = $2 WHERE item_name = $1
		`, itemName, newQty); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		deductions = append(deductions, deduction{itemName: itemName, oldStock: locked.legacyQty, newStock: newQty})
		locked.legacyQty = newQty
		remaining -= take
		return nil
	}

	takeContainers := func() error {
		for i := range locked.containerRows {
			if remaining <= 0 {
				break
			}
			row := &locked.containerRows[i]
			if row.stock <= 0 {
				continue
			}
			take := remaining
			if take > row.stock {
				take = row.stock
			}
			newStock := row.stock - take
			if _, err := tx.ExecContext(ctx, `
				UPDATE container_items SET stock = $2 WHERE id = $1
			`, row.id, newStock); err != nil {
				return fmt.Errorf("%w: %v", store.ErrStorage, err)
			}
			deductions = append(deductions, deduction{
				sourceID:      row.id,
				itemName:      itemName,
				containerName: row.containerName,
				oldStock:      row.stock,
				newStock:      newStock,
			})
			row.stock = newStock
			remaining -= take
		}
		return nil
	}

	var err error
	if s.order == store.ContainersFirst {
		if err = takeContainers(); err == nil {
			err = takeLegacy()
		}
	} else {
		if err = takeLegacy(); err == nil {
			err = takeContainers()
		}
	}
	if err != nil {
		return nil, err
	}

	if remaining > 0 {
		// Unreachable when the caller validated against the same snapshot.
		return nil, &store.InsufficientStockError{ItemName: itemName, Available: amount - remaining, Requested: amount}
	}
	return deductions, nil
}

// restoreLegacy puts qty back on the legacy tier, creating the row if the
// item only ever lived in containers. Used by void and loss compensation.
func restoreLegacy(tx *sql.Tx, ctx context.Context, itemName string, qty int) (oldQty, newQty int, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT quantity FROM inventory WHERE item_name = $1 FOR UPDATE
	`, itemName).Scan(&oldQty)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	exists := err == nil
	newQty = oldQty + qty

	if exists {
		_, err = tx.ExecContext(ctx, `UPDATE inventory SET quantity = $2 WHERE item_name = $1`, itemName, newQty)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory (item_name, quantity, cost_price_cents, selling_price_cents, category)
			VALUES ($1, $2, 0, 0, '')
		`, itemName, newQty)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return oldQty, newQty, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
