package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
)

func bumpReceived(tx *sql.Tx, ctx context.Context, itemName string, qty int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO item_reconciliation (item_name, date, old_stock, new_stock_added, loss_drawn)
		VALUES ($1, CURRENT_DATE, NULL, $2, 0)
		ON CONFLICT (item_name, date)
		DO UPDATE SET new_stock_added = item_reconciliation.new_stock_added + EXCLUDED.new_stock_added
	`, itemName, qty)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

// bumpLoss moves the loss_drawn accumulator by delta, clamping at zero so a
// rejection can never drive the day's figure negative.
func bumpLoss(tx *sql.Tx, ctx context.Context, itemName string, date string, delta int) error {
	dateExpr := "CURRENT_DATE"
	args := []any{itemName, delta}
	if date != "" {
		args = append(args, date)
		dateExpr = "$3::date"
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO item_reconciliation (item_name, date, old_stock, new_stock_added, loss_drawn)
		VALUES ($1, %s, NULL, 0, GREATEST($2, 0))
		ON CONFLICT (item_name, date)
		DO UPDATE SET loss_drawn = GREATEST(item_reconciliation.loss_drawn + $2, 0)
	`, dateExpr), args...)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

// RecordRestock adds qty to the legacy tier, creating the row on first
// restock, and bumps today's new_stock_added accumulator.
func (s *Store) RecordRestock(ctx context.Context, itemName string, qty int, actor string) (*domain.InventoryItem, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" || qty <= 0 {
		return nil, store.ErrValidation
	}

	var result *domain.InventoryItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		locked, err := lockStock(tx, ctx, itemName)
		if err != nil {
			return err
		}
		seedReconciliation(tx, ctx, itemName, locked.total())

		oldQty, newQty, err := restoreLegacy(tx, ctx, itemName, qty)
		if err != nil {
			return err
		}
		if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
			ItemName:     itemName,
			OldStock:     oldQty,
			NewStock:     newQty,
			ChangeAmount: qty,
			ChangeType:   domain.ChangeTypeRestock,
			Reason:       "Restock",
			Actor:        actor,
		}); err != nil {
			return err
		}
		if err := bumpReceived(tx, ctx, itemName, qty); err != nil {
			return err
		}

		item := domain.InventoryItem{Name: itemName, Quantity: newQty}
		err = tx.QueryRowContext(ctx, `
			SELECT cost_price_cents, selling_price_cents, category
			FROM inventory WHERE item_name = $1
		`, itemName).Scan(&item.CostPriceCents, &item.SellingPriceCents, &item.Category)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		result = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordLoss draws qty down from combined stock, same spread as a sale, and
// bumps today's loss_drawn accumulator.
func (s *Store) RecordLoss(ctx context.Context, itemName string, qty int, actor string) error {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" || qty <= 0 {
		return store.ErrValidation
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		locked, err := lockStock(tx, ctx, itemName)
		if err != nil {
			return err
		}
		if total := locked.total(); qty > total {
			return &store.InsufficientStockError{ItemName: itemName, Available: total, Requested: qty}
		}
		seedReconciliation(tx, ctx, itemName, locked.total())

		deductions, err := s.deduct(tx, ctx, itemName, locked, qty)
		if err != nil {
			return err
		}
		if err := insertDeductions(tx, ctx, deductions, domain.ChangeTypeAdjustment, "Loss", actor, nil, ""); err != nil {
			return err
		}
		return bumpLoss(tx, ctx, itemName, "", qty)
	})
}

// ApplyReconciliation takes the operator's counted figures, computes
// balance = old + received - sold - loss, and commits that balance as the
// legacy-tier stock level. Container rows are left alone; a physical count
// of container stock is edited through the container endpoints.
func (s *Store) ApplyReconciliation(ctx context.Context, req domain.ReconciliationApplyRequest, actor string) (int, error) {
	itemName := strings.TrimSpace(req.ItemName)
	if itemName == "" || req.OldStock < 0 || req.NewReceived < 0 || req.Sold < 0 || req.LossDrawn < 0 {
		return 0, store.ErrValidation
	}
	balance := req.OldStock + req.NewReceived - req.Sold - req.LossDrawn
	if balance < 0 {
		return 0, fmt.Errorf("%w: reconciliation balance is negative (%d)", store.ErrValidation, balance)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx, `
			SELECT quantity FROM inventory WHERE item_name = $1 FOR UPDATE
		`, itemName).Scan(&current)
		exists := err == nil
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		if exists {
			_, err = tx.ExecContext(ctx, `UPDATE inventory SET quantity = $2 WHERE item_name = $1`, itemName, balance)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO inventory (item_name, quantity, cost_price_cents, selling_price_cents, category)
				VALUES ($1, $2, 0, 0, '')
			`, itemName, balance)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
			ItemName:     itemName,
			OldStock:     current,
			NewStock:     balance,
			ChangeAmount: balance - current,
			ChangeType:   domain.ChangeTypeCorrection,
			Reason:       "Reconciliation applied",
			Actor:        actor,
		}); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO item_reconciliation (item_name, date, old_stock, new_stock_added, loss_drawn)
			VALUES ($1, CURRENT_DATE, $2, $3, $4)
			ON CONFLICT (item_name, date)
			DO UPDATE SET old_stock = EXCLUDED.old_stock,
			              new_stock_added = EXCLUDED.new_stock_added,
			              loss_drawn = EXCLUDED.loss_drawn
		`, itemName, req.OldStock, req.NewReceived, req.LossDrawn)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) GetReconciliation(ctx context.Context, itemName, date string) (*domain.ReconciliationRecord, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	var record domain.ReconciliationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT item_name, to_char(date, 'YYYY-MM-DD'), old_stock, new_stock_added, loss_drawn
		FROM item_reconciliation
		WHERE item_name = $1 AND date = $2::date
	`, itemName, date).Scan(&record.ItemName, &record.Date, &record.OldStock, &record.NewStockAdded, &record.LossDrawn)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &record, nil
}

func (s *Store) ListReconciliation(ctx context.Context, date string) ([]domain.ReconciliationRecord, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_name, to_char(date, 'YYYY-MM-DD'), old_stock, new_stock_added, loss_drawn
		FROM item_reconciliation
		WHERE date = $1::date
		ORDER BY item_name
	`, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	records := make([]domain.ReconciliationRecord, 0, 32)
	for rows.Next() {
		var record domain.ReconciliationRecord
		if err := rows.Scan(&record.ItemName, &record.Date, &record.OldStock, &record.NewStockAdded, &record.LossDrawn); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return records, nil
}
