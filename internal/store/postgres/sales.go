package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/xid"
)

// seedReconciliation records the pre-movement combined stock as today's
// opening balance, once per item per day. Runs under a savepoint: a failure
// here must not take the surrounding sale down with it.
func seedReconciliation(tx *sql.Tx, ctx context.Context, itemName string, combined int) {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT recon_seed`); err != nil {
		return
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO item_reconciliation (item_name, date, old_stock, new_stock_added, loss_drawn)
		VALUES ($1, CURRENT_DATE, $2, 0, 0)
		ON CONFLICT (item_name, date)
		DO UPDATE SET old_stock = COALESCE(item_reconciliation.old_stock, EXCLUDED.old_stock)
	`, itemName, combined)
	if err != nil {
		_, _ = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT recon_seed`)
		return
	}
	_, _ = tx.ExecContext(ctx, `RELEASE SAVEPOINT recon_seed`)
}

// CreateSale validates the whole cart against combined availability and,
// only if every line fits, writes the sale, its items, the stock deductions
// and their journal entries in one transaction. Any failure leaves no trace.
func (s *Store) CreateSale(ctx context.Context, cashier string, lines []domain.CartLine, paymentMethod, mobileRef string) (*domain.Sale, error) {
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

	var sale *domain.Sale
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		snapshots := make(map[string]*lockedStock, len(requested))
		for name, qty := range requested {
			locked, err := lockStock(tx, ctx, name)
			if err != nil {
				return err
			}
			if total := locked.total(); qty > total {
				return &store.InsufficientStockError{ItemName: name, Available: total, Requested: qty}
			}
			snapshots[name] = locked
		}

		for name, locked := range snapshots {
			seedReconciliation(tx, ctx, name, locked.total())
		}

		now := time.Now().UTC()
		header := domain.Sale{
			TransactionID: xid.NewTransactionID(),
			Cashier:       cashier,
			TotalCents:    totalCents,
			Timestamp:     now,
			Status:        domain.SaleStatusActive,
			PaymentMethod: paymentMethod,
			MobileRef:     mobileRef,
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO sales (transaction_id, cashier, total_cents, ts, status, payment_method, mobile_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, header.TransactionID, cashier, totalCents, now, header.Status,
			paymentMethod, nullIfEmpty(mobileRef)).Scan(&header.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		for _, line := range lines {
			name := strings.TrimSpace(line.ItemName)
			subtotal := int64(line.Quantity) * line.UnitPriceCents
			item := domain.SaleItem{
				SaleID:         header.ID,
				ItemName:       name,
				Quantity:       line.Quantity,
				UnitPriceCents: line.UnitPriceCents,
				SubtotalCents:  subtotal,
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO sale_items (sale_id, item_name, quantity, unit_price_cents, subtotal_cents)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id
			`, header.ID, name, line.Quantity, line.UnitPriceCents, subtotal).Scan(&item.ID)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrStorage, err)
			}
			header.Items = append(header.Items, item)

			deductions, err := s.deduct(tx, ctx, name, snapshots[name], line.Quantity)
			if err != nil {
				return err
			}
			if err := insertDeductions(tx, ctx, deductions, domain.ChangeTypeSale,
				fmt.Sprintf("Sale %s", header.TransactionID), cashier, &header.ID, header.TransactionID); err != nil {
				return err
			}
		}

		sale = &header
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

const saleColumns = `
	id, transaction_id, cashier, total_cents, ts, status, payment_method,
	COALESCE(mobile_ref, ''), COALESCE(void_reason, ''), COALESCE(void_authorized_by, ''), voided_at
`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID, &sale.TransactionID, &sale.Cashier, &sale.TotalCents,
		&sale.Timestamp, &sale.Status, &sale.PaymentMethod,
		&sale.MobileRef, &sale.VoidReason, &sale.VoidAuthorizedBy, &sale.VoidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, sale *domain.Sale) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, item_name, quantity, unit_price_cents, subtotal_cents
		FROM sale_items WHERE sale_id = $1 ORDER BY id
	`, sale.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ItemName, &item.Quantity, &item.UnitPriceCents, &item.SubtotalCents); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID))
	if err != nil {
		return nil, err
	}
	if err := s.loadSaleItems(ctx, sale); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) GetSaleByTransactionID(ctx context.Context, transactionID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE transaction_id = $1`, transactionID))
	if err != nil {
		return nil, err
	}
	if err := s.loadSaleItems(ctx, sale); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+saleColumns+` FROM sales ORDER BY ts DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	for i := range sales {
		if err := s.loadSaleItems(ctx, &sales[i]); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

// VoidSale flips an active sale to VOIDED and puts every sold unit back on
// the legacy tier, journaling one CORRECTION per item. Voiding twice is a
// state conflict, not a second refund.
func (s *Store) VoidSale(ctx context.Context, transactionID, reason, authorizedBy string) (*domain.Sale, error) {
	if transactionID == "" || reason == "" {
		return nil, store.ErrValidation
	}

	var sale *domain.Sale
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		header, err := scanSale(tx.QueryRowContext(ctx,
			`SELECT `+saleColumns+` FROM sales WHERE transaction_id = $1 FOR UPDATE`, transactionID))
		if err != nil {
			return err
		}
		if header.Status != domain.SaleStatusActive {
			return fmt.Errorf("%w: sale %s is %s", store.ErrStateConflict, transactionID, header.Status)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT item_name, quantity FROM sale_items WHERE sale_id = $1 ORDER BY id
		`, header.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		type voidLine struct {
			name string
			qty  int
		}
		voidLines := make([]voidLine, 0, 8)
		for rows.Next() {
			var line voidLine
			if err := rows.Scan(&line.name, &line.qty); err != nil {
				rows.Close()
				return fmt.Errorf("%w: %v", store.ErrStorage, err)
			}
			voidLines = append(voidLines, line)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		rows.Close()

		for _, line := range voidLines {
			oldQty, newQty, err := restoreLegacy(tx, ctx, line.name, line.qty)
			if err != nil {
				return err
			}
			if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
				ItemName:      line.name,
				OldStock:      oldQty,
				NewStock:      newQty,
				ChangeAmount:  line.qty,
				ChangeType:    domain.ChangeTypeCorrection,
				Reason:        fmt.Sprintf("Sale voided: %s", reason),
				Actor:         authorizedBy,
				SaleID:        &header.ID,
				TransactionID: transactionID,
			}); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE sales
			SET status = $2, void_reason = $3, void_authorized_by = $4, voided_at = $5
			WHERE id = $1
		`, header.ID, domain.SaleStatusVoided, reason, authorizedBy, now); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		header.Status = domain.SaleStatusVoided
		header.VoidReason = reason
		header.VoidAuthorizedBy = authorizedBy
		header.VoidedAt = &now
		sale = header
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.loadSaleItems(ctx, sale); err != nil {
		return nil, err
	}
	return sale, nil
}
