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

// insertHistory appends one journal row inside the caller's transaction.
// The journal is append-only; nothing in the store updates or deletes rows.
func insertHistory(tx *sql.Tx, ctx context.Context, entry domain.StockHistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_history
			(source_id, item_name, container_name, old_stock, new_stock,
			 change_amount, change_type, reason, actor, ts, sale_id, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		entry.SourceID, entry.ItemName, nullIfEmpty(entry.ContainerName),
		entry.OldStock, entry.NewStock, entry.ChangeAmount, entry.ChangeType,
		nullIfEmpty(entry.Reason), entry.Actor, entry.Timestamp,
		entry.SaleID, nullIfEmpty(entry.TransactionID),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return nil
}

// insertDeductions turns the result of a deduct call into journal rows, one
// per touched stock row, sharing the change type, reason and sale linkage.
func insertDeductions(tx *sql.Tx, ctx context.Context, deductions []deduction, changeType, reason, actor string, saleID *int64, transactionID string) error {
	now := time.Now().UTC()
	for _, d := range deductions {
		entry := domain.StockHistoryEntry{
			SourceID:      d.sourceID,
			ItemName:      d.itemName,
			ContainerName: d.containerName,
			OldStock:      d.oldStock,
			NewStock:      d.newStock,
			ChangeAmount:  d.newStock - d.oldStock,
			ChangeType:    changeType,
			Reason:        reason,
			Actor:         actor,
			Timestamp:     now,
			SaleID:        saleID,
			TransactionID: transactionID,
		}
		if err := insertHistory(tx, ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListStockHistory(ctx context.Context, q domain.StockHistoryQuery) ([]domain.StockHistoryEntry, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if q.ItemID != nil {
		args = append(args, *q.ItemID)
		conditions = append(conditions, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if q.ChangeType != "" {
		args = append(args, q.ChangeType)
		conditions = append(conditions, fmt.Sprintf("change_type = $%d", len(args)))
	}
	if q.SinceDays > 0 {
		args = append(args, time.Now().UTC().AddDate(0, 0, -q.SinceDays))
		conditions = append(conditions, fmt.Sprintf("ts >= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, source_id, item_name, COALESCE(container_name, ''),
		       old_stock, new_stock, change_amount, change_type,
		       COALESCE(reason, ''), actor, ts, sale_id, COALESCE(transaction_id, '')
		FROM stock_history
		%s
		ORDER BY ts DESC, id DESC
		LIMIT 1000
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	entries := make([]domain.StockHistoryEntry, 0, 64)
	for rows.Next() {
		var entry domain.StockHistoryEntry
		if err := rows.Scan(
			&entry.ID, &entry.SourceID, &entry.ItemName, &entry.ContainerName,
			&entry.OldStock, &entry.NewStock, &entry.ChangeAmount, &entry.ChangeType,
			&entry.Reason, &entry.Actor, &entry.Timestamp, &entry.SaleID, &entry.TransactionID,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return entries, nil
}

func (s *Store) SummarizeStockHistory(ctx context.Context, sinceDays int) ([]domain.StockSummary, error) {
	if sinceDays <= 0 {
		sinceDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -sinceDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, item_name, COALESCE(container_name, ''),
		       MIN(old_stock), MAX(new_stock),
		       COALESCE(SUM(CASE WHEN change_amount > 0 THEN change_amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN change_amount < 0 THEN -change_amount ELSE 0 END), 0),
		       COUNT(*)
		FROM stock_history
		WHERE ts >= $1
		GROUP BY source_id, item_name, container_name
		ORDER BY item_name, source_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	summaries := make([]domain.StockSummary, 0, 32)
	for rows.Next() {
		var summary domain.StockSummary
		if err := rows.Scan(
			&summary.SourceID, &summary.ItemName, &summary.ContainerName,
			&summary.MinStock, &summary.MaxStock,
			&summary.TotalAdded, &summary.TotalRemoved, &summary.ChangeCount,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return summaries, nil
}
