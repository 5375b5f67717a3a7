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
)

const lossColumns = `
	id, item_name, quantity, occurred_at, reported_by, COALESCE(reason, ''),
	COALESCE(notes, ''), status, created_at, COALESCE(approved_by, ''), approved_at, applied
`

func scanLossEvent(row interface{ Scan(...any) error }) (*domain.LossEvent, error) {
	var event domain.LossEvent
	err := row.Scan(
		&event.ID, &event.ItemName, &event.Quantity, &event.OccurredAt,
		&event.ReportedBy, &event.Reason, &event.Notes, &event.Status,
		&event.CreatedAt, &event.ApprovedBy, &event.ApprovedAt, &event.Applied,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &event, nil
}

// applyLossDeduction drains the event quantity from combined stock and
// journals it, bumping loss_drawn for the day the loss occurred. Caller
// holds the transaction.
func (s *Store) applyLossDeduction(tx *sql.Tx, ctx context.Context, itemName string, qty int, occurredAt time.Time, reason, actor string) error {
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
	journalReason := "Loss"
	if reason != "" {
		journalReason = "Loss: " + reason
	}
	if err := insertDeductions(tx, ctx, deductions, domain.ChangeTypeAdjustment, journalReason, actor, nil, ""); err != nil {
		return err
	}
	return bumpLoss(tx, ctx, itemName, occurredAt.Format("2006-01-02"), qty)
}

// ReportLoss files a loss event. Unless apply_immediately is false the
// stock deduction happens right away in the same transaction; approval then
// only confirms the record. A deferred event deducts on approval instead.
func (s *Store) ReportLoss(ctx context.Context, req domain.LossReportRequest, reportedBy string) (*domain.LossEvent, error) {
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

	var event *domain.LossEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if applyNow {
			if err := s.applyLossDeduction(tx, ctx, itemName, req.Quantity, occurredAt, req.Reason, reportedBy); err != nil {
				return err
			}
		}

		result := domain.LossEvent{
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
		err := tx.QueryRowContext(ctx, `
			INSERT INTO loss_events
				(item_name, quantity, occurred_at, reported_by, reason, notes, status, created_at, applied)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, itemName, req.Quantity, occurredAt, reportedBy,
			nullIfEmpty(req.Reason), nullIfEmpty(req.Notes),
			result.Status, result.CreatedAt, applyNow).Scan(&result.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		event = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ApproveLossEvent confirms a pending loss. If the deduction was deferred it
// happens now; approving an already approved event is a no-op returning the
// stored record, approving a rejected one is a conflict.
func (s *Store) ApproveLossEvent(ctx context.Context, eventID int64, approver string) (*domain.LossEvent, error) {
	var event *domain.LossEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanLossEvent(tx.QueryRowContext(ctx,
			`SELECT `+lossColumns+` FROM loss_events WHERE id = $1 FOR UPDATE`, eventID))
		if err != nil {
			return err
		}
		switch current.Status {
		case domain.LossStatusApproved:
			event = current
			return nil
		case domain.LossStatusRejected:
			return fmt.Errorf("%w: loss event %d already rejected", store.ErrStateConflict, eventID)
		}

		if !current.Applied {
			if err := s.applyLossDeduction(tx, ctx, current.ItemName, current.Quantity, current.OccurredAt, current.Reason, approver); err != nil {
				return err
			}
			current.Applied = true
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE loss_events
			SET status = $2, approved_by = $3, approved_at = $4, applied = $5
			WHERE id = $1
		`, eventID, domain.LossStatusApproved, approver, now, current.Applied); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		current.Status = domain.LossStatusApproved
		current.ApprovedBy = approver
		current.ApprovedAt = &now
		event = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// RejectLossEvent declines a pending loss. If the deduction already ran the
// units go back on the legacy tier and the day's loss_drawn is walked back,
// floored at zero. Rejecting twice is a no-op, rejecting an approved event
// is a conflict.
func (s *Store) RejectLossEvent(ctx context.Context, eventID int64, approver string) (*domain.LossEvent, error) {
	var event *domain.LossEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanLossEvent(tx.QueryRowContext(ctx,
			`SELECT `+lossColumns+` FROM loss_events WHERE id = $1 FOR UPDATE`, eventID))
		if err != nil {
			return err
		}
		switch current.Status {
		case domain.LossStatusRejected:
			event = current
			return nil
		case domain.LossStatusApproved:
			return fmt.Errorf("%w: loss event %d already approved", store.ErrStateConflict, eventID)
		}

		if current.Applied {
			oldQty, newQty, err := restoreLegacy(tx, ctx, current.ItemName, current.Quantity)
			if err != nil {
				return err
			}
			if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
				ItemName:     current.ItemName,
				OldStock:     oldQty,
				NewStock:     newQty,
				ChangeAmount: current.Quantity,
				ChangeType:   domain.ChangeTypeCorrection,
				Reason:       "Loss report rejected",
				Actor:        approver,
			}); err != nil {
				return err
			}
			if err := bumpLoss(tx, ctx, current.ItemName, current.OccurredAt.Format("2006-01-02"), -current.Quantity); err != nil {
				return err
			}
			current.Applied = false
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE loss_events
			SET status = $2, approved_by = $3, approved_at = $4, applied = $5
			WHERE id = $1
		`, eventID, domain.LossStatusRejected, approver, now, current.Applied); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		current.Status = domain.LossStatusRejected
		current.ApprovedBy = approver
		current.ApprovedAt = &now
		event = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Store) GetLossEvent(ctx context.Context, eventID int64) (*domain.LossEvent, error) {
	return scanLossEvent(s.db.QueryRowContext(ctx,
		`SELECT `+lossColumns+` FROM loss_events WHERE id = $1`, eventID))
}

func (s *Store) ListLossEvents(ctx context.Context, status string, limit int) ([]domain.LossEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + lossColumns + ` FROM loss_events`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += ` WHERE status = $1`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	events := make([]domain.LossEvent, 0, limit)
	for rows.Next() {
		event, err := scanLossEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return events, nil
}
