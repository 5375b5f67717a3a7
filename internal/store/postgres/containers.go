package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
)

// CreateContainer inserts a container, or returns the existing one when the
// name is already taken. The boolean reports whether a row was created.
func (s *Store) CreateContainer(ctx context.Context, name string) (*domain.Container, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, store.ErrValidation
	}

	var container domain.Container
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO containers (name) VALUES ($1) RETURNING id, name
	`, name).Scan(&container.ID, &container.Name)
	if err == nil {
		return &container, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT id, name FROM containers WHERE name = $1
	`, name).Scan(&container.ID, &container.Name)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &container, false, nil
}

func (s *Store) ListContainers(ctx context.Context) ([]domain.Container, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM containers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	containers := make([]domain.Container, 0, 16)
	for rows.Next() {
		var container domain.Container
		if err := rows.Scan(&container.ID, &container.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		containers = append(containers, container)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return containers, nil
}

func (s *Store) RenameContainer(ctx context.Context, id int64, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `UPDATE containers SET name = $2 WHERE id = $1`, id, newName)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateName
		}
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

// DeleteContainer removes a container and its items. Every item that still
// held stock gets a closing journal entry so the trail accounts for the
// disappearance.
func (s *Store) DeleteContainer(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var containerName string
		err := tx.QueryRowContext(ctx, `
			SELECT name FROM containers WHERE id = $1 FOR UPDATE
		`, id).Scan(&containerName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, name, stock FROM container_items
			WHERE container_id = $1 FOR UPDATE
		`, id)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		items := make([]domain.ContainerItem, 0, 16)
		for rows.Next() {
			var item domain.ContainerItem
			if err := rows.Scan(&item.ID, &item.Name, &item.Stock); err != nil {
				rows.Close()
				return fmt.Errorf("%w: %v", store.ErrStorage, err)
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		rows.Close()

		for _, item := range items {
			if item.Stock == 0 {
				continue
			}
			err := insertHistory(tx, ctx, domain.StockHistoryEntry{
				SourceID:      item.ID,
				ItemName:      item.Name,
				ContainerName: containerName,
				OldStock:      item.Stock,
				NewStock:      0,
				ChangeAmount:  -item.Stock,
				ChangeType:    domain.ChangeTypeAdjustment,
				Reason:        "Container deleted",
				Actor:         "system",
			})
			if err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM container_items WHERE container_id = $1`, id); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM containers WHERE id = $1`, id); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		return nil
	})
}

// AddOrIncrementItem creates a container item or, when the name already
// exists in that container, adds to its stock and overwrites the price.
// The journal records INITIAL for a new row, RESTOCK for a merge.
func (s *Store) AddOrIncrementItem(ctx context.Context, containerID int64, itemName string, amount int, priceCents int64, actor string) (*domain.ContainerItem, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" || amount <= 0 || priceCents < 0 {
		return nil, store.ErrValidation
	}

	var result *domain.ContainerItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var containerName string
		err := tx.QueryRowContext(ctx, `
			SELECT name FROM containers WHERE id = $1 FOR UPDATE
		`, containerID).Scan(&containerName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		item := domain.ContainerItem{ContainerID: containerID, Name: itemName, PriceCents: priceCents}
		var oldStock int
		err = tx.QueryRowContext(ctx, `
			SELECT id, stock FROM container_items
			WHERE container_id = $1 AND name = $2 FOR UPDATE
		`, containerID, itemName).Scan(&item.ID, &oldStock)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = tx.QueryRowContext(ctx, `
				INSERT INTO container_items (container_id, name, price_cents, stock)
				VALUES ($1, $2, $3, $4) RETURNING id
			`, containerID, itemName, priceCents, amount).Scan(&item.ID)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrStorage, err)
			}
			item.Stock = amount
			if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
				SourceID:      item.ID,
				ItemName:      itemName,
				ContainerName: containerName,
				OldStock:      0,
				NewStock:      amount,
				ChangeAmount:  amount,
				ChangeType:    domain.ChangeTypeInitial,
				Reason:        "Item added",
				Actor:         actor,
			}); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		default:
			item.Stock = oldStock + amount
			if _, err := tx.ExecContext(ctx, `
				UPDATE container_items SET stock = $2, price_cents = $3 WHERE id = $1
			`, item.ID, item.Stock, priceCents); err != nil {
				return fmt.Errorf("%w: %v", store.ErrStorage, err)
			}
			if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
				SourceID:      item.ID,
				ItemName:      itemName,
				ContainerName: containerName,
				OldStock:      oldStock,
				NewStock:      item.Stock,
				ChangeAmount:  amount,
				ChangeType:    domain.ChangeTypeRestock,
				Reason:        "Stock added",
				Actor:         actor,
			}); err != nil {
				return err
			}
		}

		result = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListContainerItems(ctx context.Context, containerID int64, search string) ([]domain.ContainerItem, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM containers WHERE id = $1)
	`, containerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	query := `
		SELECT id, container_id, name, price_cents, stock
		FROM container_items
		WHERE container_id = $1
	`
	args := []any{containerID}
	if search != "" {
		query += ` AND name ILIKE '%' || $2 || '%'`
		args = append(args, search)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	items := make([]domain.ContainerItem, 0, 32)
	for rows.Next() {
		var item domain.ContainerItem
		if err := rows.Scan(&item.ID, &item.ContainerID, &item.Name, &item.PriceCents, &item.Stock); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return items, nil
}

func (s *Store) GetContainerItem(ctx context.Context, itemID int64) (*domain.ContainerItem, error) {
	var item domain.ContainerItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, container_id, name, price_cents, stock
		FROM container_items WHERE id = $1
	`, itemID).Scan(&item.ID, &item.ContainerID, &item.Name, &item.PriceCents, &item.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return &item, nil
}

// UpdateContainerItem patches price and/or stock. A stock change lands in
// the journal carrying the caller's reason: RESTOCK when the count went up,
// ADJUSTMENT when it went down.
func (s *Store) UpdateContainerItem(ctx context.Context, itemID int64, priceCents *int64, stock *int, actor, reason string) (*domain.ContainerItem, error) {
	if priceCents == nil && stock == nil {
		return nil, store.ErrValidation
	}
	if priceCents != nil && *priceCents < 0 {
		return nil, store.ErrValidation
	}
	if stock != nil && *stock < 0 {
		return nil, store.ErrValidation
	}

	var result *domain.ContainerItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var item domain.ContainerItem
		var containerName string
		err := tx.QueryRowContext(ctx, `
			SELECT ci.id, ci.container_id, ci.name, ci.price_cents, ci.stock, c.name
			FROM container_items ci
			JOIN containers c ON c.id = ci.container_id
			WHERE ci.id = $1
			FOR UPDATE OF ci
		`, itemID).Scan(&item.ID, &item.ContainerID, &item.Name, &item.PriceCents, &item.Stock, &containerName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		oldStock := item.Stock
		if priceCents != nil {
			item.PriceCents = *priceCents
		}
		if stock != nil {
			item.Stock = *stock
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE container_items SET price_cents = $2, stock = $3 WHERE id = $1
		`, item.ID, item.PriceCents, item.Stock); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		if stock != nil && item.Stock != oldStock {
			if reason == "" {
				reason = "Manual adjustment"
			}
			changeType := domain.ChangeTypeAdjustment
			if item.Stock > oldStock {
				changeType = domain.ChangeTypeRestock
			}
			if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
				SourceID:      item.ID,
				ItemName:      item.Name,
				ContainerName: containerName,
				OldStock:      oldStock,
				NewStock:      item.Stock,
				ChangeAmount:  item.Stock - oldStock,
				ChangeType:    changeType,
				Reason:        reason,
				Actor:         actor,
			}); err != nil {
				return err
			}
		}

		result = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteContainerItem removes the row after journaling its stock down to
// zero, so the trail explains where the units went.
func (s *Store) DeleteContainerItem(ctx context.Context, itemID int64, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var item domain.ContainerItem
		var containerName string
		err := tx.QueryRowContext(ctx, `
			SELECT ci.id, ci.name, ci.stock, c.name
			FROM container_items ci
			JOIN containers c ON c.id = ci.container_id
			WHERE ci.id = $1
			FOR UPDATE OF ci
		`, itemID).Scan(&item.ID, &item.Name, &item.Stock, &containerName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}

		if item.Stock != 0 {
			if err := insertHistory(tx, ctx, domain.StockHistoryEntry{
				SourceID:      item.ID,
				ItemName:      item.Name,
				ContainerName: containerName,
				OldStock:      item.Stock,
				NewStock:      0,
				ChangeAmount:  -item.Stock,
				ChangeType:    domain.ChangeTypeAdjustment,
				Reason:        "Item removed",
				Actor:         actor,
			}); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM container_items WHERE id = $1`, itemID); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		return nil
	})
}
